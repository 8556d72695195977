package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(raw) != "v1" {
		t.Errorf("expected v1, got %s", raw)
	}

	ok, err = s.Exists(ctx, "k1")
	if err != nil || !ok {
		t.Errorf("expected k1 to exist: ok=%v err=%v", ok, err)
	}

	deleted, err := s.Delete(ctx, "k1")
	if err != nil || !deleted {
		t.Errorf("expected delete to report true: %v %v", deleted, err)
	}

	_, ok, _ = s.Get(ctx, "k1")
	if ok {
		t.Error("expected k1 to be gone after delete")
	}

	deleted, _ = s.Delete(ctx, "k1")
	if deleted {
		t.Error("expected delete of missing key to report false")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected k before expiry")
	}

	// Reads at or past expiry behave as absent and lazily evict.
	now = now.Add(time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected k to be expired")
	}
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Error("expected Exists to report false past expiry")
	}

	s.mu.RLock()
	_, present := s.entries["k"]
	s.mu.RUnlock()
	if present {
		t.Error("expected expired entry to be evicted")
	}
}

func TestGetSetJSON(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := SetJSON(ctx, s, "p", payload{Name: "a", Count: 3}, 0); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var out payload
	ok, err := GetJSON(ctx, s, "p", &out)
	if err != nil || !ok {
		t.Fatalf("GetJSON failed: ok=%v err=%v", ok, err)
	}
	if out.Name != "a" || out.Count != 3 {
		t.Errorf("round trip mismatch: %+v", out)
	}

	ok, err = GetJSON(ctx, s, "missing", &out)
	if err != nil || ok {
		t.Errorf("expected absent for missing key: ok=%v err=%v", ok, err)
	}
}

func TestGormStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	s, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to create gorm store: %v", err)
	}
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(raw) != "v" {
		t.Fatalf("Get mismatch: %s ok=%v err=%v", raw, ok, err)
	}

	// Overwrite via upsert
	if err := s.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}
	raw, _, _ = s.Get(ctx, "k")
	if string(raw) != "v2" {
		t.Errorf("expected v2 after overwrite, got %s", raw)
	}

	// Expiry
	now := time.Now()
	s.now = func() time.Time { return now }
	if err := s.Set(ctx, "tmp", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set with ttl failed: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "tmp"); ok {
		t.Error("expected tmp to be expired")
	}

	deleted, err := s.Delete(ctx, "k")
	if err != nil || !deleted {
		t.Errorf("expected delete to succeed: %v %v", deleted, err)
	}
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Error("expected k gone after delete")
	}
}

package password

import (
	"context"
	"errors"
	"testing"

	"github.com/getveridian/veridian/store"
	"github.com/getveridian/veridian/token"
)

func newTestProvider() *Provider {
	// Minimum cost keeps the tests fast.
	return New(store.NewMemoryStore(), token.NewMinter("test-secret"), NewHasher(4), nil)
}

func TestEnrollAndAuthenticate(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.Enroll(ctx, "alice", "u1", "s3cret"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	result, err := p.Authenticate(ctx, map[string]any{"username": "alice", "password": "s3cret"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if !result.Success || result.UserID != "u1" || result.Token == "" {
		t.Fatalf("expected successful login with token, got %+v", result)
	}

	verify, err := p.Verify(ctx, result.Token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !verify.Valid || verify.UserID != "u1" {
		t.Errorf("expected valid token for u1, got %+v", verify)
	}
}

func TestEnrollDuplicate(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.Enroll(ctx, "alice", "u1", "s3cret"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if err := p.Enroll(ctx, "alice", "u2", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.Enroll(ctx, "alice", "u1", "s3cret"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	cases := []struct {
		name string
		bag  map[string]any
	}{
		{"wrong password", map[string]any{"username": "alice", "password": "nope"}},
		{"unknown user", map[string]any{"username": "bob", "password": "s3cret"}},
		{"missing fields", map[string]any{"username": "alice"}},
	}

	for _, tc := range cases {
		result, err := p.Authenticate(ctx, tc.bag)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if result.Success {
			t.Errorf("%s: expected rejection", tc.name)
		}
		if result.Error == "" {
			t.Errorf("%s: expected a safe error reason", tc.name)
		}
	}
}

func TestChangePassword(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	if err := p.Enroll(ctx, "alice", "u1", "old-pass"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	result, err := p.ChangePassword(ctx, "alice", "wrong", "new-pass")
	if err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected rejection with wrong old password")
	}

	result, err = p.ChangePassword(ctx, "alice", "old-pass", "new-pass")
	if err != nil || !result.Success {
		t.Fatalf("expected password change to succeed: %+v %v", result, err)
	}

	login, err := p.Authenticate(ctx, map[string]any{"username": "alice", "password": "old-pass"})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if login.Success {
		t.Error("old password must stop working after change")
	}

	login, err = p.Authenticate(ctx, map[string]any{"username": "alice", "password": "new-pass"})
	if err != nil || !login.Success {
		t.Fatalf("expected new password to work: %+v %v", login, err)
	}
}

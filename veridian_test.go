package veridian

import (
	"context"
	"testing"

	"github.com/getveridian/veridian/audit"
	"github.com/getveridian/veridian/config"
	"github.com/getveridian/veridian/identity"
	"github.com/getveridian/veridian/passkey"
	"github.com/getveridian/veridian/password"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:        "memory",
		TokenSecret:         "test-secret",
		RPID:                "localhost",
		RPDisplayName:       "Veridian Test",
		RPOrigin:            "http://localhost:8080",
		ChallengeTTLSeconds: 60,
	}
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	eng, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	if err := eng.InitializePlugins(ctx, nil); err != nil {
		t.Fatalf("plugin initialization failed: %v", err)
	}

	names := map[string]bool{}
	for _, p := range eng.Plugins.AuthPlugins() {
		names[p.Name()] = true
	}
	if !names[passkey.PluginName] || !names[password.PluginName] {
		t.Errorf("expected passkey and password providers installed, got %v", names)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = "etcd"

	if _, err := OpenStore(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestAuthenticateUnknownProvider(t *testing.T) {
	ctx := context.Background()
	eng, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	if _, err := eng.Authenticate(ctx, "smoke-signals", nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestEngineAuthenticateAndVerify(t *testing.T) {
	ctx := context.Background()
	eng, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	// Enroll a password user directly against the shared store.
	pw := password.New(eng.Store, eng.Tokens, password.NewHasher(4), nil)
	if err := pw.Enroll(ctx, "alice", "u1", "s3cret"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	result, err := eng.Authenticate(ctx, password.PluginName, map[string]any{
		"username": "alice", "password": "s3cret",
	})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if !result.Success || result.UserID != "u1" {
		t.Fatalf("expected successful login, got %+v", result)
	}

	verify, err := eng.Verify(ctx, password.PluginName, result.Token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !verify.Valid || verify.UserID != "u1" {
		t.Errorf("expected valid session, got %+v", verify)
	}

	verify, err = eng.Verify(ctx, password.PluginName, "not-a-token")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if verify.Valid {
		t.Error("expected malformed token to be rejected")
	}
}

func TestEngineRegistrySharesStore(t *testing.T) {
	ctx := context.Background()
	eng, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	ident, err := eng.Registry.Register(ctx, identity.RegisterParams{
		Type:     identity.TypeWallet,
		UserID:   "u1",
		Provider: "metamask",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	got, err := eng.Registry.Get(ctx, ident.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("unexpected identity %+v", got)
	}
}

type captureSink struct {
	events []audit.Event
}

func (s *captureSink) Record(ctx context.Context, event audit.Event) {
	s.events = append(s.events, event)
}

func (s *captureSink) has(kind string) bool {
	for _, e := range s.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	ctx := context.Background()
	eng, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	sink := &captureSink{}
	eng.Audit = sink

	ident, err := eng.Registry.Register(ctx, identity.RegisterParams{
		Type:     identity.TypeWallet,
		UserID:   "u1",
		Provider: "metamask",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := eng.Registry.VerifyIdentity(ctx, ident.ID, nil); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if _, err := eng.Registry.Delete(ctx, ident.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := eng.Authenticate(ctx, password.PluginName, map[string]any{
		"username": "nobody", "password": "wrong",
	}); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	for _, kind := range []string{
		audit.EventIdentityRegistered,
		audit.EventIdentityVerified,
		audit.EventIdentityDeleted,
		audit.EventAuthFailure,
	} {
		if !sink.has(kind) {
			t.Errorf("expected %s event to be emitted", kind)
		}
	}
}

func TestEngineThrottlesRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RateLimit = config.RateLimit{Enabled: true, MaxAttempts: 2, WindowSeconds: 60}

	eng, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	if eng.Limiter == nil {
		t.Fatal("expected limiter when rate limiting is enabled")
	}

	pw := password.New(eng.Store, eng.Tokens, password.NewHasher(4), nil)
	if err := pw.Enroll(ctx, "alice", "u1", "s3cret"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		result, err := eng.Authenticate(ctx, password.PluginName, map[string]any{
			"username": "alice", "password": "wrong",
		})
		if err != nil || result.Success {
			t.Fatalf("attempt %d: expected failed result: %+v %v", i, result, err)
		}
	}

	// The window is exhausted; even the correct password is throttled.
	result, err := eng.Authenticate(ctx, password.PluginName, map[string]any{
		"username": "alice", "password": "s3cret",
	})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected throttled attempt to be rejected")
	}

	// A different user is unaffected.
	if err := pw.Enroll(ctx, "bob", "u2", "hunter2"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	result, err = eng.Authenticate(ctx, password.PluginName, map[string]any{
		"username": "bob", "password": "hunter2",
	})
	if err != nil || !result.Success {
		t.Fatalf("expected unthrottled user to authenticate: %+v %v", result, err)
	}
}

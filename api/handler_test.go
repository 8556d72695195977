package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	veridian "github.com/getveridian/veridian"
	"github.com/getveridian/veridian/config"
	"github.com/getveridian/veridian/identity"
	"github.com/getveridian/veridian/password"
)

func newTestServer(t *testing.T) (*echo.Echo, *veridian.Engine) {
	t.Helper()

	cfg := &config.Config{
		StoreBackend:        "memory",
		TokenSecret:         "test-secret",
		RPID:                "localhost",
		RPDisplayName:       "Veridian Test",
		RPOrigin:            "http://localhost:8080",
		ChallengeTTLSeconds: 60,
	}

	eng, err := veridian.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	e := echo.New()
	g := e.Group("/api/v1")
	NewHandler(eng).RegisterRoutes(g)
	return e, eng
}

func doJSON(e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdentityLifecycleOverHTTP(t *testing.T) {
	e, _ := newTestServer(t)

	// Register
	rec := doJSON(e, http.MethodPost, "/api/v1/identities", map[string]any{
		"type":     "wallet",
		"user_id":  "u1",
		"provider": "metamask",
		"data":     map[string]any{"address": "0xabc"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed with code %d: %s", rec.Code, rec.Body.String())
	}

	var ident struct {
		ID       string `json:"id"`
		Verified bool   `json:"verified"`
	}
	json.Unmarshal(rec.Body.Bytes(), &ident)
	if ident.ID == "" || ident.Verified {
		t.Fatalf("unexpected identity %+v", ident)
	}

	// Verify
	rec = doJSON(e, http.MethodPost, "/api/v1/identities/"+ident.ID+"/verify", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed with code %d: %s", rec.Code, rec.Body.String())
	}

	// Get shows verified
	rec = doJSON(e, http.MethodGet, "/api/v1/identities/"+ident.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get failed with code %d", rec.Code)
	}
	var got struct {
		Verified bool `json:"verified"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if !got.Verified {
		t.Error("expected verified identity")
	}

	// List for user
	rec = doJSON(e, http.MethodGet, "/api/v1/users/u1/identities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed with code %d", rec.Code)
	}
	var list []json.RawMessage
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("expected 1 identity, got %d", len(list))
	}

	// Delete
	rec = doJSON(e, http.MethodDelete, "/api/v1/identities/"+ident.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete failed with code %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/identities/"+ident.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/identities", map[string]any{
		"type":    "carrier-pigeon",
		"user_id": "u1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", rec.Code)
	}
}

func TestAuthenticateOverHTTP(t *testing.T) {
	e, eng := newTestServer(t)

	pw := password.New(eng.Store, eng.Tokens, password.NewHasher(4), nil)
	if err := pw.Enroll(context.Background(), "alice", "u1", "s3cret"); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/password/authenticate", map[string]any{
		"username": "alice",
		"password": "s3cret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticate failed with code %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &result)
	if !result.Success || result.Token == "" {
		t.Fatalf("expected token, got %+v", result)
	}

	// Verify the minted token.
	rec = doJSON(e, http.MethodPost, "/api/v1/auth/password/verify", map[string]any{
		"token": result.Token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed with code %d: %s", rec.Code, rec.Body.String())
	}

	// Wrong password is a 401, not a 500.
	rec = doJSON(e, http.MethodPost, "/api/v1/auth/password/authenticate", map[string]any{
		"username": "alice",
		"password": "nope",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", rec.Code)
	}

	// Unknown provider is a 404.
	rec = doJSON(e, http.MethodPost, "/api/v1/auth/smoke/authenticate", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown provider, got %d", rec.Code)
	}
}

func TestListProviders(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list providers failed with code %d", rec.Code)
	}

	var body struct {
		Providers []string `json:"providers"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Providers) < 2 {
		t.Errorf("expected at least passkey and password, got %v", body.Providers)
	}
}

func TestPasskeyCeremonyEndpoints(t *testing.T) {
	e, _ := newTestServer(t)

	// Registration options carry a fresh challenge.
	rec := doJSON(e, http.MethodPost, "/api/v1/passkey/registration/options", map[string]any{
		"user_id":      "u9",
		"display_name": "User Nine",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("registration options failed with code %d: %s", rec.Code, rec.Body.String())
	}
	var creation struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
		} `json:"publicKey"`
	}
	json.Unmarshal(rec.Body.Bytes(), &creation)
	if creation.PublicKey.Challenge == "" {
		t.Errorf("expected a challenge in the creation options: %s", rec.Body.String())
	}

	// Missing user id is rejected.
	rec = doJSON(e, http.MethodPost, "/api/v1/passkey/registration/options", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without user_id, got %d", rec.Code)
	}

	// An attestation that does not parse never reaches the ceremony.
	rec = doJSON(e, http.MethodPost, "/api/v1/passkey/registration/finish", map[string]any{
		"user_id":     "u9",
		"attestation": map[string]any{"id": "not-a-credential"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed attestation, got %d", rec.Code)
	}

	// Authentication options mint a challenge id for the finish step.
	rec = doJSON(e, http.MethodPost, "/api/v1/passkey/authentication/options", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("authentication options failed with code %d: %s", rec.Code, rec.Body.String())
	}
	var assertion struct {
		ChallengeID string `json:"challenge_id"`
		Options     struct {
			PublicKey struct {
				Challenge string `json:"challenge"`
			} `json:"publicKey"`
		} `json:"options"`
	}
	json.Unmarshal(rec.Body.Bytes(), &assertion)
	if assertion.ChallengeID == "" || assertion.Options.PublicKey.Challenge == "" {
		t.Errorf("expected challenge id and options: %s", rec.Body.String())
	}

	// Unknown credential removal is a 404.
	rec = doJSON(e, http.MethodDelete, "/api/v1/passkey/credentials/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown credential, got %d", rec.Code)
	}
}

func TestErrorBodiesOmitInternalDetail(t *testing.T) {
	e, eng := newTestServer(t)

	eng.Registry.SetProofValidator(func(ctx context.Context, ident *identity.Identity, proof map[string]any) error {
		return errors.New("ledger node 10.0.0.7 unreachable")
	})

	rec := doJSON(e, http.MethodPost, "/api/v1/identities", map[string]any{
		"type":    "wallet",
		"user_id": "u1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed with code %d", rec.Code)
	}
	var ident struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &ident)

	rec = doJSON(e, http.MethodPost, "/api/v1/identities/"+ident.ID+"/verify", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from rejected proof, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.7") {
		t.Errorf("response leaked the internal error: %s", rec.Body.String())
	}
	var body struct {
		Status string `json:"status"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status == "" {
		t.Errorf("expected a generic status message: %s", rec.Body.String())
	}
}

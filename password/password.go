// Package password implements a username/password fallback provider with
// bcrypt hashing. Hashes live in the key/value store keyed by username.
package password

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/getveridian/veridian/plugin"
	"github.com/getveridian/veridian/provider"
	"github.com/getveridian/veridian/store"
	"github.com/getveridian/veridian/token"
)

// PluginName is the name the password plugin registers under.
const PluginName = "password"

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

var ErrUserExists = errors.New("password: user already exists")

type record struct {
	UserID    string    `json:"user_id"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func userKey(username string) string { return "password:user:" + username }

// Hasher wraps bcrypt with a configurable cost.
type Hasher struct {
	Cost int
}

func NewHasher(cost int) *Hasher {
	if cost == 0 {
		cost = DefaultCost
	}
	return &Hasher{Cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	return string(bytes), err
}

func (h *Hasher) Compare(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Provider authenticates usernames against stored bcrypt hashes.
type Provider struct {
	store  store.Store
	tokens token.Strategy
	hasher *Hasher
	log    *zap.Logger
	now    func() time.Time
}

func New(s store.Store, tokens token.Strategy, hasher *Hasher, log *zap.Logger) *Provider {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{store: s, tokens: tokens, hasher: hasher, log: log, now: time.Now}
}

// Enroll creates a password record for the user. Fails if the username is
// already taken.
func (p *Provider) Enroll(ctx context.Context, username, userID, password string) error {
	exists, err := p.store.Exists(ctx, userKey(username))
	if err != nil {
		return fmt.Errorf("password: check user: %w", err)
	}
	if exists {
		return ErrUserExists
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("password: hash: %w", err)
	}

	now := p.now()
	rec := record{UserID: userID, Hash: hash, CreatedAt: now, UpdatedAt: now}
	if err := store.SetJSON(ctx, p.store, userKey(username), rec, 0); err != nil {
		return fmt.Errorf("password: save user: %w", err)
	}
	return nil
}

// ChangePassword replaces the stored hash after checking the old password.
// A wrong old password comes back as a failed AuthResult, not an error.
func (p *Provider) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (*provider.AuthResult, error) {
	var rec record
	found, err := store.GetJSON(ctx, p.store, userKey(username), &rec)
	if err != nil {
		return nil, fmt.Errorf("password: load user: %w", err)
	}
	if !found || !p.hasher.Compare(oldPassword, rec.Hash) {
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("password: hash: %w", err)
	}
	rec.Hash = hash
	rec.UpdatedAt = p.now()
	if err := store.SetJSON(ctx, p.store, userKey(username), rec, 0); err != nil {
		return nil, fmt.Errorf("password: save user: %w", err)
	}

	return &provider.AuthResult{Success: true, UserID: rec.UserID}, nil
}

// dummyHash keeps the compare cost uniform for unknown usernames.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("veridian-dummy"), bcrypt.MinCost)

// Authenticate checks the credential bag's username and password against the
// stored hash and mints a session token on success.
func (p *Provider) Authenticate(ctx context.Context, credentials map[string]any) (*provider.AuthResult, error) {
	username, _ := credentials["username"].(string)
	password, _ := credentials["password"].(string)
	if username == "" || password == "" {
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	var rec record
	found, err := store.GetJSON(ctx, p.store, userKey(username), &rec)
	if err != nil {
		return nil, fmt.Errorf("password: load user: %w", err)
	}
	if !found {
		p.hasher.Compare(password, string(dummyHash))
		p.log.Info("login attempt for unknown user", zap.String("username", username))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	if !p.hasher.Compare(password, rec.Hash) {
		p.log.Info("wrong password", zap.String("username", username))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	tok, err := p.tokens.Mint(rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("password: mint token: %w", err)
	}

	return &provider.AuthResult{Success: true, Token: tok, UserID: rec.UserID}, nil
}

func (p *Provider) Verify(ctx context.Context, sessionToken string) (*provider.VerifyResult, error) {
	return provider.VerifyToken(p.tokens, sessionToken), nil
}

// Plugin installs the password provider in the plugin manager.
type Plugin struct {
	provider *Provider
}

func NewPlugin(p *Provider) *Plugin { return &Plugin{provider: p} }

func (p *Plugin) Name() string      { return PluginName }
func (p *Plugin) Kind() plugin.Kind { return plugin.KindAuth }

func (p *Plugin) Initialize(ctx context.Context, config map[string]any) error {
	if cost, ok := config["bcrypt_cost"].(float64); ok && cost > 0 {
		p.provider.hasher = NewHasher(int(cost))
	}
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error { return nil }

func (p *Plugin) Provider() provider.Provider { return p.provider }

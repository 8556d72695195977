// Package social authenticates users through third-party OpenID Connect
// identity providers. Only ID-token verification lives here; the redirect
// dance happens in the application, which hands the resulting ID token to
// Authenticate.
package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"

	"github.com/getveridian/veridian/plugin"
	"github.com/getveridian/veridian/provider"
	"github.com/getveridian/veridian/token"
)

// PluginName is the name the social plugin registers under.
const PluginName = "social"

// TokenClaims is the subset of ID-token claims the provider acts on.
type TokenClaims struct {
	Subject string
	Email   string
	Raw     map[string]any
}

// Verifier checks a raw ID token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*TokenClaims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *oidcVerifier) Verify(ctx context.Context, rawIDToken string) (*TokenClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("social: verify id token: %w", err)
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("social: parse claims: %w", err)
	}

	email, _ := raw["email"].(string)
	return &TokenClaims{Subject: idToken.Subject, Email: email, Raw: raw}, nil
}

// NewOIDCVerifier discovers the issuer and builds a verifier bound to the
// given client id.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (Verifier, error) {
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("social: discover issuer %s: %w", issuer, err)
	}
	return &oidcVerifier{verifier: p.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Provider authenticates ID tokens from a set of named OIDC providers.
type Provider struct {
	verifiers map[string]Verifier
	tokens    token.Strategy
	log       *zap.Logger
}

func New(verifiers map[string]Verifier, tokens token.Strategy, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{verifiers: verifiers, tokens: tokens, log: log}
}

// Authenticate expects a credential bag with "provider" naming a configured
// verifier and "id_token" carrying the raw ID token. The resulting user id
// is provider-qualified so subjects from different issuers never collide.
func (p *Provider) Authenticate(ctx context.Context, credentials map[string]any) (*provider.AuthResult, error) {
	name, _ := credentials["provider"].(string)
	rawToken, _ := credentials["id_token"].(string)
	if name == "" || rawToken == "" {
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	verifier, ok := p.verifiers[name]
	if !ok {
		p.log.Warn("id token for unconfigured provider", zap.String("provider", name))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	claims, err := verifier.Verify(ctx, rawToken)
	if err != nil {
		p.log.Info("id token rejected", zap.String("provider", name), zap.Error(err))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	// Tokens forbid colons in the subject, so qualify with a slash.
	userID := name + "/" + claims.Subject
	tok, err := p.tokens.Mint(userID)
	if err != nil {
		// A subject the token format cannot carry is a rejected login,
		// not an infrastructure failure.
		if errors.Is(err, token.ErrSubject) {
			p.log.Warn("issuer subject unusable as user id", zap.String("provider", name))
			return provider.Fail(provider.ReasonAuthFailed), nil
		}
		return nil, fmt.Errorf("social: mint token: %w", err)
	}

	return &provider.AuthResult{
		Success: true,
		Token:   tok,
		UserID:  userID,
		Metadata: map[string]any{
			"provider": name,
			"email":    claims.Email,
		},
	}, nil
}

func (p *Provider) Verify(ctx context.Context, sessionToken string) (*provider.VerifyResult, error) {
	return provider.VerifyToken(p.tokens, sessionToken), nil
}

// Plugin installs the social provider in the plugin manager.
type Plugin struct {
	provider *Provider
}

func NewPlugin(p *Provider) *Plugin { return &Plugin{provider: p} }

func (p *Plugin) Name() string      { return PluginName }
func (p *Plugin) Kind() plugin.Kind { return plugin.KindAuth }

func (p *Plugin) Initialize(ctx context.Context, config map[string]any) error { return nil }
func (p *Plugin) Destroy(ctx context.Context) error                           { return nil }

func (p *Plugin) Provider() provider.Provider { return p.provider }

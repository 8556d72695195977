package passkey

import (
	"context"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/getveridian/veridian/plugin"
	"github.com/getveridian/veridian/provider"
)

// PluginName is the name the passkey plugin registers under.
const PluginName = "passkey"

// Plugin exposes the passkey authenticator through the uniform provider
// contract so it can be installed in the plugin manager alongside other
// authentication methods.
type Plugin struct {
	pk *Passkey
}

func NewPlugin(pk *Passkey) *Plugin {
	return &Plugin{pk: pk}
}

func (p *Plugin) Name() string      { return PluginName }
func (p *Plugin) Kind() plugin.Kind { return plugin.KindAuth }

func (p *Plugin) Initialize(ctx context.Context, config map[string]any) error {
	if ttl, ok := config["challenge_ttl_seconds"].(float64); ok && ttl > 0 {
		p.pk.cfg.ChallengeTTL = time.Duration(ttl * float64(time.Second))
	}
	return nil
}

func (p *Plugin) Destroy(ctx context.Context) error { return nil }

func (p *Plugin) Provider() provider.Provider { return p }

// Authenticate runs the assertion ceremony. The credential bag carries the
// challenge id from GenerateAuthenticationOptions and the client's assertion
// response, either already parsed or as raw JSON.
func (p *Plugin) Authenticate(ctx context.Context, credentials map[string]any) (*provider.AuthResult, error) {
	challengeID, ok := credentials["challenge_id"].(string)
	if !ok || challengeID == "" {
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	response, err := assertionFrom(credentials["assertion"])
	if err != nil {
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	return p.pk.FinishAuthentication(ctx, challengeID, response)
}

func (p *Plugin) Verify(ctx context.Context, sessionToken string) (*provider.VerifyResult, error) {
	return provider.VerifyToken(p.pk.tokens, sessionToken), nil
}

func assertionFrom(v any) (*protocol.ParsedCredentialAssertionData, error) {
	switch a := v.(type) {
	case *protocol.ParsedCredentialAssertionData:
		return a, nil
	case string:
		return protocol.ParseCredentialRequestResponseBody(strings.NewReader(a))
	case []byte:
		return protocol.ParseCredentialRequestResponseBody(strings.NewReader(string(a)))
	default:
		return nil, ErrBadAttestation
	}
}

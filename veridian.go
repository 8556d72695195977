// Package veridian is the composition root of the authentication core. It
// wires the configured key/value store into the identity registry, builds
// the session token minter, and installs the authentication providers into
// the plugin manager.
package veridian

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/getveridian/veridian/audit"
	"github.com/getveridian/veridian/config"
	"github.com/getveridian/veridian/identity"
	"github.com/getveridian/veridian/passkey"
	"github.com/getveridian/veridian/password"
	"github.com/getveridian/veridian/plugin"
	"github.com/getveridian/veridian/provider"
	"github.com/getveridian/veridian/ratelimit"
	"github.com/getveridian/veridian/social"
	"github.com/getveridian/veridian/store"
	"github.com/getveridian/veridian/telemetry"
	"github.com/getveridian/veridian/token"
)

// Engine is the assembled authentication core.
type Engine struct {
	Config    *config.Config
	Store     store.Store
	Registry  *identity.Registry
	Plugins   *plugin.Manager
	Tokens    *token.Minter
	Passkey   *passkey.Passkey
	Limiter   ratelimit.Limiter
	Telemetry *telemetry.Provider
	Audit     audit.Sink
	Log       *zap.Logger
}

// OpenStore builds the key/value store named by the config.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedisStore(client, ""), nil
	case "gorm":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("veridian: open database: %w", err)
		}
		return store.NewGormStore(db)
	default:
		return nil, fmt.Errorf("veridian: unknown store backend %q", cfg.StoreBackend)
	}
}

// New assembles an engine from configuration. Providers are registered but
// not initialized; call InitializePlugins before serving traffic.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	kv, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewProvider(telemetry.Config{
		ServiceName:  "veridian",
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("veridian: telemetry: %w", err)
	}

	eng := &Engine{
		Config:    cfg,
		Store:     kv,
		Registry:  identity.NewRegistry(kv),
		Plugins:   plugin.NewManager(log),
		Tokens:    token.NewMinter(cfg.TokenSecret),
		Telemetry: tel,
		Audit:     audit.NewZapSink(log),
		Log:       log,
	}

	if cfg.RateLimit.Enabled {
		if cfg.StoreBackend == "redis" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			eng.Limiter = ratelimit.NewRedisLimiter(client, "")
		} else {
			eng.Limiter = ratelimit.NewMemoryLimiter()
		}
	}

	eng.Registry.SetMutationHook(func(ctx context.Context, op string, ident *identity.Identity) {
		eng.Telemetry.RecordIdentityMutation(ctx, op)

		var kind string
		switch op {
		case "register":
			kind = audit.EventIdentityRegistered
		case "verify":
			kind = audit.EventIdentityVerified
		case "delete":
			kind = audit.EventIdentityDeleted
		default:
			return
		}
		audit.Emit(ctx, eng.Audit, audit.Event{
			Kind:     kind,
			UserID:   ident.UserID,
			Provider: ident.Provider,
			Details:  map[string]any{"identity_id": ident.ID},
		})
	})

	if err := eng.registerProviders(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

func (e *Engine) registerProviders(ctx context.Context) error {
	pk, err := passkey.New(passkey.Config{
		RPID:          e.Config.RPID,
		RPDisplayName: e.Config.RPDisplayName,
		RPOrigin:      e.Config.RPOrigin,
		ChallengeTTL:  e.Config.ChallengeTTL(),
	}, e.Store, e.Tokens, e.Log)
	if err != nil {
		return err
	}
	pk.Instrument(e.Telemetry, e.Audit)
	if err := e.Plugins.Register(passkey.NewPlugin(pk)); err != nil {
		return err
	}
	e.Passkey = pk
	e.auditPluginRegistered(ctx, passkey.PluginName)

	pw := password.New(e.Store, e.Tokens, nil, e.Log)
	if err := e.Plugins.Register(password.NewPlugin(pw)); err != nil {
		return err
	}
	e.auditPluginRegistered(ctx, password.PluginName)

	if len(e.Config.OIDCProviders) > 0 {
		verifiers := make(map[string]social.Verifier, len(e.Config.OIDCProviders))
		for name, pc := range e.Config.OIDCProviders {
			v, err := social.NewOIDCVerifier(ctx, pc.Issuer, pc.ClientID)
			if err != nil {
				return fmt.Errorf("veridian: oidc provider %s: %w", name, err)
			}
			verifiers[name] = v
		}
		so := social.New(verifiers, e.Tokens, e.Log)
		if err := e.Plugins.Register(social.NewPlugin(so)); err != nil {
			return err
		}
		e.auditPluginRegistered(ctx, social.PluginName)
	}

	return nil
}

func (e *Engine) auditPluginRegistered(ctx context.Context, name string) {
	audit.Emit(ctx, e.Audit, audit.Event{Kind: audit.EventPluginRegistered, Provider: name})
}

// InitializePlugins runs Initialize on every registered plugin with its
// config bag.
func (e *Engine) InitializePlugins(ctx context.Context, configs map[string]map[string]any) error {
	for _, p := range e.Plugins.GetAll() {
		if err := e.Plugins.Initialize(ctx, p.Name(), configs[p.Name()]); err != nil {
			return fmt.Errorf("veridian: initialize %s: %w", p.Name(), err)
		}
	}
	return nil
}

// Authenticate runs an authentication attempt against a named provider.
func (e *Engine) Authenticate(ctx context.Context, providerName string, credentials map[string]any) (*provider.AuthResult, error) {
	ctx, span := e.Telemetry.StartSpan(ctx, "veridian.authenticate",
		attribute.String("provider", providerName))
	defer span.End()

	p, err := e.authProvider(providerName)
	if err != nil {
		return nil, err
	}

	result, err := p.Authenticate(ctx, credentials)
	if err != nil {
		return nil, err
	}

	e.Telemetry.RecordAuth(ctx, providerName, result.Success)
	kind := audit.EventAuthFailure
	if result.Success {
		kind = audit.EventAuthSuccess
	}
	audit.Emit(ctx, e.Audit, audit.Event{
		Kind:     kind,
		UserID:   result.UserID,
		Provider: providerName,
	})

	return result, nil
}

// Verify checks a session token against a named provider.
func (e *Engine) Verify(ctx context.Context, providerName, sessionToken string) (*provider.VerifyResult, error) {
	ctx, span := e.Telemetry.StartSpan(ctx, "veridian.verify",
		attribute.String("provider", providerName))
	defer span.End()

	p, err := e.authProvider(providerName)
	if err != nil {
		return nil, err
	}

	result, err := p.Verify(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	e.Telemetry.RecordVerification(ctx, result.Valid)
	return result, nil
}

func (e *Engine) authProvider(name string) (provider.Provider, error) {
	p, err := e.Plugins.Get(name)
	if err != nil {
		return nil, err
	}
	ap, ok := p.(plugin.AuthPlugin)
	if !ok {
		return nil, fmt.Errorf("veridian: plugin %s is not an authentication provider", name)
	}

	pr := ap.Provider()
	if e.Limiter != nil {
		pr = ratelimit.NewGuard(pr, e.Limiter, ratelimit.Config{
			Limit:   e.Config.RateLimit.MaxAttempts,
			Window:  e.Config.RateLimit.Window(),
			KeyFunc: throttleKey,
		}, e.Log)
	}
	return pr, nil
}

// throttleKey picks the stable caller identifier out of the credential bag.
func throttleKey(credentials map[string]any) string {
	for _, k := range []string{"username", "user_id", "challenge_id"} {
		if v, ok := credentials[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Shutdown destroys all plugins and flushes telemetry.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, p := range e.Plugins.GetAll() {
		audit.Emit(ctx, e.Audit, audit.Event{Kind: audit.EventPluginDestroyed, Provider: p.Name()})
	}
	destroyErr := e.Plugins.DestroyAll(ctx)
	telErr := e.Telemetry.Shutdown(ctx)
	if destroyErr != nil {
		return destroyErr
	}
	return telErr
}

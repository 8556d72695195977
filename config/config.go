// Package config provides environment-based configuration for Veridian.
//
// Configuration is loaded from environment variables using Viper, with sensible
// defaults for development. This package handles the key/value store backend
// selection, logging levels, server port, the token signing secret, and the
// relying-party settings for the passkey provider.
//
// # Environment Variables
//
//   - STORE_BACKEND: Key/value store backend (memory, redis, gorm). Default: memory
//   - REDIS_ADDR: Redis address for the redis backend. Default: localhost:6379
//   - DSN: Database connection string for the gorm backend. Default: veridian.db
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - TOKEN_SECRET: Server-side secret for session token signing.
//   - RP_ID / RP_DISPLAY_NAME / RP_ORIGIN: Relying-party identity for passkeys.
//   - CHALLENGE_TTL_SECONDS: Passkey challenge lifetime. Default: 60
//   - RATE_LIMIT_ENABLED: Throttle authentication attempts. Default: false
//   - RATE_LIMIT_MAX_ATTEMPTS / RATE_LIMIT_WINDOW_SECONDS: Attempts allowed
//     per sliding window. Defaults: 10 per 60s
//
// # Social Provider Configuration
//
// OIDC issuers for the social provider are configured via the OIDC_PROVIDERS map:
//
//	OIDC_PROVIDERS_GOOGLE_ISSUER=https://accounts.google.com
//	OIDC_PROVIDERS_GOOGLE_CLIENT_ID=your-client-id
//
// # Example Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Starting on port %d with %s store\n", cfg.Port, cfg.StoreBackend)
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	StoreBackend string `mapstructure:"STORE_BACKEND"` // memory, redis, gorm
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	DSN          string `mapstructure:"DSN"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	Port         int    `mapstructure:"PORT"`

	// TokenSecret signs provider session tokens. Injected here at construction
	// time; rotation goes through token.Minter.Rotate, never via the environment.
	TokenSecret string `mapstructure:"TOKEN_SECRET"`

	RPID                string `mapstructure:"RP_ID"`
	RPDisplayName       string `mapstructure:"RP_DISPLAY_NAME"`
	RPOrigin            string `mapstructure:"RP_ORIGIN"`
	ChallengeTTLSeconds int    `mapstructure:"CHALLENGE_TTL_SECONDS"`

	OIDCProviders map[string]OIDCProvider `mapstructure:"OIDC_PROVIDERS"`

	RateLimit RateLimit `mapstructure:"RATE_LIMIT"`

	Telemetry Telemetry `mapstructure:"TELEMETRY"`
}

// RateLimit throttles authentication attempts per caller. The limiter backs
// onto Redis when the store backend is redis, otherwise it is process-local.
type RateLimit struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxAttempts   int  `mapstructure:"max_attempts"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// Window returns the sliding window duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// OIDCProvider configures one third-party issuer for the social provider.
// Only token verification settings; redirect flows are out of scope.
type OIDCProvider struct {
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`
}

type Telemetry struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// ChallengeTTL returns the configured passkey challenge lifetime.
func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLSeconds) * time.Second
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("STORE_BACKEND", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("DSN", "veridian.db")
	viper.SetDefault("RP_ID", "localhost")
	viper.SetDefault("RP_DISPLAY_NAME", "Veridian")
	viper.SetDefault("RP_ORIGIN", "http://localhost:8080")
	viper.SetDefault("CHALLENGE_TTL_SECONDS", 60)
	viper.SetDefault("RATE_LIMIT.MAX_ATTEMPTS", 10)
	viper.SetDefault("RATE_LIMIT.WINDOW_SECONDS", 60)
	viper.SetDefault("TELEMETRY.SAMPLING_RATE", 1.0)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

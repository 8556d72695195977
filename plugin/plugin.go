// Package plugin owns the set of installed providers and sequences their
// lifecycle: Unregistered -> Registered -> Initialized -> Destroyed.
//
// Capability is a closed set resolved through the Kind discriminator: a
// plugin either is plain or exposes an authentication provider. There is no
// structural probing for capabilities.
package plugin

import (
	"context"

	"github.com/getveridian/veridian/provider"
)

// Kind discriminates plugin capability variants.
type Kind string

const (
	// KindPlain marks a plugin with no authentication capability.
	KindPlain Kind = "plain"
	// KindAuth marks a plugin that exposes a provider; such plugins must
	// implement AuthPlugin.
	KindAuth Kind = "auth"
)

// Plugin is the lifecycle contract every installable component implements.
// Initialize receives an opaque provider-specific configuration bag; the
// manager passes it through unchanged.
type Plugin interface {
	Name() string
	Kind() Kind
	Initialize(ctx context.Context, config map[string]any) error
	Destroy(ctx context.Context) error
}

// AuthPlugin is the auth-capable variant of Plugin.
type AuthPlugin interface {
	Plugin
	Provider() provider.Provider
}

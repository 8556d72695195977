// Package store defines the key/value contract consumed by the identity
// registry and by provider session state.
//
// The contract is deliberately small: get, set with optional expiry, delete,
// exists. TTLs are enforced at the store: reads past expiry behave as absent
// and lazily evict. Three backends are provided:
//
//   - Memory: in-process map, for development and tests
//   - Redis: shared store for distributed deployments
//   - Gorm: relational kv table, for deployments that already run a database
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the minimal key/value contract. A zero TTL means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// GetJSON reads key and unmarshals it into out. The second return is false
// when the key is absent or expired.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals value and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

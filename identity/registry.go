package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getveridian/veridian/store"
)

func identityKey(id string) string      { return "identity:" + id }
func userIndexKey(userID string) string { return "identity:user:" + userID }

// ProofValidator is an optional hook run by VerifyIdentity before the
// identity is marked verified. Proof validation is a provider-layer concern;
// the registry itself only checks existence.
type ProofValidator func(ctx context.Context, ident *Identity, proof map[string]any) error

// MutationHook observes successful mutations. The op is one of register,
// update, delete, verify, deactivate. It runs while the owner's mutation
// lock is held; implementations must not call back into the registry.
type MutationHook func(ctx context.Context, op string, ident *Identity)

// Registry owns the mapping from users to their registered identities. The
// primary row and the per-user secondary index are two separate store writes;
// the registry serializes mutations per user so the index never goes stale
// relative to the rows (each key is still last-writer-wins at the store).
type Registry struct {
	store store.Store
	proof ProofValidator
	hook  MutationHook

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{
		store: s,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetProofValidator installs the verification hook. Pass nil to clear it.
func (r *Registry) SetProofValidator(v ProofValidator) {
	r.proof = v
}

// SetMutationHook installs the mutation observer. Pass nil to clear it.
func (r *Registry) SetMutationHook(h MutationHook) {
	r.hook = h
}

func (r *Registry) notify(ctx context.Context, op string, ident *Identity) {
	if r.hook != nil {
		r.hook(ctx, op, ident)
	}
}

// userLock returns the mutex serializing mutations for one user.
func (r *Registry) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}

// lockUsers locks the mutexes for both users, in sorted order so two
// concurrent ownership moves cannot deadlock. Returns the unlock function.
func (r *Registry) lockUsers(a, b string) func() {
	if a == b {
		l := r.userLock(a)
		l.Lock()
		return l.Unlock
	}
	if b < a {
		a, b = b, a
	}
	la := r.userLock(a)
	lb := r.userLock(b)
	la.Lock()
	lb.Lock()
	return func() {
		lb.Unlock()
		la.Unlock()
	}
}

// Register assigns a fresh ID, stamps both timestamps, writes the primary
// row, then rewrites the user's index to include the new row.
func (r *Registry) Register(ctx context.Context, params RegisterParams) (*Identity, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, params.Type)
	}

	now := time.Now()
	ident := &Identity{
		ID:        uuid.New().String(),
		Type:      params.Type,
		UserID:    params.UserID,
		Provider:  params.Provider,
		Data:      params.Data,
		Verified:  params.Verified,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ident.Data == nil {
		ident.Data = map[string]any{}
	}

	l := r.userLock(params.UserID)
	l.Lock()
	defer l.Unlock()

	if err := store.SetJSON(ctx, r.store, identityKey(ident.ID), ident, 0); err != nil {
		return nil, err
	}
	if err := r.indexAdd(ctx, params.UserID, ident.ID); err != nil {
		return nil, err
	}
	r.notify(ctx, "register", ident)
	return ident, nil
}

// Get returns the identity or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Identity, error) {
	var ident Identity
	ok, err := store.GetJSON(ctx, r.store, identityKey(id), &ident)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &ident, nil
}

// FindByUser returns every identity registered for userID. Order is not
// guaranteed across store backends.
func (r *Registry) FindByUser(ctx context.Context, userID string) ([]*Identity, error) {
	ids, err := r.indexRead(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]*Identity, 0, len(ids))
	for _, id := range ids {
		var ident Identity
		ok, err := store.GetJSON(ctx, r.store, identityKey(id), &ident)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, &ident)
	}
	return out, nil
}

// Update merges fields into the identity. The id and createdAt fields are
// force-preserved regardless of what the partial payload contains, and
// updatedAt is bumped past its previous value.
func (r *Registry) Update(ctx context.Context, id string, fields map[string]any) (*Identity, error) {
	for {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		// An ownership move touches the destination user's index too, so
		// both users' mutexes are held for the whole read-modify-write.
		dst := cur.UserID
		if v, ok := fields["user_id"].(string); ok {
			dst = v
		}
		unlock := r.lockUsers(cur.UserID, dst)

		// Re-read under the locks so concurrent updates to the same user
		// merge instead of clobbering. If the owner changed in the window
		// the lock set may be wrong; start over.
		latest, err := r.Get(ctx, id)
		if err != nil {
			unlock()
			return nil, err
		}
		if latest.UserID != cur.UserID {
			unlock()
			continue
		}

		merged, err := mergeFields(latest, fields)
		if err != nil {
			unlock()
			return nil, err
		}

		merged.ID = latest.ID
		merged.CreatedAt = latest.CreatedAt
		merged.UpdatedAt = bump(latest.UpdatedAt)

		if err := store.SetJSON(ctx, r.store, identityKey(id), merged, 0); err != nil {
			unlock()
			return nil, err
		}

		// Ownership moves are mirrored in both user indexes.
		if merged.UserID != latest.UserID {
			if err := r.indexRemove(ctx, latest.UserID, id); err != nil {
				unlock()
				return nil, err
			}
			if err := r.indexAdd(ctx, merged.UserID, id); err != nil {
				unlock()
				return nil, err
			}
		}
		r.notify(ctx, "update", merged)
		unlock()
		return merged, nil
	}
}

// Delete removes the primary row and prunes the owner's index. Returns false,
// not an error, when the id did not exist.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	l := r.userLock(cur.UserID)
	l.Lock()
	defer l.Unlock()

	existed, err := r.store.Delete(ctx, identityKey(id))
	if err != nil {
		return false, err
	}
	if err := r.indexRemove(ctx, cur.UserID, id); err != nil {
		return false, err
	}
	if existed {
		r.notify(ctx, "delete", cur)
	}
	return existed, nil
}

// VerifyIdentity marks the identity verified. Proof validation beyond
// existence is delegated to the optional ProofValidator hook.
func (r *Registry) VerifyIdentity(ctx context.Context, id string, proof map[string]any) (bool, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if r.proof != nil {
		if err := r.proof(ctx, cur, proof); err != nil {
			return false, err
		}
	}

	l := r.userLock(cur.UserID)
	l.Lock()
	defer l.Unlock()

	cur, err = r.Get(ctx, id)
	if err != nil {
		return false, err
	}

	cur.Verified = true
	cur.UpdatedAt = bump(cur.UpdatedAt)
	if err := store.SetJSON(ctx, r.store, identityKey(id), cur, 0); err != nil {
		return false, err
	}
	r.notify(ctx, "verify", cur)
	return true, nil
}

// Deactivate clears the trust flag and annotates the data bag with the reason
// and timestamp. The row stays queryable; this is a soft delete and it is
// idempotent.
func (r *Registry) Deactivate(ctx context.Context, id, reason string) error {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	l := r.userLock(cur.UserID)
	l.Lock()
	defer l.Unlock()

	cur, err = r.Get(ctx, id)
	if err != nil {
		return err
	}

	cur.Verified = false
	if cur.Data == nil {
		cur.Data = map[string]any{}
	}
	cur.Data[DataKeyDeactivationReason] = reason
	cur.Data[DataKeyDeactivatedAt] = time.Now().Format(time.RFC3339Nano)
	cur.UpdatedAt = bump(cur.UpdatedAt)

	if err := store.SetJSON(ctx, r.store, identityKey(id), cur, 0); err != nil {
		return err
	}
	r.notify(ctx, "deactivate", cur)
	return nil
}

// FindByType filters the user's identities by type.
func (r *Registry) FindByType(ctx context.Context, userID string, t Type) ([]*Identity, error) {
	all, err := r.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*Identity
	for _, ident := range all {
		if ident.Type == t {
			out = append(out, ident)
		}
	}
	return out, nil
}

// FindByProvider filters the user's identities by provider name.
func (r *Registry) FindByProvider(ctx context.Context, userID, providerName string) ([]*Identity, error) {
	all, err := r.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*Identity
	for _, ident := range all {
		if ident.Provider == providerName {
			out = append(out, ident)
		}
	}
	return out, nil
}

// HasVerifiedIdentity reports whether the user holds at least one verified
// identity of the given type.
func (r *Registry) HasVerifiedIdentity(ctx context.Context, userID string, t Type) (bool, error) {
	matches, err := r.FindByType(ctx, userID, t)
	if err != nil {
		return false, err
	}
	for _, ident := range matches {
		if ident.Verified {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registry) indexRead(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if _, err := store.GetJSON(ctx, r.store, userIndexKey(userID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Registry) indexAdd(ctx context.Context, userID, id string) error {
	ids, err := r.indexRead(ctx, userID)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return store.SetJSON(ctx, r.store, userIndexKey(userID), append(ids, id), 0)
}

func (r *Registry) indexRemove(ctx context.Context, userID, id string) error {
	ids, err := r.indexRead(ctx, userID)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		_, err := r.store.Delete(ctx, userIndexKey(userID))
		return err
	}
	return store.SetJSON(ctx, r.store, userIndexKey(userID), kept, 0)
}

// mergeFields applies a partial payload over the identity's JSON form.
func mergeFields(cur *Identity, fields map[string]any) (*Identity, error) {
	raw, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	for k, v := range fields {
		asMap[k] = v
	}

	raw, err = json.Marshal(asMap)
	if err != nil {
		return nil, err
	}
	var merged Identity
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("identity: invalid update payload: %w", err)
	}
	if !merged.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, merged.Type)
	}
	return &merged, nil
}

// bump returns now, pushed forward when the clock has not advanced past the
// previous update so UpdatedAt stays strictly increasing.
func bump(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

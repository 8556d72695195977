// Package passkey implements FIDO2/WebAuthn hardware-credential
// authentication: single-use time-boxed challenges, registration and
// assertion ceremony validation, and replay protection through a
// per-credential monotonic signature counter.
//
// Challenge and credential state live in the key/value store so multiple
// processes can share a relying party; challenges expire through store TTLs.
package passkey

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getveridian/veridian/audit"
	"github.com/getveridian/veridian/provider"
	"github.com/getveridian/veridian/store"
	"github.com/getveridian/veridian/telemetry"
	"github.com/getveridian/veridian/token"
)

// DefaultChallengeTTL bounds how long an issued challenge may be redeemed.
const DefaultChallengeTTL = 60 * time.Second

// Registration ceremony errors. Authentication failures are reported through
// AuthResult instead, so callers never branch on the precise security check
// that rejected an assertion.
var (
	ErrChallengeNotFound = errors.New("passkey: no pending challenge")
	ErrChallengeMismatch = errors.New("passkey: challenge mismatch")
	ErrCeremonyType      = errors.New("passkey: unexpected ceremony type")
	ErrOriginMismatch    = errors.New("passkey: origin mismatch")
	ErrBadAttestation    = errors.New("passkey: attestation missing credential data")
)

// Credential is a registered authenticator key. The counter must strictly
// increase on every successful assertion; an assertion that does not advance
// it is treated as a cloned authenticator.
type Credential struct {
	ID         string    `json:"id"`
	PublicKey  []byte    `json:"public_key"`
	Counter    uint32    `json:"counter"`
	UserID     string    `json:"user_id"`
	Transports []string  `json:"transports,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type challengeRecord struct {
	Challenge string    `json:"challenge"`
	UserID    string    `json:"user_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

func credentialKey(id string) string       { return "passkey:credential:" + id }
func regChallengeKey(userID string) string { return "passkey:challenge:reg:" + userID }
func authChallengeKey(id string) string    { return "passkey:challenge:auth:" + id }

// Config identifies the relying party. RPOrigin is matched exactly against
// the origin reported by the client.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigin      string
	ChallengeTTL  time.Duration
}

// Passkey issues challenges and runs both WebAuthn ceremonies.
type Passkey struct {
	cfg    Config
	store  store.Store
	tokens token.Strategy
	wa     *webauthn.WebAuthn
	log    *zap.Logger
	now    func() time.Time

	tel  *telemetry.Provider
	sink audit.Sink
}

// Instrument attaches the metrics provider and audit sink. Either may be
// nil; uninstrumented ceremonies just skip the recording.
func (p *Passkey) Instrument(tel *telemetry.Provider, sink audit.Sink) {
	p.tel = tel
	p.sink = sink
}

// New builds a passkey authenticator backed by the given store and token
// strategy.
func New(cfg Config, s store.Store, tokens token.Strategy, log *zap.Logger) (*Passkey, error) {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = DefaultChallengeTTL
	}
	if log == nil {
		log = zap.NewNop()
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     []string{cfg.RPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("passkey: relying party config: %w", err)
	}

	return &Passkey{
		cfg:    cfg,
		store:  s,
		tokens: tokens,
		wa:     wa,
		log:    log,
		now:    time.Now,
	}, nil
}

type ceremonyUser struct {
	id          []byte
	name        string
	displayName string
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return u.id }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return nil }

func descriptors(credentialIDs []string) []protocol.CredentialDescriptor {
	var out []protocol.CredentialDescriptor
	for _, id := range credentialIDs {
		raw, err := base64.RawURLEncoding.DecodeString(id)
		if err != nil {
			continue
		}
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: raw,
		})
	}
	return out
}

// GenerateRegistrationOptions mints a fresh challenge for the user and
// returns the creation options to hand to the client. Any previous pending
// registration challenge for the same user is superseded. The exclude list
// carries already-registered credential ids so the same physical key cannot
// be enrolled twice.
func (p *Passkey) GenerateRegistrationOptions(ctx context.Context, userID, displayName string, exclude []string) (*protocol.CredentialCreation, error) {
	user := &ceremonyUser{id: []byte(userID), name: userID, displayName: displayName}

	options, session, err := p.wa.BeginRegistration(user,
		webauthn.WithExclusions(descriptors(exclude)),
	)
	if err != nil {
		return nil, fmt.Errorf("passkey: begin registration: %w", err)
	}

	rec := challengeRecord{
		Challenge: session.Challenge,
		UserID:    userID,
		IssuedAt:  p.now(),
	}
	if err := store.SetJSON(ctx, p.store, regChallengeKey(userID), rec, p.cfg.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("passkey: save challenge: %w", err)
	}

	if p.tel != nil {
		p.tel.RecordChallenge(ctx, "registration")
	}
	audit.Emit(ctx, p.sink, audit.Event{
		Kind:     audit.EventChallengeIssued,
		UserID:   userID,
		Provider: PluginName,
		Details:  map[string]any{"ceremony": "registration"},
	})

	return options, nil
}

// FinishRegistration validates the attestation response against the pending
// challenge for the user and stores the new credential with counter 0. The
// challenge is consumed whether or not validation succeeds.
func (p *Passkey) FinishRegistration(ctx context.Context, userID string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	var rec challengeRecord
	found, err := store.GetJSON(ctx, p.store, regChallengeKey(userID), &rec)
	if err != nil {
		return nil, fmt.Errorf("passkey: load challenge: %w", err)
	}
	if !found {
		return nil, ErrChallengeNotFound
	}

	// Single use. The challenge never survives the attempt.
	defer func() {
		if _, err := p.store.Delete(ctx, regChallengeKey(userID)); err != nil {
			p.log.Warn("failed to consume registration challenge",
				zap.String("user_id", userID), zap.Error(err))
		}
	}()

	client := response.Response.CollectedClientData
	if err := p.checkClientData(client, protocol.CreateCeremony, rec.Challenge); err != nil {
		p.log.Warn("registration attestation rejected",
			zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	att := response.Response.AttestationObject.AuthData.AttData
	if len(att.CredentialID) == 0 || len(att.CredentialPublicKey) == 0 {
		return nil, ErrBadAttestation
	}

	cred := &Credential{
		ID:        base64.RawURLEncoding.EncodeToString(att.CredentialID),
		PublicKey: att.CredentialPublicKey,
		Counter:   0,
		UserID:    userID,
		CreatedAt: p.now(),
	}
	for _, t := range response.Response.Transports {
		cred.Transports = append(cred.Transports, string(t))
	}

	if err := store.SetJSON(ctx, p.store, credentialKey(cred.ID), cred, 0); err != nil {
		return nil, fmt.Errorf("passkey: save credential: %w", err)
	}

	if p.tel != nil {
		p.tel.CredentialRegistered(ctx)
		p.tel.RecordCeremonyDuration(ctx, "registration", p.now().Sub(rec.IssuedAt))
	}
	p.log.Info("credential registered",
		zap.String("user_id", userID), zap.String("credential_id", cred.ID))
	return cred, nil
}

// GenerateAuthenticationOptions mints a fresh challenge keyed by a new
// opaque challenge id; authentication is not bound to a known user up front.
// Returns the assertion options for the client and the challenge id the
// caller must present to Authenticate.
func (p *Passkey) GenerateAuthenticationOptions(ctx context.Context, allow []string, uv protocol.UserVerificationRequirement) (*protocol.CredentialAssertion, string, error) {
	options, session, err := p.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("passkey: begin authentication: %w", err)
	}
	if len(allow) > 0 {
		options.Response.AllowedCredentials = descriptors(allow)
	}
	if uv != "" {
		options.Response.UserVerification = uv
	}

	challengeID := uuid.New().String()
	rec := challengeRecord{Challenge: session.Challenge, IssuedAt: p.now()}
	if err := store.SetJSON(ctx, p.store, authChallengeKey(challengeID), rec, p.cfg.ChallengeTTL); err != nil {
		return nil, "", fmt.Errorf("passkey: save challenge: %w", err)
	}

	if p.tel != nil {
		p.tel.RecordChallenge(ctx, "authentication")
	}
	audit.Emit(ctx, p.sink, audit.Event{
		Kind:     audit.EventChallengeIssued,
		Provider: PluginName,
		Details:  map[string]any{"ceremony": "authentication", "challenge_id": challengeID},
	})

	return options, challengeID, nil
}

// FinishAuthentication validates the assertion response against the pending
// challenge and the stored credential. The asserted counter must strictly
// exceed the stored counter; otherwise the attempt is rejected and the
// stored counter is left untouched. On success the counter advances to the
// asserted value and a session token is minted for the credential's owner.
//
// Security rejections come back inside AuthResult; a returned error means
// the store failed.
func (p *Passkey) FinishAuthentication(ctx context.Context, challengeID string, response *protocol.ParsedCredentialAssertionData) (*provider.AuthResult, error) {
	var rec challengeRecord
	found, err := store.GetJSON(ctx, p.store, authChallengeKey(challengeID), &rec)
	if err != nil {
		return nil, fmt.Errorf("passkey: load challenge: %w", err)
	}
	if !found {
		p.log.Warn("assertion with unknown or expired challenge",
			zap.String("challenge_id", challengeID))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	defer func() {
		if _, err := p.store.Delete(ctx, authChallengeKey(challengeID)); err != nil {
			p.log.Warn("failed to consume authentication challenge",
				zap.String("challenge_id", challengeID), zap.Error(err))
		}
	}()

	client := response.Response.CollectedClientData
	if err := p.checkClientData(client, protocol.AssertCeremony, rec.Challenge); err != nil {
		p.log.Warn("assertion rejected", zap.String("challenge_id", challengeID), zap.Error(err))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	credID := base64.RawURLEncoding.EncodeToString(response.RawID)
	var cred Credential
	found, err = store.GetJSON(ctx, p.store, credentialKey(credID), &cred)
	if err != nil {
		return nil, fmt.Errorf("passkey: load credential: %w", err)
	}
	if !found {
		p.log.Warn("assertion from unknown credential", zap.String("credential_id", credID))
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	asserted := response.Response.AuthenticatorData.Counter
	if asserted <= cred.Counter {
		p.log.Warn("assertion counter did not advance, possible cloned authenticator",
			zap.String("credential_id", credID),
			zap.Uint32("stored", cred.Counter),
			zap.Uint32("asserted", asserted))
		if p.tel != nil {
			p.tel.RecordReplayRejection(ctx, credID)
		}
		audit.Emit(ctx, p.sink, audit.Event{
			Kind:     audit.EventReplayRejected,
			UserID:   cred.UserID,
			Provider: PluginName,
			Details:  map[string]any{"credential_id": credID},
		})
		return provider.Fail(provider.ReasonAuthFailed), nil
	}

	cred.Counter = asserted
	if err := store.SetJSON(ctx, p.store, credentialKey(credID), &cred, 0); err != nil {
		return nil, fmt.Errorf("passkey: advance counter: %w", err)
	}

	tok, err := p.tokens.Mint(cred.UserID)
	if err != nil {
		return nil, fmt.Errorf("passkey: mint token: %w", err)
	}

	if p.tel != nil {
		p.tel.RecordCeremonyDuration(ctx, "authentication", p.now().Sub(rec.IssuedAt))
	}
	p.log.Info("assertion verified",
		zap.String("user_id", cred.UserID), zap.String("credential_id", credID))
	return &provider.AuthResult{
		Success: true,
		Token:   tok,
		UserID:  cred.UserID,
		Metadata: map[string]any{
			"credential_id": credID,
		},
	}, nil
}

// RemoveCredential deletes a stored credential. Returns false when the id
// was not registered.
func (p *Passkey) RemoveCredential(ctx context.Context, id string) (bool, error) {
	deleted, err := p.store.Delete(ctx, credentialKey(id))
	if err != nil {
		return false, fmt.Errorf("passkey: remove credential: %w", err)
	}
	if deleted {
		if p.tel != nil {
			p.tel.CredentialRemoved(ctx)
		}
		p.log.Info("credential removed", zap.String("credential_id", id))
	}
	return deleted, nil
}

// Credential returns a stored credential by id.
func (p *Passkey) Credential(ctx context.Context, id string) (*Credential, bool, error) {
	var cred Credential
	found, err := store.GetJSON(ctx, p.store, credentialKey(id), &cred)
	if err != nil {
		return nil, false, fmt.Errorf("passkey: load credential: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &cred, true, nil
}

func (p *Passkey) checkClientData(client protocol.CollectedClientData, want protocol.CeremonyType, challenge string) error {
	if client.Type != want {
		return ErrCeremonyType
	}
	if client.Origin != p.cfg.RPOrigin {
		return ErrOriginMismatch
	}
	if subtle.ConstantTimeCompare([]byte(client.Challenge), []byte(challenge)) != 1 {
		return ErrChallengeMismatch
	}
	return nil
}

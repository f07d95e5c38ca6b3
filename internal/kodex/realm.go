// Package kodex is the root composing package (spec.md §4.D): it holds the
// Realm Registry, which maps a realm name to the set of realm-scoped
// services every HTTP handler or worker ultimately calls through. There is
// no single teacher equivalent for this layer — the teacher's server wires
// one global set of services in cmd/api/main.go — so the wiring shape here
// is grounded in how that main.go composes db.Queries, the JWT provider,
// and the service layer, generalized from "one deployment, one tenant
// table" to "one process, many realms, each with its own secrets and
// policy".
package kodex

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kodex/internal/hooks"
	"kodex/internal/mfa"
)

// RealmConfig is everything the registry needs to build one realm's
// Services handle: identity, cryptographic material, token lifetimes, MFA
// policy, and the hook/transport wiring specific to that realm.
type RealmConfig struct {
	// Name is the realm's key in the registry and the "realm" claim
	// embedded in every token it issues.
	Name string

	// Issuer is the JWT "iss" claim.
	Issuer string

	// Audience is the JWT "aud" claim.
	Audience string

	// SecretHex is this realm's HS256 signing secret, hex-encoded.
	// Generate one with cmd/keygen.
	SecretHex string

	// BcryptCost is passed to cryptoadapter.NewBcryptHasher; zero uses
	// that hasher's fallback cost of 12.
	BcryptCost int

	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	PreAuthTokenTTL  time.Duration
	RefreshByteLen   int
	ClockSkew        time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	HookStrategy hooks.Strategy

	// MFAEncryptionKeyHex is the AES-256-GCM key (hex-encoded) TOTP
	// secrets are encrypted at rest with. Generate one with cmd/keygen.
	MFAEncryptionKeyHex string
	MFAIssuer           string
	EmailSender         mfa.Sender
	SMSSender           mfa.Sender

	ChallengeTTL               time.Duration
	MaxAttempts                int
	EnrollWindow               time.Duration
	EnrollMax                  int
	EnrollCooldown             time.Duration
	TOTPVerifyWindow           time.Duration
	TOTPVerifyMax              int
	BackupCodeCount            int
	BackupCodeLength           int
	TrustTTL                   time.Duration
	AutoTrustAfterVerification bool

	// HasRole resolves the admin-role predicate MFA's admin operations
	// gate on. Left nil, every admin operation in this realm fails closed
	// with mfa.ErrInsufficientPermission.
	HasRole func(ctx context.Context, userID uuid.UUID, role string) (bool, error)
}

package kodex

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"kodex/internal/authsvc"
	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/hooks"
	"kodex/internal/mfa"
	"kodex/internal/repository"
	"kodex/internal/tokens"
	"kodex/internal/users"
)

// ErrUnknownRealm is returned by ServicesFor when no realm was registered
// under the requested name.
var ErrUnknownRealm = errors.New("kodex: unknown realm")

// Services is the handle returned by ServicesFor: every realm-scoped
// service sharing the registry's single Repository connection pool but
// operating under this realm's own signing secret, hook registry, and MFA
// policy.
type Services struct {
	Realm    string
	Auth     *authsvc.Service
	Users    *users.Service
	MFA      *mfa.Engine
	Tokens   *tokens.Provider
	Families *tokens.Family
	Hooks    *hooks.Registry
}

// RealmRegistry holds every realm registered in this process, each backed
// by the same Repository pool and event bus but isolated from one another
// by realm-scoped secrets and policy.
type RealmRegistry struct {
	mu     sync.RWMutex
	store  repository.Store
	bus    *events.Bus
	realms map[string]*Services
}

// NewRealmRegistry returns an empty registry. store and bus are shared by
// every realm Register adds; secrets and policy are not.
func NewRealmRegistry(store repository.Store, bus *events.Bus) *RealmRegistry {
	return &RealmRegistry{store: store, bus: bus, realms: make(map[string]*Services)}
}

// Register builds one realm's Services handle from cfg and adds it to the
// registry, replacing any prior registration under the same name.
func (r *RealmRegistry) Register(cfg RealmConfig) error {
	secret, err := hex.DecodeString(cfg.SecretHex)
	if err != nil {
		return fmt.Errorf("kodex: realm %q: decode secret: %w", cfg.Name, err)
	}
	secretLookup := func(realm string) ([]byte, bool) {
		if realm != cfg.Name {
			return nil, false
		}
		return secret, true
	}

	tp := tokens.NewProvider(secretLookup, cfg.Issuer, cfg.Audience, cfg.AccessTokenTTL, cfg.PreAuthTokenTTL, cfg.ClockSkew)
	families := tokens.NewFamily(r.store, cfg.RefreshTokenTTL, cfg.RefreshByteLen)
	hookRegistry := hooks.NewRegistry(cfg.HookStrategy)
	hasher := cryptoadapter.NewBcryptHasher(cfg.BcryptCost)

	authCfg := authsvc.Config{
		Realm:            cfg.Name,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration,
		AccessTokenTTL:   cfg.AccessTokenTTL,
		RefreshTokenTTL:  cfg.RefreshTokenTTL,
		PreAuthTokenTTL:  cfg.PreAuthTokenTTL,
	}
	auth := authsvc.New(authCfg, r.store, hasher, tp, families, hookRegistry, r.bus)
	userSvc := users.New(cfg.Name, r.store, hasher, hookRegistry, r.bus)

	realmName := cfg.Name
	totalUsers := func(ctx context.Context) (int, error) {
		return r.store.CountUsers(ctx, realmName)
	}
	mfaCfg := mfa.Config{
		Realm:                      cfg.Name,
		Issuer:                     cfg.MFAIssuer,
		ChallengeTTL:               cfg.ChallengeTTL,
		MaxAttempts:                cfg.MaxAttempts,
		EnrollWindow:               cfg.EnrollWindow,
		EnrollMax:                  cfg.EnrollMax,
		EnrollCooldown:             cfg.EnrollCooldown,
		TOTPVerifyWindow:           cfg.TOTPVerifyWindow,
		TOTPVerifyMax:              cfg.TOTPVerifyMax,
		BackupCodeCount:            cfg.BackupCodeCount,
		BackupCodeLength:           cfg.BackupCodeLength,
		TrustTTL:                   cfg.TrustTTL,
		AutoTrustAfterVerification: cfg.AutoTrustAfterVerification,
		HasRole:                    cfg.HasRole,
	}
	mfaEngine := mfa.New(mfaCfg, r.store, cfg.EmailSender, cfg.SMSSender, r.bus, totalUsers)

	auth.SetMFAGate(func(ctx context.Context, userID uuid.UUID, ip, ua string) (bool, error) {
		methods, err := mfaEngine.ListMethods(ctx, userID)
		if err != nil {
			return false, err
		}
		if len(methods) == 0 {
			return false, nil
		}
		trusted, err := mfaEngine.IsDeviceTrusted(ctx, userID, ip, ua)
		if err != nil {
			return false, err
		}
		return !trusted, nil
	})

	svc := &Services{
		Realm:    cfg.Name,
		Auth:     auth,
		Users:    userSvc,
		MFA:      mfaEngine,
		Tokens:   tp,
		Families: families,
		Hooks:    hookRegistry,
	}

	r.mu.Lock()
	r.realms[cfg.Name] = svc
	r.mu.Unlock()
	return nil
}

// ServicesFor returns the Services handle registered under realm, or
// ErrUnknownRealm if no such realm was registered.
func (r *RealmRegistry) ServicesFor(realm string) (*Services, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.realms[realm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRealm, realm)
	}
	return svc, nil
}

// Realms returns the names of every registered realm.
func (r *RealmRegistry) Realms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.realms))
	for name := range r.realms {
		names = append(names, name)
	}
	return names
}

// SecretCipher builds the AES-256-GCM cipher used to encrypt this realm's
// TOTP secrets at rest, derived from RealmConfig.MFAEncryptionKeyHex.
// Kept separate from Register/ServicesFor since not every caller of the
// MFA Engine needs it — only the TOTP enrollment/verification call sites
// do, and they hold the realm's RealmConfig directly.
func (cfg RealmConfig) SecretCipher() (cryptoadapter.AEAD, error) {
	return cryptoadapter.NewAESGCMCipherFromHex(cfg.MFAEncryptionKeyHex)
}

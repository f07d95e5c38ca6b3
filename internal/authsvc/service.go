// Package authsvc implements login, logout, refresh, password change and
// the lockout policy, generalized from the teacher's internal/auth/service.go
// Login/Logout/RefreshSession/ChangePassword methods onto the realm-scoped,
// interface-backed repository defined in this module.
package authsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/hooks"
	"kodex/internal/logging"
	"kodex/internal/repository"
	"kodex/internal/tokens"
)

// Config is the realm-scoped policy the Auth Service enforces.
type Config struct {
	Realm             string
	LockoutThreshold  int           // K
	LockoutDuration   time.Duration
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	PreAuthTokenTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.PreAuthTokenTTL <= 0 {
		c.PreAuthTokenTTL = 2 * time.Minute
	}
	return c
}

// Service implements login/logout/refresh/password-change for one realm.
type Service struct {
	cfg      Config
	store    repository.Store
	hasher   cryptoadapter.PasswordHasher
	tokens   *tokens.Provider
	families *tokens.Family
	hooks    *hooks.Registry
	bus      *events.Bus
	mfaGate  func(ctx context.Context, userID uuid.UUID, ip, ua string) (bool, error)
}

func New(cfg Config, store repository.Store, hasher cryptoadapter.PasswordHasher, tp *tokens.Provider, families *tokens.Family, hookRegistry *hooks.Registry, bus *events.Bus) *Service {
	return &Service{cfg: cfg.withDefaults(), store: store, hasher: hasher, tokens: tp, families: families, hooks: hookRegistry, bus: bus}
}

// SetMFAGate wires in the check Login uses to decide whether a password
// match is enough on its own or must fall back to a pre-auth token. The
// Auth Service and the MFA Engine are constructed independently (see
// kodex.RealmRegistry.Register) so this is set after both exist rather
// than threaded through New.
func (s *Service) SetMFAGate(gate func(ctx context.Context, userID uuid.UUID, ip, ua string) (bool, error)) {
	s.mfaGate = gate
}

// LoginResult mirrors the teacher's LoginResult shape: either a completed
// session or a pre-auth token awaiting a second factor.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	PreAuthToken string
	User         *repository.User
	MfaRequired  bool
}

// Login authenticates identifier+password within the service's realm.
//
// The not-found branch runs a dummy bcrypt verification against
// cryptoadapter.DummyHash, matching the real verification the
// wrong-password branch runs, so that a timing side-channel cannot
// distinguish "no such account" from "wrong password" — spec.md's
// constant-time login requirement.
func (s *Service) Login(ctx context.Context, identifier, password, ip, userAgent string) (*LoginResult, error) {
	identifier, err := s.hooks.RunBeforeLogin(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("authsvc: beforeLogin hooks: %w", err)
	}

	user, lookupErr := s.lookupByIdentifier(ctx, identifier)
	if lookupErr != nil {
		s.hasher.Verify(password, cryptoadapter.DummyHash)
		s.afterLoginFailure(ctx, identifier)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		_, _ = s.recordFailure(ctx, user)
		s.afterLoginFailure(ctx, identifier)
		return nil, ErrInvalidCredentials
	}

	if user.Status == repository.StatusLocked && user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		return nil, &AccountLocked{Until: *user.LockedUntil, Reason: user.LockReason}
	}
	if user.Status == repository.StatusSuspended {
		return nil, ErrInvalidCredentials
	}

	if err := s.store.ResetFailedLogins(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("authsvc: reset failed logins: %w", err)
	}
	if err := s.store.UpdateLastLoggedIn(ctx, user.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("authsvc: update last logged in: %w", err)
	}

	if s.mfaGate != nil {
		required, err := s.mfaGate(ctx, user.ID, ip, userAgent)
		if err != nil {
			return nil, fmt.Errorf("authsvc: mfa gate: %w", err)
		}
		if required {
			preAuth, err := s.tokens.IssuePreAuth(user.ID, s.cfg.Realm)
			if err != nil {
				return nil, fmt.Errorf("authsvc: issue pre-auth token: %w", err)
			}
			return &LoginResult{PreAuthToken: preAuth, User: user, MfaRequired: true}, nil
		}
	}

	return s.issueSession(ctx, user, ip, userAgent)
}

// CompleteMFALogin finishes a login that paused for a second factor. The
// caller (the MFA verification endpoint) is responsible for having already
// verified the pre-auth token's signature and the challenge/TOTP/backup
// code itself; this just mints the full session the same way Login does
// once a password check succeeds outright.
func (s *Service) CompleteMFALogin(ctx context.Context, userID uuid.UUID, ip, userAgent string) (*LoginResult, error) {
	user, err := s.store.FindFullByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load user: %w", err)
	}
	return s.issueSession(ctx, user, ip, userAgent)
}

func (s *Service) issueSession(ctx context.Context, user *repository.User, ip, userAgent string) (*LoginResult, error) {
	access, err := s.tokens.IssueAccess(user.ID, s.cfg.Realm, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("authsvc: issue access token: %w", err)
	}

	device := repository.DeviceContext{IP: ip, UserAgent: userAgent, At: time.Now()}
	refresh, _, err := s.families.Issue(ctx, s.cfg.Realm, user.ID, device)
	if err != nil {
		return nil, fmt.Errorf("authsvc: issue refresh token: %w", err)
	}

	s.bus.Publish(ctx, events.Event{Type: events.TypeLoginSucceeded, Realm: s.cfg.Realm, Payload: user.ID})

	return &LoginResult{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

func (s *Service) lookupByIdentifier(ctx context.Context, identifier string) (*repository.User, error) {
	if u, err := s.store.FindByEmail(ctx, s.cfg.Realm, identifier); err == nil {
		return u, nil
	}
	return s.store.FindByPhone(ctx, s.cfg.Realm, identifier)
}

// recordFailure increments the failure counter and transitions the user to
// LOCKED once the threshold is reached.
func (s *Service) recordFailure(ctx context.Context, user *repository.User) (int, error) {
	count, err := s.store.RecordFailedLogin(ctx, user.ID, "", "", time.Now())
	if err != nil {
		return 0, err
	}
	if count >= s.cfg.LockoutThreshold {
		until := time.Now().Add(s.cfg.LockoutDuration)
		if err := s.store.SetLocked(ctx, user.ID, until, "too many failed login attempts"); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *Service) afterLoginFailure(ctx context.Context, identifier string) {
	if err := s.hooks.RunAfterLoginFailure(ctx, identifier); err != nil {
		logging.FromContext(ctx).Warn("afterLoginFailure hooks reported errors", "error", err)
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypeLoginFailed, Realm: s.cfg.Realm, Payload: identifier})
}

// Refresh rotates a presented refresh token and issues a fresh access
// token bound to the same family.
func (s *Service) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*LoginResult, error) {
	device := repository.DeviceContext{IP: ip, UserAgent: userAgent, At: time.Now()}

	presented, _, err := s.store.GetRefreshMember(ctx, tokens.HashOpaque(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("authsvc: load presented member: %w", err)
	}

	newRefresh, _, err := s.families.Rotate(ctx, refreshToken, device)
	if err != nil {
		var replay *tokens.TokenReplayDetected
		if errors.As(err, &replay) {
			s.bus.Publish(ctx, events.Event{Type: events.TypeTokenReplayDetected, Realm: s.cfg.Realm, Payload: replay})
		}
		return nil, err
	}

	user, err := s.store.FindFullByID(ctx, presented.UserID)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load user: %w", err)
	}

	access, err := s.tokens.IssueAccess(user.ID, s.cfg.Realm, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("authsvc: issue access token: %w", err)
	}

	s.bus.Publish(ctx, events.Event{Type: events.TypeTokenRefreshed, Realm: s.cfg.Realm, Payload: user.ID})
	return &LoginResult{AccessToken: access, RefreshToken: newRefresh, User: user}, nil
}

// Logout revokes one refresh token's family.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, family, err := s.store.GetRefreshMember(ctx, tokens.HashOpaque(refreshToken))
	if err != nil {
		return err
	}
	if err := s.families.Revoke(ctx, family.ID, "logout"); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypeSessionRevoked, Realm: s.cfg.Realm, Payload: family.ID})
	return nil
}

// RevokeAllSessions ends every refresh token family belonging to userID.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	if err := s.families.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypeSessionRevoked, Realm: s.cfg.Realm, Payload: userID})
	return nil
}

// ChangePassword verifies oldPassword before storing newPassword's hash.
// Existing refresh families are left intact; callers that want a
// log-out-everywhere effect call RevokeAllSessions explicitly.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.store.FindFullByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authsvc: hash new password: %w", err)
	}
	if err := s.store.SetPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypePasswordChanged, Realm: s.cfg.Realm, Payload: userID})
	return nil
}

// AdminResetPassword is the admin variant of ChangePassword: it skips the
// old-password check entirely. ResetPassword (verification.go) is the
// self-service, token-based equivalent.
func (s *Service) AdminResetPassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authsvc: hash new password: %w", err)
	}
	if err := s.store.SetPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypePasswordChanged, Realm: s.cfg.Realm, Payload: userID})
	return nil
}

// Package repository defines the persistence contracts for the platform
// (§4.B of the specification) and the domain records they operate on. Two
// implementations satisfy Store: postgres.Store, backed by jackc/pgx, and
// memory.Store, an in-process fake used by the rest of the platform's unit
// tests so they run without a live database.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus enumerates the lifecycle states a user can occupy.
type UserStatus string

const (
	StatusActive               UserStatus = "ACTIVE"
	StatusSuspended            UserStatus = "SUSPENDED"
	StatusLocked               UserStatus = "LOCKED"
	StatusPendingVerification  UserStatus = "PENDING_VERIFICATION"
)

// Profile holds the optional personal-information fields attached to a
// user.
type Profile struct {
	FirstName      *string
	LastName       *string
	Address        *string
	ProfilePicture *string
}

// User is the realm-scoped identity record (spec.md §3, User).
type User struct {
	ID             uuid.UUID
	Realm          string
	Email          *string
	Phone          *string
	PasswordHash   string
	Status         UserStatus
	IsVerified     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoggedIn   *time.Time
	LockedUntil    *time.Time
	LockReason     string
	FailedLogins   int
	Roles          []string
	Profile        *Profile
	CustomAttrs    map[string]string
}

// Role is process-global, seeded from every realm's declared roles plus each
// realm's implicit owner role.
type Role struct {
	Name        string
	Description string
}

// FieldUpdate is the three-valued PATCH primitive the specification
// requires (§9 Design Notes): distinguishing "leave alone" from "set to
// this value" from "clear" is not expressible with a plain *T, because
// SetValue(nil) is not a legal state. Every layer (processor, repository)
// preserves this distinction end to end.
type FieldUpdate[T any] struct {
	kind  fieldUpdateKind
	value T
}

type fieldUpdateKind int

const (
	fieldNoChange fieldUpdateKind = iota
	fieldSetValue
	fieldClearValue
)

// NoChange returns a FieldUpdate that leaves the field untouched.
func NoChange[T any]() FieldUpdate[T] { return FieldUpdate[T]{kind: fieldNoChange} }

// SetValue returns a FieldUpdate that sets the field to v.
func SetValue[T any](v T) FieldUpdate[T] { return FieldUpdate[T]{kind: fieldSetValue, value: v} }

// ClearValue returns a FieldUpdate that clears the field to its zero/null
// state.
func ClearValue[T any]() FieldUpdate[T] { return FieldUpdate[T]{kind: fieldClearValue} }

// IsNoChange reports whether the update is a no-op.
func (f FieldUpdate[T]) IsNoChange() bool { return f.kind == fieldNoChange }

// IsClear reports whether the update clears the field.
func (f FieldUpdate[T]) IsClear() bool { return f.kind == fieldClearValue }

// IsSet reports whether the update sets a new value, returning it.
func (f FieldUpdate[T]) IsSet() (T, bool) {
	return f.value, f.kind == fieldSetValue
}

// MfaMethodType enumerates the supported second factors.
type MfaMethodType string

const (
	MfaEmail MfaMethodType = "EMAIL"
	MfaTOTP  MfaMethodType = "TOTP"
	MfaSMS   MfaMethodType = "SMS"
)

// MfaMethod is an enrolled second factor (spec.md §3, MfaMethod).
type MfaMethod struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Type            MfaMethodType
	Identifier      string
	EncryptedSecret []byte
	IsPrimary       bool
	CreatedAt       time.Time
}

// ChallengeStatus enumerates the MfaChallenge state machine (spec.md §4
// "State machines").
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "PENDING"
	ChallengeConsumed ChallengeStatus = "CONSUMED"
	ChallengeExpired  ChallengeStatus = "EXPIRED"
)

// MfaChallenge is an ephemeral code binding a user (+ method) to a one-time
// code with attempt and expiry bounds.
type MfaChallenge struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	MethodID   *uuid.UUID
	MethodType MfaMethodType
	Identifier string
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
	Status     ChallengeStatus
}

// BackupCode is a single-use recovery credential.
type BackupCode struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	CodeHash string
	UsedAt   *time.Time
}

// TrustedDevice lets a user skip MFA for a configured duration from a known
// (IP, user-agent) pair.
type TrustedDevice struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	IPHash     string
	UAHash     string
	Name       string
	CreatedAt  time.Time
	LastUsedAt time.Time
	ExpiresAt  *time.Time
}

// DeviceContext is the optional per-login record bound to issued tokens.
type DeviceContext struct {
	IP        string
	UserAgent string
	At        time.Time
}

// TokenFamily is the chain identity shared by a refresh token and all its
// rotation successors.
type TokenFamily struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Realm     string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// RefreshTokenRecord is one member of a TokenFamily.
type RefreshTokenRecord struct {
	TokenHash  string
	FamilyID   uuid.UUID
	UserID     uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	RevokedAt  *time.Time
	Device     DeviceContext
}

// VerificationTokenType enumerates the purposes a VerificationToken can
// serve; generalizes the spec's PasswordResetToken (type=password_reset) to
// also cover email/phone verification, following the teacher's single
// `verification_tokens` table with a `type` discriminator.
type VerificationTokenType string

const (
	VerificationPasswordReset VerificationTokenType = "password_reset"
	VerificationEmail         VerificationTokenType = "email_verify"
	VerificationPhone         VerificationTokenType = "phone_verify"
)

// VerificationToken is a 32-char opaque single-use token.
type VerificationToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      VerificationTokenType
	Contact   string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	IP        string
}

// AttrChange describes one mutation to a user's custom attribute map,
// produced by the three attribute operations (Set, Remove, ReplaceAll)
// described in spec.md §4.H.
type AttrChange struct {
	Key    string
	Remove bool
	Value  string
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserFieldUpdates carries the three-valued PATCH fields applicable to the
// top-level User record (spec.md §4.H, beforeUserUpdate).
type UserFieldUpdates struct {
	Email FieldUpdate[string]
	Phone FieldUpdate[string]
}

// ProfileFieldUpdates carries the three-valued PATCH fields applicable to
// the embedded Profile (spec.md §4.H, beforeProfileUpdate).
type ProfileFieldUpdates struct {
	FirstName      FieldUpdate[string]
	LastName       FieldUpdate[string]
	Address        FieldUpdate[string]
	ProfilePicture FieldUpdate[string]
}

// Store is the full persistence contract of the Repository Layer (spec.md
// §4.B). Every method runs inside its own transaction; expected constraint
// violations are returned as the typed sentinels in errors.go rather than
// raw driver errors.
type Store interface {
	// Users

	CreateUser(ctx context.Context, realm string, email, phone *string, passwordHash string, roles []string, attrs map[string]string, profile *Profile) (*User, error)
	FindFullByID(ctx context.Context, userID uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, realm, email string) (*User, error)
	FindByPhone(ctx context.Context, realm, phone string) (*User, error)
	UpdateBatch(ctx context.Context, userID uuid.UUID, userUpdates UserFieldUpdates, profileUpdates ProfileFieldUpdates, attrChanges []AttrChange, now time.Time) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error

	SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	SetStatus(ctx context.Context, userID uuid.UUID, status UserStatus) error
	SetLocked(ctx context.Context, userID uuid.UUID, until time.Time, reason string) error
	ClearLock(ctx context.Context, userID uuid.UUID) error
	RecordFailedLogin(ctx context.Context, userID uuid.UUID, ip, ua string, now time.Time) (int, error)
	ResetFailedLogins(ctx context.Context, userID uuid.UUID) error
	UpdateLastLoggedIn(ctx context.Context, userID uuid.UUID, at time.Time) error

	// Roles

	EnsureRole(ctx context.Context, role Role) error
	AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error
	UnassignAllRoles(ctx context.Context, userID uuid.UUID) error

	// Refresh token families

	InsertRefreshFamily(ctx context.Context, family TokenFamily, initial RefreshTokenRecord) error
	GetRefreshMember(ctx context.Context, tokenHash string) (*RefreshTokenRecord, *TokenFamily, error)
	RotateRefresh(ctx context.Context, familyID uuid.UUID, oldTokenHash, newTokenHash string, now, expiresAt time.Time, device DeviceContext) (*RefreshTokenRecord, error)
	RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string) error
	RevokeAllFamiliesForUser(ctx context.Context, userID uuid.UUID) error

	// MFA methods

	InsertMethod(ctx context.Context, method *MfaMethod) error
	SetPrimary(ctx context.Context, userID, methodID uuid.UUID) error
	RemoveMethod(ctx context.Context, userID, methodID uuid.UUID) error
	ListMethods(ctx context.Context, userID uuid.UUID) ([]MfaMethod, error)
	GetMethod(ctx context.Context, userID, methodID uuid.UUID) (*MfaMethod, error)

	// MFA challenges

	InsertChallenge(ctx context.Context, challenge *MfaChallenge) error
	GetChallenge(ctx context.Context, challengeID uuid.UUID) (*MfaChallenge, error)
	ConsumeChallenge(ctx context.Context, challengeID uuid.UUID) error
	ExpireChallenge(ctx context.Context, challengeID uuid.UUID) error
	IncrementChallengeAttempts(ctx context.Context, challengeID uuid.UUID) (int, error)

	// Backup codes

	InsertBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error
	DeleteBackupCodes(ctx context.Context, userID uuid.UUID) error
	MarkBackupCodeUsed(ctx context.Context, userID uuid.UUID, codeHash string, now time.Time) (bool, error)
	ListBackupCodes(ctx context.Context, userID uuid.UUID) ([]BackupCode, error)

	// Trusted devices

	InsertTrustedDevice(ctx context.Context, device *TrustedDevice) error
	ListTrustedDevices(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error)
	FindTrustedDevice(ctx context.Context, userID uuid.UUID, ipHash, uaHash string, now time.Time) (*TrustedDevice, error)
	RemoveTrustedDevice(ctx context.Context, userID, deviceID uuid.UUID) error
	RemoveAllTrustedDevices(ctx context.Context, userID uuid.UUID) error

	// Verification tokens (password reset, email/phone verification)

	InsertVerificationToken(ctx context.Context, vt *VerificationToken) error
	GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error)
	ConsumeVerificationToken(ctx context.Context, id uuid.UUID, now time.Time) error
	DeleteVerificationToken(ctx context.Context, id uuid.UUID) error

	// Statistics

	CountUsers(ctx context.Context, realm string) (int, error)
	CountUsersWithAnyMfa(ctx context.Context, realm string) (int, error)
	CountMethodsByType(ctx context.Context, realm string) (map[MfaMethodType]int, error)
	CountTrustedDevices(ctx context.Context, realm string) (int, error)
}

// Package memory provides an in-process fake of repository.Store used by
// the rest of the platform's unit tests. The teacher repository's own
// AuthService held a concrete *db.Queries field and its maintainers noted
// (internal/auth/smoke_test.go) that this made the service impossible to
// unit test without a live database; repository.Store exists as an
// interface specifically so this fake and the real postgres.Store are
// interchangeable.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kodex/internal/repository"
)

// Store is a mutex-guarded, map-backed implementation of repository.Store.
// It is not optimized; it exists to make the service layer's concurrency
// invariants (single-winner unique constraints, CAS backup-code consumption,
// replay-safe refresh rotation) testable without Postgres.
type Store struct {
	mu sync.Mutex

	users           map[uuid.UUID]*repository.User
	usersByEmail    map[string]uuid.UUID // realm+"\x00"+email -> id
	usersByPhone    map[string]uuid.UUID
	roles           map[string]repository.Role
	families        map[uuid.UUID]*repository.TokenFamily
	refreshByHash   map[string]*repository.RefreshTokenRecord
	refreshByFamily map[uuid.UUID][]string // family -> ordered token hashes
	methods         map[uuid.UUID]*repository.MfaMethod
	challenges      map[uuid.UUID]*repository.MfaChallenge
	backupCodes     map[uuid.UUID]*repository.BackupCode
	trustedDevices  map[uuid.UUID]*repository.TrustedDevice
	verifications   map[string]*repository.VerificationToken // token -> record
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:           make(map[uuid.UUID]*repository.User),
		usersByEmail:    make(map[string]uuid.UUID),
		usersByPhone:    make(map[string]uuid.UUID),
		roles:           make(map[string]repository.Role),
		families:        make(map[uuid.UUID]*repository.TokenFamily),
		refreshByHash:   make(map[string]*repository.RefreshTokenRecord),
		refreshByFamily: make(map[uuid.UUID][]string),
		methods:         make(map[uuid.UUID]*repository.MfaMethod),
		challenges:      make(map[uuid.UUID]*repository.MfaChallenge),
		backupCodes:     make(map[uuid.UUID]*repository.BackupCode),
		trustedDevices:  make(map[uuid.UUID]*repository.TrustedDevice),
		verifications:   make(map[string]*repository.VerificationToken),
	}
}

func emailKey(realm, email string) string { return realm + "\x00" + email }
func phoneKey(realm, phone string) string { return realm + "\x00" + phone }

func cloneUser(u *repository.User) *repository.User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	if u.Profile != nil {
		p := *u.Profile
		cp.Profile = &p
	}
	if u.CustomAttrs != nil {
		cp.CustomAttrs = make(map[string]string, len(u.CustomAttrs))
		for k, v := range u.CustomAttrs {
			cp.CustomAttrs[k] = v
		}
	}
	return &cp
}

var _ repository.Store = (*Store)(nil)

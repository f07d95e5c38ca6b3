package repository

import "errors"

// Expected constraint violations and not-found conditions, translated by
// the repository from database-level failures (unique constraint, zero
// rows) into these sentinels so service code never has to branch on driver
// errors.
var (
	ErrEmailExists    = errors.New("repository: email already exists in realm")
	ErrPhoneExists    = errors.New("repository: phone already exists in realm")
	ErrNotFound       = errors.New("repository: record not found")
	ErrFamilyRevoked  = errors.New("repository: token family revoked")
	ErrFamilyUnknown  = errors.New("repository: token family unknown")
	ErrCodeHashExists = errors.New("repository: backup code hash collision")
)

package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
)

// VerifyBackupCode iterates over the user's unused codes and attempts a
// CAS-guarded consume on a match; MarkBackupCodeUsed's WHERE usedAt IS NULL
// clause is what actually prevents a double-spend under concurrency, this
// loop just finds the matching hash.
func (e *Engine) VerifyBackupCode(ctx context.Context, userID uuid.UUID, code string) error {
	codes, err := e.store.ListBackupCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("mfa: list backup codes: %w", err)
	}

	hash := hashCode(code)
	for _, bc := range codes {
		if bc.UsedAt != nil {
			continue
		}
		if !cryptoadapter.ConstantTimeEqualString(bc.CodeHash, hash) {
			continue
		}
		ok, err := e.store.MarkBackupCodeUsed(ctx, userID, hash, time.Now())
		if err != nil {
			return fmt.Errorf("mfa: mark backup code used: %w", err)
		}
		if !ok {
			// Lost the race to a concurrent consumer; the code is spent
			// either way, so report failure rather than retry.
			return ErrInvalid
		}
		e.bus.Publish(ctx, events.Event{Type: events.TypeMfaVerified, Realm: e.cfg.Realm, Payload: userID})
		return nil
	}
	return ErrInvalid
}

// GenerateBackupCodes deletes every existing code (used or not) and issues
// a fresh set, disclosed in plaintext exactly once. This is the
// regeneration contract: prior codes are immediately invalid.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if err := e.store.DeleteBackupCodes(ctx, userID); err != nil {
		return nil, fmt.Errorf("mfa: delete backup codes: %w", err)
	}

	codes, hashes, err := generateBackupCodeSet(e.cfg.BackupCodeCount, e.cfg.BackupCodeLength)
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("mfa: insert backup codes: %w", err)
	}

	e.bus.Publish(ctx, events.Event{Type: events.TypeBackupCodesRegenerated, Realm: e.cfg.Realm, Payload: userID})
	return codes, nil
}

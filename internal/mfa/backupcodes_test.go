package mfa_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/mfa"
)

func TestVerifyBackupCode_ConsumesOnMatch(t *testing.T) {
	engine, emailSender, _ := newTestEngine(t)
	userID := uuid.New()
	verified := enrollAndVerifyEmail(t, engine, emailSender, userID, "alice@example.com")
	require.NotEmpty(t, verified.BackupCodes)

	code := verified.BackupCodes[0]
	require.NoError(t, engine.VerifyBackupCode(context.Background(), userID, code))
}

func TestVerifyBackupCode_RejectsReuse(t *testing.T) {
	engine, emailSender, _ := newTestEngine(t)
	userID := uuid.New()
	verified := enrollAndVerifyEmail(t, engine, emailSender, userID, "alice@example.com")

	code := verified.BackupCodes[0]
	require.NoError(t, engine.VerifyBackupCode(context.Background(), userID, code))

	err := engine.VerifyBackupCode(context.Background(), userID, code)
	require.ErrorIs(t, err, mfa.ErrInvalid)
}

func TestVerifyBackupCode_RejectsUnknownCode(t *testing.T) {
	engine, emailSender, _ := newTestEngine(t)
	userID := uuid.New()
	enrollAndVerifyEmail(t, engine, emailSender, userID, "alice@example.com")

	err := engine.VerifyBackupCode(context.Background(), userID, "NOTREAL1")
	require.ErrorIs(t, err, mfa.ErrInvalid)
}

func TestGenerateBackupCodes_InvalidatesPriorSet(t *testing.T) {
	engine, emailSender, _ := newTestEngine(t)
	userID := uuid.New()
	verified := enrollAndVerifyEmail(t, engine, emailSender, userID, "alice@example.com")
	oldCode := verified.BackupCodes[0]

	newCodes, err := engine.GenerateBackupCodes(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, newCodes, 5)

	err = engine.VerifyBackupCode(context.Background(), userID, oldCode)
	require.ErrorIs(t, err, mfa.ErrInvalid)

	require.NoError(t, engine.VerifyBackupCode(context.Background(), userID, newCodes[0]))
}

package mfa_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/events"
	"kodex/internal/mfa"
	"kodex/internal/repository/memory"
)

func newAdminAwareEngine(t *testing.T, admins map[uuid.UUID]bool) (*mfa.Engine, *capturingSender) {
	t.Helper()
	store := memory.New()
	bus := events.New(1, 16)
	t.Cleanup(bus.Close)
	emailSender := newCapturingSender()
	smsSender := newCapturingSender()

	cfg := mfa.Config{
		Realm:            "tenant-a",
		Issuer:           "kodex",
		BackupCodeCount:  5,
		BackupCodeLength: 8,
		HasRole: func(ctx context.Context, userID uuid.UUID, role string) (bool, error) {
			return admins[userID], nil
		},
	}
	engine := mfa.New(cfg, store, emailSender, smsSender, bus, func(ctx context.Context) (int, error) { return 1, nil })
	return engine, emailSender
}

func TestForceRemoveMfaMethod_RequiresAdminRole(t *testing.T) {
	nonAdmin := uuid.New()
	engine, emailSender := newAdminAwareEngine(t, map[uuid.UUID]bool{})
	targetID := uuid.New()
	method := enrollAndVerifyEmail(t, engine, emailSender, targetID, "alice@example.com")

	err := engine.ForceRemoveMfaMethod(context.Background(), nonAdmin, targetID, method.Method.ID)
	require.ErrorIs(t, err, mfa.ErrInsufficientPermission)
}

func TestForceRemoveMfaMethod_SucceedsForAdmin(t *testing.T) {
	adminID := uuid.New()
	engine, emailSender := newAdminAwareEngine(t, map[uuid.UUID]bool{adminID: true})
	targetID := uuid.New()
	method := enrollAndVerifyEmail(t, engine, emailSender, targetID, "alice@example.com")

	require.NoError(t, engine.ForceRemoveMfaMethod(context.Background(), adminID, targetID, method.Method.ID))

	methods, err := engine.ListMethods(context.Background(), targetID)
	require.NoError(t, err)
	require.Empty(t, methods)
}

func TestDisableMfaForUser_RemovesMethodsDevicesAndBackupCodes(t *testing.T) {
	adminID := uuid.New()
	engine, emailSender := newAdminAwareEngine(t, map[uuid.UUID]bool{adminID: true})
	targetID := uuid.New()
	enrollAndVerifyEmail(t, engine, emailSender, targetID, "alice@example.com")
	_, err := engine.TrustDevice(context.Background(), targetID, "203.0.113.1", "test-agent", "laptop")
	require.NoError(t, err)

	require.NoError(t, engine.DisableMfaForUser(context.Background(), adminID, targetID))

	methods, err := engine.ListMethods(context.Background(), targetID)
	require.NoError(t, err)
	require.Empty(t, methods)

	devices, err := engine.ListTrustedDevices(context.Background(), targetID)
	require.NoError(t, err)
	require.Empty(t, devices)

	err = engine.VerifyBackupCode(context.Background(), targetID, "ANYCODE1")
	require.ErrorIs(t, err, mfa.ErrInvalid)
}

func TestListUserMethods_RequiresAdminRole(t *testing.T) {
	engine, emailSender := newAdminAwareEngine(t, map[uuid.UUID]bool{})
	targetID := uuid.New()
	enrollAndVerifyEmail(t, engine, emailSender, targetID, "alice@example.com")

	_, err := engine.ListUserMethods(context.Background(), uuid.New(), targetID)
	require.ErrorIs(t, err, mfa.ErrInsufficientPermission)
}

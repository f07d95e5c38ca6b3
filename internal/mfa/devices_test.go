package mfa_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/cryptoadapter"
	"kodex/internal/mfa"
)

func TestTrustDevice_IsDeviceTrusted(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()

	_, err := engine.TrustDevice(context.Background(), userID, "203.0.113.1", "test-agent", "my laptop")
	require.NoError(t, err)

	trusted, err := engine.IsDeviceTrusted(context.Background(), userID, "203.0.113.1", "test-agent")
	require.NoError(t, err)
	require.True(t, trusted)

	trusted, err = engine.IsDeviceTrusted(context.Background(), userID, "203.0.113.2", "other-agent")
	require.NoError(t, err)
	require.False(t, trusted, "a different ip/ua pair must not be trusted")
}

func TestListAndRemoveTrustedDevices(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()

	deviceID, err := engine.TrustDevice(context.Background(), userID, "203.0.113.1", "test-agent", "laptop")
	require.NoError(t, err)

	devices, err := engine.ListTrustedDevices(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	require.NoError(t, engine.RemoveTrustedDevice(context.Background(), userID, deviceID))

	trusted, err := engine.IsDeviceTrusted(context.Background(), userID, "203.0.113.1", "test-agent")
	require.NoError(t, err)
	require.False(t, trusted)
}

func TestRemoveAllTrustedDevices(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()

	_, err := engine.TrustDevice(context.Background(), userID, "203.0.113.1", "agent-a", "a")
	require.NoError(t, err)
	_, err = engine.TrustDevice(context.Background(), userID, "203.0.113.2", "agent-b", "b")
	require.NoError(t, err)

	require.NoError(t, engine.RemoveAllTrustedDevices(context.Background(), userID))

	devices, err := engine.ListTrustedDevices(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, devices)
}

func TestSetPrimaryAndRemoveMethod(t *testing.T) {
	engine, emailSender, _ := newTestEngine(t)
	userID := uuid.New()
	first := enrollAndVerifyEmail(t, engine, emailSender, userID, "alice@example.com")

	cipher := newTestCipher(t)
	secondResult, err := engine.EnrollTOTP(context.Background(), userID, "alice@example.com", cipher)
	require.NoError(t, err)
	totp := cryptoadapter.NewTOTPProvider("kodex")
	code, err := totp.GenerateCode(secondResult.Secret, time.Now())
	require.NoError(t, err)
	second, err := engine.VerifyTOTPEnrollment(context.Background(), userID, secondResult.ChallengeID, code, cipher)
	require.NoError(t, err)
	require.False(t, second.Method.IsPrimary, "second enrolled method is not primary by default")

	require.NoError(t, engine.SetPrimaryMethod(context.Background(), userID, second.Method.ID))

	methods, err := engine.ListMethods(context.Background(), userID)
	require.NoError(t, err)
	var primaryCount int
	for _, m := range methods {
		if m.IsPrimary {
			primaryCount++
			require.Equal(t, second.Method.ID, m.ID)
		}
	}
	require.Equal(t, 1, primaryCount)

	require.NoError(t, engine.RemoveMethod(context.Background(), userID, first.Method.ID))
	methods, err = engine.ListMethods(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, methods, 1)
}

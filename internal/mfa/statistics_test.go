package mfa_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"kodex/internal/events"
	"kodex/internal/mfa"
	"kodex/internal/repository"
	"kodex/internal/repository/memory"
)

func TestGetStatistics_ComputesAdoptionAndDistribution(t *testing.T) {
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
	}
	engine := mfa.New(cfg, store, emailSender, smsSender, bus, func(ctx context.Context) (int, error) { return 4, nil })

	email := "alice@example.com"
	user, err := store.CreateUser(context.Background(), "tenant-a", &email, nil, "hash", nil, nil, nil)
	require.NoError(t, err)
	userWithMfa := user.ID
	enrollAndVerifyEmail(t, engine, emailSender, userWithMfa, "alice@example.com")
	_, err = engine.TrustDevice(context.Background(), userWithMfa, "203.0.113.1", "test-agent", "laptop")
	require.NoError(t, err)

	stats, err := engine.GetStatistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalUsers)
	require.Equal(t, 1, stats.UsersWithMfa)
	require.Equal(t, 25.0, stats.AdoptionRate)
	require.Equal(t, 1, stats.MethodDistribution[repository.MfaEmail])
	require.Equal(t, 1, stats.TrustedDevices)
}

func TestGetStatistics_ZeroTotalUsersAvoidsDivideByZero(t *testing.T) {
	store := memory.New()
	bus := events.New(1, 16)
	t.Cleanup(bus.Close)
	cfg := mfa.Config{Realm: "tenant-a", Issuer: "kodex"}
	engine := mfa.New(cfg, store, nil, nil, bus, func(ctx context.Context) (int, error) { return 0, nil })

	stats, err := engine.GetStatistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, stats.AdoptionRate)
}

package tokens_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/repository"
	"kodex/internal/repository/memory"
	"kodex/internal/tokens"
)

func TestFamily_IssueAndRotate(t *testing.T) {
	store := memory.New()
	f := tokens.NewFamily(store, time.Hour, 32)
	userID := uuid.New()
	device := repository.DeviceContext{IP: "127.0.0.1", UserAgent: "test-agent", At: time.Now()}

	raw, familyID, err := f.Issue(context.Background(), "tenant-a", userID, device)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NotEqual(t, uuid.Nil, familyID)

	rotated, rotatedFamily, err := f.Rotate(context.Background(), raw, device)
	require.NoError(t, err)
	require.NotEqual(t, raw, rotated)
	require.Equal(t, familyID, rotatedFamily)
}

func TestFamily_RotateDetectsReplay(t *testing.T) {
	store := memory.New()
	f := tokens.NewFamily(store, time.Hour, 32)
	userID := uuid.New()
	device := repository.DeviceContext{IP: "127.0.0.1", UserAgent: "test-agent", At: time.Now()}

	raw, _, err := f.Issue(context.Background(), "tenant-a", userID, device)
	require.NoError(t, err)

	_, _, err = f.Rotate(context.Background(), raw, device)
	require.NoError(t, err)

	// Presenting the already-rotated token again is a replay.
	_, _, err = f.Rotate(context.Background(), raw, device)
	var replay *tokens.TokenReplayDetected
	require.True(t, errors.As(err, &replay))
}

func TestFamily_RevokeStopsRotation(t *testing.T) {
	store := memory.New()
	f := tokens.NewFamily(store, time.Hour, 32)
	userID := uuid.New()
	device := repository.DeviceContext{IP: "127.0.0.1", UserAgent: "test-agent", At: time.Now()}

	raw, familyID, err := f.Issue(context.Background(), "tenant-a", userID, device)
	require.NoError(t, err)

	require.NoError(t, f.Revoke(context.Background(), familyID, "test"))

	_, _, err = f.Rotate(context.Background(), raw, device)
	require.Error(t, err)
}

func TestFamily_RevokeAllForUser(t *testing.T) {
	store := memory.New()
	f := tokens.NewFamily(store, time.Hour, 32)
	userID := uuid.New()
	device := repository.DeviceContext{IP: "127.0.0.1", UserAgent: "test-agent", At: time.Now()}

	raw1, _, err := f.Issue(context.Background(), "tenant-a", userID, device)
	require.NoError(t, err)
	raw2, _, err := f.Issue(context.Background(), "tenant-a", userID, device)
	require.NoError(t, err)

	require.NoError(t, f.RevokeAllForUser(context.Background(), userID))

	_, _, err = f.Rotate(context.Background(), raw1, device)
	require.Error(t, err)
	_, _, err = f.Rotate(context.Background(), raw2, device)
	require.Error(t, err)
}

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/repository"
	"kodex/internal/repository/memory"
)

func TestInsertRefreshFamilyAndGetRefreshMember(t *testing.T) {
	store := memory.New()
	userID := uuid.New()
	familyID := uuid.New()
	now := time.Now()

	family := repository.TokenFamily{ID: familyID, UserID: userID, Realm: "tenant-a", CreatedAt: now}
	initial := repository.RefreshTokenRecord{TokenHash: "hash-1", FamilyID: familyID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	require.NoError(t, store.InsertRefreshFamily(context.Background(), family, initial))

	rec, fam, err := store.GetRefreshMember(context.Background(), "hash-1")
	require.NoError(t, err)
	require.Equal(t, familyID, rec.FamilyID)
	require.Equal(t, familyID, fam.ID)
	require.Nil(t, fam.RevokedAt)
}

func TestRotateRefresh_ConsumesOldAndAppendsNew(t *testing.T) {
	store := memory.New()
	userID := uuid.New()
	familyID := uuid.New()
	now := time.Now()

	family := repository.TokenFamily{ID: familyID, UserID: userID, Realm: "tenant-a", CreatedAt: now}
	initial := repository.RefreshTokenRecord{TokenHash: "hash-1", FamilyID: familyID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.InsertRefreshFamily(context.Background(), family, initial))

	rotated, err := store.RotateRefresh(context.Background(), familyID, "hash-1", "hash-2", now, now.Add(time.Hour), repository.DeviceContext{})
	require.NoError(t, err)
	require.Equal(t, "hash-2", rotated.TokenHash)

	old, _, err := store.GetRefreshMember(context.Background(), "hash-1")
	require.NoError(t, err)
	require.NotNil(t, old.ConsumedAt)
}

func TestRotateRefresh_ReplayOfConsumedMemberRevokesWholeFamily(t *testing.T) {
	store := memory.New()
	userID := uuid.New()
	familyID := uuid.New()
	now := time.Now()

	family := repository.TokenFamily{ID: familyID, UserID: userID, Realm: "tenant-a", CreatedAt: now}
	initial := repository.RefreshTokenRecord{TokenHash: "hash-1", FamilyID: familyID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.InsertRefreshFamily(context.Background(), family, initial))

	_, err := store.RotateRefresh(context.Background(), familyID, "hash-1", "hash-2", now, now.Add(time.Hour), repository.DeviceContext{})
	require.NoError(t, err)

	// Replaying the already-consumed "hash-1" member must revoke the family.
	_, err = store.RotateRefresh(context.Background(), familyID, "hash-1", "hash-3", now, now.Add(time.Hour), repository.DeviceContext{})
	require.ErrorIs(t, err, repository.ErrFamilyRevoked)

	_, _, err = store.GetRefreshMember(context.Background(), "hash-2")
	require.NoError(t, err)

	// Even the still-valid "hash-2" member is now unusable: its family is revoked.
	_, err = store.RotateRefresh(context.Background(), familyID, "hash-2", "hash-4", now, now.Add(time.Hour), repository.DeviceContext{})
	require.ErrorIs(t, err, repository.ErrFamilyRevoked)
}

func TestRevokeFamily(t *testing.T) {
	store := memory.New()
	userID := uuid.New()
	familyID := uuid.New()
	now := time.Now()

	family := repository.TokenFamily{ID: familyID, UserID: userID, Realm: "tenant-a", CreatedAt: now}
	initial := repository.RefreshTokenRecord{TokenHash: "hash-1", FamilyID: familyID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.InsertRefreshFamily(context.Background(), family, initial))

	require.NoError(t, store.RevokeFamily(context.Background(), familyID, "user requested logout"))

	_, err := store.RotateRefresh(context.Background(), familyID, "hash-1", "hash-2", now, now.Add(time.Hour), repository.DeviceContext{})
	require.ErrorIs(t, err, repository.ErrFamilyRevoked)
}

func TestRevokeAllFamiliesForUser(t *testing.T) {
	store := memory.New()
	userID := uuid.New()
	familyA := uuid.New()
	familyB := uuid.New()
	now := time.Now()

	require.NoError(t, store.InsertRefreshFamily(context.Background(),
		repository.TokenFamily{ID: familyA, UserID: userID, Realm: "tenant-a", CreatedAt: now},
		repository.RefreshTokenRecord{TokenHash: "a-1", FamilyID: familyA, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.InsertRefreshFamily(context.Background(),
		repository.TokenFamily{ID: familyB, UserID: userID, Realm: "tenant-a", CreatedAt: now},
		repository.RefreshTokenRecord{TokenHash: "b-1", FamilyID: familyB, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	require.NoError(t, store.RevokeAllFamiliesForUser(context.Background(), userID))

	_, err := store.RotateRefresh(context.Background(), familyA, "a-1", "a-2", now, now.Add(time.Hour), repository.DeviceContext{})
	require.ErrorIs(t, err, repository.ErrFamilyRevoked)
	_, err = store.RotateRefresh(context.Background(), familyB, "b-1", "b-2", now, now.Add(time.Hour), repository.DeviceContext{})
	require.ErrorIs(t, err, repository.ErrFamilyRevoked)
}

package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/repository"
)

// TokenReplayDetected is returned when a refresh token already consumed or
// revoked is presented again; its whole family has just been revoked as a
// consequence. Callers use errors.As to recover Family for logging/alerting
// rather than matching on a sentinel, mirroring the spec's sealed-variant
// result design translated into Go's error idiom.
type TokenReplayDetected struct {
	Family uuid.UUID
	UserID uuid.UUID
}

func (e *TokenReplayDetected) Error() string {
	return fmt.Sprintf("tokens: refresh token reuse detected, family %s revoked", e.Family)
}

// Family wraps a repository.Store with the refresh-token issuance and
// rotation operations used by the Auth Service's login/refresh/logout
// flows. One Issue call issues the first member of a chain; every
// subsequent Rotate call either advances the chain or — on reuse of a
// retired member — revokes it entirely.
type Family struct {
	store    repository.Store
	ttl      time.Duration
	byteLen  int
}

func NewFamily(store repository.Store, ttl time.Duration, byteLen int) *Family {
	if byteLen <= 0 {
		byteLen = 32
	}
	return &Family{store: store, ttl: ttl, byteLen: byteLen}
}

// Issue starts a brand new token family for userID and returns the raw
// (unhashed) refresh token to hand to the client.
func (f *Family) Issue(ctx context.Context, realm string, userID uuid.UUID, device repository.DeviceContext) (string, uuid.UUID, error) {
	raw, err := GenerateOpaque(f.byteLen)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("tokens: generate refresh token: %w", err)
	}

	now := time.Now()
	familyID := uuid.New()
	family := repository.TokenFamily{ID: familyID, UserID: userID, Realm: realm, CreatedAt: now}
	initial := repository.RefreshTokenRecord{
		TokenHash: HashOpaque(raw),
		FamilyID:  familyID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(f.ttl),
		Device:    device,
	}

	if err := f.store.InsertRefreshFamily(ctx, family, initial); err != nil {
		return "", uuid.Nil, fmt.Errorf("tokens: insert refresh family: %w", err)
	}
	return raw, familyID, nil
}

// Rotate exchanges a presented refresh token for a new one in the same
// family. On replay (a token already consumed or the family already
// revoked) it revokes the family and returns *TokenReplayDetected.
func (f *Family) Rotate(ctx context.Context, raw string, device repository.DeviceContext) (string, uuid.UUID, error) {
	hash := HashOpaque(raw)

	member, family, err := f.store.GetRefreshMember(ctx, hash)
	if err != nil {
		return "", uuid.Nil, err
	}
	if family.RevokedAt != nil {
		return "", uuid.Nil, &TokenReplayDetected{Family: family.ID, UserID: member.UserID}
	}

	newRaw, err := GenerateOpaque(f.byteLen)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("tokens: generate refresh token: %w", err)
	}

	now := time.Now()
	_, err = f.store.RotateRefresh(ctx, family.ID, hash, HashOpaque(newRaw), now, now.Add(f.ttl), device)
	if err != nil {
		if errors.Is(err, repository.ErrFamilyRevoked) {
			return "", uuid.Nil, &TokenReplayDetected{Family: family.ID, UserID: member.UserID}
		}
		return "", uuid.Nil, fmt.Errorf("tokens: rotate refresh: %w", err)
	}

	return newRaw, family.ID, nil
}

// Revoke ends one token family, e.g. on explicit logout.
func (f *Family) Revoke(ctx context.Context, familyID uuid.UUID, reason string) error {
	return f.store.RevokeFamily(ctx, familyID, reason)
}

// RevokeAllForUser ends every family belonging to userID, e.g. on password
// change or admin-initiated "log out everywhere".
func (f *Family) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	return f.store.RevokeAllFamiliesForUser(ctx, userID)
}

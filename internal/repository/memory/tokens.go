package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kodex/internal/repository"
)

func (s *Store) InsertRefreshFamily(ctx context.Context, family repository.TokenFamily, initial repository.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := family
	s.families[f.ID] = &f

	rec := initial
	s.refreshByHash[rec.TokenHash] = &rec
	s.refreshByFamily[f.ID] = append(s.refreshByFamily[f.ID], rec.TokenHash)
	return nil
}

func (s *Store) GetRefreshMember(ctx context.Context, tokenHash string) (*repository.RefreshTokenRecord, *repository.TokenFamily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refreshByHash[tokenHash]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	fam, ok := s.families[rec.FamilyID]
	if !ok {
		return nil, nil, repository.ErrFamilyUnknown
	}
	recCopy := *rec
	famCopy := *fam
	return &recCopy, &famCopy, nil
}

// RotateRefresh implements the replay-detection contract: rotating a
// consumed or revoked member, or rotating into a revoked family, fails. On
// success the old member is marked consumed and a new member is appended to
// the same family.
func (s *Store) RotateRefresh(ctx context.Context, familyID uuid.UUID, oldTokenHash, newTokenHash string, now, expiresAt time.Time, device repository.DeviceContext) (*repository.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fam, ok := s.families[familyID]
	if !ok {
		return nil, repository.ErrFamilyUnknown
	}
	if fam.RevokedAt != nil {
		return nil, repository.ErrFamilyRevoked
	}

	old, ok := s.refreshByHash[oldTokenHash]
	if !ok || old.FamilyID != familyID {
		return nil, repository.ErrNotFound
	}
	if old.ConsumedAt != nil || old.RevokedAt != nil {
		// Reuse of a retired member: revoke the whole family.
		t := now
		fam.RevokedAt = &t
		for _, h := range s.refreshByFamily[familyID] {
			if m, ok := s.refreshByHash[h]; ok && m.RevokedAt == nil {
				m.RevokedAt = &t
			}
		}
		return nil, repository.ErrFamilyRevoked
	}

	old.ConsumedAt = &now

	next := repository.RefreshTokenRecord{
		TokenHash: newTokenHash,
		FamilyID:  familyID,
		UserID:    old.UserID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Device:    device,
	}
	s.refreshByHash[newTokenHash] = &next
	s.refreshByFamily[familyID] = append(s.refreshByFamily[familyID], newTokenHash)

	out := next
	return &out, nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fam, ok := s.families[familyID]
	if !ok {
		return repository.ErrFamilyUnknown
	}
	if fam.RevokedAt == nil {
		now := time.Now()
		fam.RevokedAt = &now
	}
	for _, h := range s.refreshByFamily[familyID] {
		if m, ok := s.refreshByHash[h]; ok && m.RevokedAt == nil {
			now := time.Now()
			m.RevokedAt = &now
		}
	}
	return nil
}

func (s *Store) RevokeAllFamiliesForUser(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, fam := range s.families {
		if fam.UserID != userID || fam.RevokedAt != nil {
			continue
		}
		fam.RevokedAt = &now
		for _, h := range s.refreshByFamily[fam.ID] {
			if m, ok := s.refreshByHash[h]; ok && m.RevokedAt == nil {
				m.RevokedAt = &now
			}
		}
	}
	return nil
}

package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kodex/internal/repository"
)

func (s *Store) InsertMethod(ctx context.Context, method *repository.MfaMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}
	if method.IsPrimary {
		for _, m := range s.methods {
			if m.UserID == method.UserID {
				m.IsPrimary = false
			}
		}
	}
	cp := *method
	s.methods[cp.ID] = &cp
	return nil
}

func (s *Store) SetPrimary(ctx context.Context, userID, methodID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.methods[methodID]
	if !ok || target.UserID != userID {
		return repository.ErrNotFound
	}
	for _, m := range s.methods {
		if m.UserID == userID {
			m.IsPrimary = m.ID == methodID
		}
	}
	return nil
}

func (s *Store) RemoveMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[methodID]
	if !ok || m.UserID != userID {
		return repository.ErrNotFound
	}
	delete(s.methods, methodID)
	return nil
}

func (s *Store) ListMethods(ctx context.Context, userID uuid.UUID) ([]repository.MfaMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.MfaMethod
	for _, m := range s.methods {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) GetMethod(ctx context.Context, userID, methodID uuid.UUID) (*repository.MfaMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[methodID]
	if !ok || m.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) InsertChallenge(ctx context.Context, challenge *repository.MfaChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	cp := *challenge
	s.challenges[cp.ID] = &cp
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, challengeID uuid.UUID) (*repository.MfaChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ConsumeChallenge(ctx context.Context, challengeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = repository.ChallengeConsumed
	return nil
}

func (s *Store) ExpireChallenge(ctx context.Context, challengeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = repository.ChallengeExpired
	return nil
}

func (s *Store) IncrementChallengeAttempts(ctx context.Context, challengeID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (s *Store) InsertBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range hashes {
		for _, existing := range s.backupCodes {
			if existing.CodeHash == h {
				return repository.ErrCodeHashExists
			}
		}
	}
	for _, h := range hashes {
		bc := &repository.BackupCode{
			ID:       uuid.New(),
			UserID:   userID,
			CodeHash: h,
		}
		s.backupCodes[bc.ID] = bc
	}
	return nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, bc := range s.backupCodes {
		if bc.UserID == userID {
			delete(s.backupCodes, id)
		}
	}
	return nil
}

// MarkBackupCodeUsed is a compare-and-swap: the first caller to mark a given
// hash used wins; any later attempt against the same hash reports false
// rather than erroring, so a concurrently-racing second submission of the
// same code is rejected instead of accepted twice.
func (s *Store) MarkBackupCodeUsed(ctx context.Context, userID uuid.UUID, codeHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bc := range s.backupCodes {
		if bc.UserID == userID && bc.CodeHash == codeHash {
			if bc.UsedAt != nil {
				return false, nil
			}
			t := now
			bc.UsedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListBackupCodes(ctx context.Context, userID uuid.UUID) ([]repository.BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.BackupCode
	for _, bc := range s.backupCodes {
		if bc.UserID == userID {
			out = append(out, *bc)
		}
	}
	return out, nil
}

func (s *Store) InsertTrustedDevice(ctx context.Context, device *repository.TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	cp := *device
	s.trustedDevices[cp.ID] = &cp
	return nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, userID uuid.UUID) ([]repository.TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repository.TrustedDevice
	for _, d := range s.trustedDevices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Store) FindTrustedDevice(ctx context.Context, userID uuid.UUID, ipHash, uaHash string, now time.Time) (*repository.TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.trustedDevices {
		if d.UserID != userID || d.IPHash != ipHash || d.UAHash != uaHash {
			continue
		}
		if d.ExpiresAt != nil && d.ExpiresAt.Before(now) {
			continue
		}
		cp := *d
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) RemoveTrustedDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.trustedDevices[deviceID]
	if !ok || d.UserID != userID {
		return repository.ErrNotFound
	}
	delete(s.trustedDevices, deviceID)
	return nil
}

func (s *Store) RemoveAllTrustedDevices(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.trustedDevices {
		if d.UserID == userID {
			delete(s.trustedDevices, id)
		}
	}
	return nil
}

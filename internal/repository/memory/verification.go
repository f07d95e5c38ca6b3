package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kodex/internal/repository"
)

func (s *Store) InsertVerificationToken(ctx context.Context, vt *repository.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vt.ID == uuid.Nil {
		vt.ID = uuid.New()
	}
	cp := *vt
	s.verifications[cp.Token] = &cp
	return nil
}

func (s *Store) GetVerificationToken(ctx context.Context, token string) (*repository.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vt, ok := s.verifications[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *vt
	return &cp, nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vt := range s.verifications {
		if vt.ID == id {
			t := now
			vt.UsedAt = &t
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) DeleteVerificationToken(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tok, vt := range s.verifications {
		if vt.ID == id {
			delete(s.verifications, tok)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) CountUsers(ctx context.Context, realm string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.users {
		if u.Realm == realm {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUsersWithAnyMfa(ctx context.Context, realm string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enrolled := make(map[uuid.UUID]bool)
	for _, m := range s.methods {
		enrolled[m.UserID] = true
	}
	n := 0
	for id, u := range s.users {
		if u.Realm == realm && enrolled[id] {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountMethodsByType(ctx context.Context, realm string) (map[repository.MfaMethodType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	realmUsers := make(map[uuid.UUID]bool)
	for id, u := range s.users {
		if u.Realm == realm {
			realmUsers[id] = true
		}
	}
	out := make(map[repository.MfaMethodType]int)
	for _, m := range s.methods {
		if realmUsers[m.UserID] {
			out[m.Type]++
		}
	}
	return out, nil
}

func (s *Store) CountTrustedDevices(ctx context.Context, realm string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	realmUsers := make(map[uuid.UUID]bool)
	for id, u := range s.users {
		if u.Realm == realm {
			realmUsers[id] = true
		}
	}
	n := 0
	for _, d := range s.trustedDevices {
		if realmUsers[d.UserID] {
			n++
		}
	}
	return n, nil
}

package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kodex/internal/repository"
)

func (s *Store) CreateUser(ctx context.Context, realm string, email, phone *string, passwordHash string, roles []string, attrs map[string]string, profile *repository.Profile) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if email != nil {
		if _, exists := s.usersByEmail[emailKey(realm, *email)]; exists {
			return nil, repository.ErrEmailExists
		}
	}
	if phone != nil {
		if _, exists := s.usersByPhone[phoneKey(realm, *phone)]; exists {
			return nil, repository.ErrPhoneExists
		}
	}

	now := time.Now()
	u := &repository.User{
		ID:           uuid.New(),
		Realm:        realm,
		Email:        email,
		Phone:        phone,
		PasswordHash: passwordHash,
		Status:       repository.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		Roles:        append([]string(nil), roles...),
		Profile:      profile,
		CustomAttrs:  map[string]string{},
	}
	for k, v := range attrs {
		u.CustomAttrs[k] = v
	}

	s.users[u.ID] = u
	if email != nil {
		s.usersByEmail[emailKey(realm, *email)] = u.ID
	}
	if phone != nil {
		s.usersByPhone[phoneKey(realm, *phone)] = u.ID
	}

	return cloneUser(u), nil
}

func (s *Store) FindFullByID(ctx context.Context, userID uuid.UUID) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) FindByEmail(ctx context.Context, realm, email string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByEmail[emailKey(realm, email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindByPhone(ctx context.Context, realm, phone string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByPhone[phoneKey(realm, phone)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) UpdateBatch(ctx context.Context, userID uuid.UUID, userUpdates repository.UserFieldUpdates, profileUpdates repository.ProfileFieldUpdates, attrChanges []repository.AttrChange, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}

	if v, set := userUpdates.Email.IsSet(); set {
		key := emailKey(u.Realm, v)
		if id, exists := s.usersByEmail[key]; exists && id != userID {
			return repository.ErrEmailExists
		}
		if u.Email != nil {
			delete(s.usersByEmail, emailKey(u.Realm, *u.Email))
		}
		u.Email = &v
		s.usersByEmail[key] = userID
	} else if userUpdates.Email.IsClear() {
		if u.Email != nil {
			delete(s.usersByEmail, emailKey(u.Realm, *u.Email))
		}
		u.Email = nil
	}

	if v, set := userUpdates.Phone.IsSet(); set {
		key := phoneKey(u.Realm, v)
		if id, exists := s.usersByPhone[key]; exists && id != userID {
			return repository.ErrPhoneExists
		}
		if u.Phone != nil {
			delete(s.usersByPhone, phoneKey(u.Realm, *u.Phone))
		}
		u.Phone = &v
		s.usersByPhone[key] = userID
	} else if userUpdates.Phone.IsClear() {
		if u.Phone != nil {
			delete(s.usersByPhone, phoneKey(u.Realm, *u.Phone))
		}
		u.Phone = nil
	}

	if u.Profile == nil {
		u.Profile = &repository.Profile{}
	}
	applyStringField(&u.Profile.FirstName, profileUpdates.FirstName)
	applyStringField(&u.Profile.LastName, profileUpdates.LastName)
	applyStringField(&u.Profile.Address, profileUpdates.Address)
	applyStringField(&u.Profile.ProfilePicture, profileUpdates.ProfilePicture)

	if u.CustomAttrs == nil {
		u.CustomAttrs = map[string]string{}
	}
	for _, ch := range attrChanges {
		if ch.Remove {
			delete(u.CustomAttrs, ch.Key)
		} else {
			u.CustomAttrs[ch.Key] = ch.Value
		}
	}

	u.UpdatedAt = now
	return nil
}

func applyStringField(dst **string, u repository.FieldUpdate[string]) {
	if v, set := u.IsSet(); set {
		val := v
		*dst = &val
	} else if u.IsClear() {
		*dst = nil
	}
}

func (s *Store) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if u.Email != nil {
		delete(s.usersByEmail, emailKey(u.Realm, *u.Email))
	}
	if u.Phone != nil {
		delete(s.usersByPhone, phoneKey(u.Realm, *u.Phone))
	}
	delete(s.users, userID)
	return nil
}

func (s *Store) SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetStatus(ctx context.Context, userID uuid.UUID, status repository.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetLocked(ctx context.Context, userID uuid.UUID, until time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = repository.StatusLocked
	u.LockedUntil = &until
	u.LockReason = reason
	return nil
}

func (s *Store) ClearLock(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = repository.StatusActive
	u.LockedUntil = nil
	u.LockReason = ""
	u.FailedLogins = 0
	return nil
}

func (s *Store) RecordFailedLogin(ctx context.Context, userID uuid.UUID, ip, ua string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.FailedLogins++
	return u.FailedLogins, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.FailedLogins = 0
	return nil
}

func (s *Store) UpdateLastLoggedIn(ctx context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	u.LastLoggedIn = &t
	return nil
}

func (s *Store) EnsureRole(ctx context.Context, role repository.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.roles[role.Name]; !exists {
		s.roles[role.Name] = role
	}
	return nil
}

func (s *Store) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, r := range u.Roles {
		if r == roleName {
			return nil
		}
	}
	u.Roles = append(u.Roles, roleName)
	return nil
}

func (s *Store) UnassignAllRoles(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Roles = nil
	return nil
}

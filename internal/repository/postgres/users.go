package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"kodex/internal/repository"
)

func (s *Store) CreateUser(ctx context.Context, realm string, email, phone *string, passwordHash string, roles []string, attrs map[string]string, profile *repository.Profile) (*repository.User, error) {
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal custom attrs: %w", err)
	}

	var fn, ln, addr, pic *string
	if profile != nil {
		fn, ln, addr, pic = profile.FirstName, profile.LastName, profile.Address, profile.ProfilePicture
	}

	id := uuid.New()
	now := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin create user: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (
			id, realm, email, phone, password_hash, status,
			first_name, last_name, address, profile_picture,
			custom_attrs, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		pgUUID(id), realm, pgText(email), pgText(phone), passwordHash, string(repository.StatusActive),
		pgText(fn), pgText(ln), pgText(addr), pgText(pic),
		attrsJSON, pgTimestamptz(now), pgTimestamptz(now),
	)
	if err != nil {
		if isUniqueViolation(err, "users_realm_email_key") {
			return nil, repository.ErrEmailExists
		}
		if isUniqueViolation(err, "users_realm_phone_key") {
			return nil, repository.ErrPhoneExists
		}
		return nil, fmt.Errorf("postgres: insert user: %w", err)
	}

	for _, r := range roles {
		if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_name) VALUES ($1,$2)`, pgUUID(id), r); err != nil {
			return nil, fmt.Errorf("postgres: assign role %s: %w", r, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit create user: %w", err)
	}

	return s.FindFullByID(ctx, id)
}

const selectUserColumns = `
	u.id, u.realm, u.email, u.phone, u.password_hash, u.status, u.is_verified,
	u.created_at, u.updated_at, u.last_logged_in, u.locked_until, u.lock_reason,
	u.failed_logins, u.first_name, u.last_name, u.address, u.profile_picture, u.custom_attrs`

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	var realm, status string
	var email, phone, lockReason, fn, ln, addr, pic pgtype.Text
	var lastLoggedIn, lockedUntil pgtype.Timestamptz
	var createdAt, updatedAt pgtype.Timestamptz
	var attrsJSON []byte
	var id pgtype.UUID

	if err := row.Scan(
		&id, &realm, &email, &phone, &u.PasswordHash, &status, &u.IsVerified,
		&createdAt, &updatedAt, &lastLoggedIn, &lockedUntil, &lockReason,
		&u.FailedLogins, &fn, &ln, &addr, &pic, &attrsJSON,
	); err != nil {
		return nil, err
	}

	u.ID = uuidFromPg(id)
	u.Realm = realm
	u.Status = repository.UserStatus(status)
	u.Email = textFromPg(email)
	u.Phone = textFromPg(phone)
	u.CreatedAt = timeFromPg(createdAt)
	u.UpdatedAt = timeFromPg(updatedAt)
	u.LastLoggedIn = timePtrFromPg(lastLoggedIn)
	u.LockedUntil = timePtrFromPg(lockedUntil)
	if lockReason.Valid {
		u.LockReason = lockReason.String
	}
	u.Profile = &repository.Profile{
		FirstName:      textFromPg(fn),
		LastName:       textFromPg(ln),
		Address:        textFromPg(addr),
		ProfilePicture: textFromPg(pic),
	}
	u.CustomAttrs = map[string]string{}
	if len(attrsJSON) > 0 {
		_ = json.Unmarshal(attrsJSON, &u.CustomAttrs)
	}
	return &u, nil
}

func (s *Store) attachRoles(ctx context.Context, u *repository.User) error {
	rows, err := s.pool.Query(ctx, `SELECT role_name FROM user_roles WHERE user_id = $1`, pgUUID(u.ID))
	if err != nil {
		return fmt.Errorf("postgres: load roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return err
		}
		roles = append(roles, r)
	}
	u.Roles = roles
	return rows.Err()
}

func (s *Store) FindFullByID(ctx context.Context, userID uuid.UUID) (*repository.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM users u WHERE u.id = $1`, pgUUID(userID))
	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find user by id: %w", err)
	}
	if err := s.attachRoles(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, realm, email string) (*repository.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM users u WHERE u.realm = $1 AND u.email = $2`, realm, email)
	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find user by email: %w", err)
	}
	if err := s.attachRoles(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) FindByPhone(ctx context.Context, realm, phone string) (*repository.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM users u WHERE u.realm = $1 AND u.phone = $2`, realm, phone)
	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find user by phone: %w", err)
	}
	if err := s.attachRoles(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateBatch applies all three-valued field updates inside one transaction:
// a PATCH that changes the email, clears the address, and adds a custom
// attribute either lands atomically or not at all.
func (s *Store) UpdateBatch(ctx context.Context, userID uuid.UUID, userUpdates repository.UserFieldUpdates, profileUpdates repository.ProfileFieldUpdates, attrChanges []repository.AttrChange, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	if v, set := userUpdates.Email.IsSet(); set {
		if _, err := tx.Exec(ctx, `UPDATE users SET email = $2 WHERE id = $1`, pgUUID(userID), v); err != nil {
			if isUniqueViolation(err, "users_realm_email_key") {
				return repository.ErrEmailExists
			}
			return fmt.Errorf("postgres: set email: %w", err)
		}
	} else if userUpdates.Email.IsClear() {
		if _, err := tx.Exec(ctx, `UPDATE users SET email = NULL WHERE id = $1`, pgUUID(userID)); err != nil {
			return fmt.Errorf("postgres: clear email: %w", err)
		}
	}

	if v, set := userUpdates.Phone.IsSet(); set {
		if _, err := tx.Exec(ctx, `UPDATE users SET phone = $2 WHERE id = $1`, pgUUID(userID), v); err != nil {
			if isUniqueViolation(err, "users_realm_phone_key") {
				return repository.ErrPhoneExists
			}
			return fmt.Errorf("postgres: set phone: %w", err)
		}
	} else if userUpdates.Phone.IsClear() {
		if _, err := tx.Exec(ctx, `UPDATE users SET phone = NULL WHERE id = $1`, pgUUID(userID)); err != nil {
			return fmt.Errorf("postgres: clear phone: %w", err)
		}
	}

	if err := applyProfileField(ctx, tx, userID, "first_name", profileUpdates.FirstName); err != nil {
		return err
	}
	if err := applyProfileField(ctx, tx, userID, "last_name", profileUpdates.LastName); err != nil {
		return err
	}
	if err := applyProfileField(ctx, tx, userID, "address", profileUpdates.Address); err != nil {
		return err
	}
	if err := applyProfileField(ctx, tx, userID, "profile_picture", profileUpdates.ProfilePicture); err != nil {
		return err
	}

	if len(attrChanges) > 0 {
		var raw []byte
		if err := tx.QueryRow(ctx, `SELECT custom_attrs FROM users WHERE id = $1 FOR UPDATE`, pgUUID(userID)).Scan(&raw); err != nil {
			if isNoRows(err) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("postgres: lock custom attrs: %w", err)
		}
		attrs := map[string]string{}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &attrs)
		}
		for _, ch := range attrChanges {
			if ch.Remove {
				delete(attrs, ch.Key)
			} else {
				attrs[ch.Key] = ch.Value
			}
		}
		encoded, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("postgres: marshal custom attrs: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET custom_attrs = $2 WHERE id = $1`, pgUUID(userID), encoded); err != nil {
			return fmt.Errorf("postgres: store custom attrs: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `UPDATE users SET updated_at = $2 WHERE id = $1`, pgUUID(userID), pgTimestamptz(now))
	if err != nil {
		return fmt.Errorf("postgres: touch updated_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return tx.Commit(ctx)
}

func applyProfileField(ctx context.Context, tx pgx.Tx, userID uuid.UUID, column string, u repository.FieldUpdate[string]) error {
	if v, set := u.IsSet(); set {
		_, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE users SET %s = $2 WHERE id = $1`, column), pgUUID(userID), v)
		if err != nil {
			return fmt.Errorf("postgres: set %s: %w", column, err)
		}
		return nil
	}
	if u.IsClear() {
		_, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE users SET %s = NULL WHERE id = $1`, column), pgUUID(userID))
		if err != nil {
			return fmt.Errorf("postgres: clear %s: %w", column, err)
		}
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SetPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, pgUUID(userID), passwordHash)
	if err != nil {
		return fmt.Errorf("postgres: set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, userID uuid.UUID, status repository.UserStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, pgUUID(userID), string(status))
	if err != nil {
		return fmt.Errorf("postgres: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SetLocked(ctx context.Context, userID uuid.UUID, until time.Time, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET status = $2, locked_until = $3, lock_reason = $4 WHERE id = $1
	`, pgUUID(userID), string(repository.StatusLocked), pgTimestamptz(until), reason)
	if err != nil {
		return fmt.Errorf("postgres: set locked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ClearLock(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET status = $2, locked_until = NULL, lock_reason = '', failed_logins = 0 WHERE id = $1
	`, pgUUID(userID), string(repository.StatusActive))
	if err != nil {
		return fmt.Errorf("postgres: clear lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) RecordFailedLogin(ctx context.Context, userID uuid.UUID, ip, ua string, now time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET failed_logins = failed_logins + 1 WHERE id = $1 RETURNING failed_logins
	`, pgUUID(userID)).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: record failed login: %w", err)
	}
	return count, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET failed_logins = 0 WHERE id = $1`, pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: reset failed logins: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLastLoggedIn(ctx context.Context, userID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_logged_in = $2 WHERE id = $1`, pgUUID(userID), pgTimestamptz(at))
	if err != nil {
		return fmt.Errorf("postgres: update last logged in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) EnsureRole(ctx context.Context, role repository.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, role.Name, role.Description)
	if err != nil {
		return fmt.Errorf("postgres: ensure role: %w", err)
	}
	return nil
}

func (s *Store) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)
		ON CONFLICT (user_id, role_name) DO NOTHING
	`, pgUUID(userID), roleName)
	if err != nil {
		return fmt.Errorf("postgres: assign role: %w", err)
	}
	return nil
}

func (s *Store) UnassignAllRoles(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: unassign roles: %w", err)
	}
	return nil
}

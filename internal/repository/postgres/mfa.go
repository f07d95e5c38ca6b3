package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"kodex/internal/repository"
)

func (s *Store) InsertMethod(ctx context.Context, method *repository.MfaMethod) error {
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin insert method: %w", err)
	}
	defer tx.Rollback(ctx)

	if method.IsPrimary {
		if _, err := tx.Exec(ctx, `UPDATE mfa_methods SET is_primary = false WHERE user_id = $1`, pgUUID(method.UserID)); err != nil {
			return fmt.Errorf("postgres: clear prior primary: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO mfa_methods (id, user_id, type, identifier, encrypted_secret, is_primary, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, pgUUID(method.ID), pgUUID(method.UserID), string(method.Type), method.Identifier, method.EncryptedSecret, method.IsPrimary, pgTimestamptz(method.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: insert mfa method: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) SetPrimary(ctx context.Context, userID, methodID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin set primary: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE mfa_methods SET is_primary = false WHERE user_id = $1`, pgUUID(userID)); err != nil {
		return fmt.Errorf("postgres: clear primary: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE mfa_methods SET is_primary = true WHERE id = $1 AND user_id = $2`, pgUUID(methodID), pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: set primary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *Store) RemoveMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mfa_methods WHERE id = $1 AND user_id = $2`, pgUUID(methodID), pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: remove method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanMethod(row interface {
	Scan(...any) error
}) (*repository.MfaMethod, error) {
	var m repository.MfaMethod
	var id, userID pgtype.UUID
	var mtype string
	var createdAt pgtype.Timestamptz

	if err := row.Scan(&id, &userID, &mtype, &m.Identifier, &m.EncryptedSecret, &m.IsPrimary, &createdAt); err != nil {
		return nil, err
	}
	m.ID = uuidFromPg(id)
	m.UserID = uuidFromPg(userID)
	m.Type = repository.MfaMethodType(mtype)
	m.CreatedAt = timeFromPg(createdAt)
	return &m, nil
}

func (s *Store) ListMethods(ctx context.Context, userID uuid.UUID) ([]repository.MfaMethod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, identifier, encrypted_secret, is_primary, created_at
		FROM mfa_methods WHERE user_id = $1 ORDER BY created_at
	`, pgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list methods: %w", err)
	}
	defer rows.Close()

	var out []repository.MfaMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) GetMethod(ctx context.Context, userID, methodID uuid.UUID) (*repository.MfaMethod, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, type, identifier, encrypted_secret, is_primary, created_at
		FROM mfa_methods WHERE id = $1 AND user_id = $2
	`, pgUUID(methodID), pgUUID(userID))
	m, err := scanMethod(row)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get method: %w", err)
	}
	return m, nil
}

func (s *Store) InsertChallenge(ctx context.Context, challenge *repository.MfaChallenge) error {
	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	var methodID pgtype.UUID
	if challenge.MethodID != nil {
		methodID = pgUUID(*challenge.MethodID)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO mfa_challenges (
			id, user_id, method_id, method_type, identifier, code_hash, created_at, expires_at, attempts, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		pgUUID(challenge.ID), pgUUID(challenge.UserID), methodID, string(challenge.MethodType), challenge.Identifier,
		challenge.CodeHash, pgTimestamptz(challenge.CreatedAt), pgTimestamptz(challenge.ExpiresAt),
		challenge.Attempts, string(challenge.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert challenge: %w", err)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, challengeID uuid.UUID) (*repository.MfaChallenge, error) {
	var c repository.MfaChallenge
	var id, userID, methodID pgtype.UUID
	var methodType, status string
	var createdAt, expiresAt pgtype.Timestamptz

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, method_id, method_type, identifier, code_hash, created_at, expires_at, attempts, status
		FROM mfa_challenges WHERE id = $1
	`, pgUUID(challengeID)).Scan(&id, &userID, &methodID, &methodType, &c.Identifier, &c.CodeHash, &createdAt, &expiresAt, &c.Attempts, &status)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get challenge: %w", err)
	}

	c.ID = uuidFromPg(id)
	c.UserID = uuidFromPg(userID)
	if methodID.Valid {
		m := uuidFromPg(methodID)
		c.MethodID = &m
	}
	c.MethodType = repository.MfaMethodType(methodType)
	c.CreatedAt = timeFromPg(createdAt)
	c.ExpiresAt = timeFromPg(expiresAt)
	c.Status = repository.ChallengeStatus(status)
	return &c, nil
}

func (s *Store) ConsumeChallenge(ctx context.Context, challengeID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE mfa_challenges SET status = $2 WHERE id = $1`, pgUUID(challengeID), string(repository.ChallengeConsumed))
	if err != nil {
		return fmt.Errorf("postgres: consume challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ExpireChallenge(ctx context.Context, challengeID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE mfa_challenges SET status = $2 WHERE id = $1`, pgUUID(challengeID), string(repository.ChallengeExpired))
	if err != nil {
		return fmt.Errorf("postgres: expire challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementChallengeAttempts(ctx context.Context, challengeID uuid.UUID) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts
	`, pgUUID(challengeID)).Scan(&attempts)
	if err != nil {
		if isNoRows(err) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: increment challenge attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) InsertBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin insert backup codes: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, h := range hashes {
		_, err := tx.Exec(ctx, `INSERT INTO backup_codes (id, user_id, code_hash) VALUES ($1,$2,$3)`, pgUUID(uuid.New()), pgUUID(userID), h)
		if err != nil {
			if isUniqueViolation(err, "backup_codes_code_hash_key") {
				return repository.ErrCodeHashExists
			}
			return fmt.Errorf("postgres: insert backup code: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteBackupCodes(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: delete backup codes: %w", err)
	}
	return nil
}

// MarkBackupCodeUsed relies on the UPDATE ... WHERE used_at IS NULL
// predicate to act as the compare-and-swap: a concurrent second consumption
// attempt of the same code affects zero rows and reports false, it never
// errors.
func (s *Store) MarkBackupCodeUsed(ctx context.Context, userID uuid.UUID, codeHash string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backup_codes SET used_at = $3
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, pgUUID(userID), codeHash, pgTimestamptz(now))
	if err != nil {
		return false, fmt.Errorf("postgres: mark backup code used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListBackupCodes(ctx context.Context, userID uuid.UUID) ([]repository.BackupCode, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, code_hash, used_at FROM backup_codes WHERE user_id = $1`, pgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list backup codes: %w", err)
	}
	defer rows.Close()

	var out []repository.BackupCode
	for rows.Next() {
		var bc repository.BackupCode
		var id pgtype.UUID
		var usedAt pgtype.Timestamptz
		if err := rows.Scan(&id, &bc.CodeHash, &usedAt); err != nil {
			return nil, err
		}
		bc.ID = uuidFromPg(id)
		bc.UserID = userID
		bc.UsedAt = timePtrFromPg(usedAt)
		out = append(out, bc)
	}
	return out, rows.Err()
}

func (s *Store) InsertTrustedDevice(ctx context.Context, device *repository.TrustedDevice) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trusted_devices (id, user_id, ip_hash, ua_hash, name, created_at, last_used_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, pgUUID(device.ID), pgUUID(device.UserID), device.IPHash, device.UAHash, device.Name,
		pgTimestamptz(device.CreatedAt), pgTimestamptz(device.LastUsedAt), pgTimestamptzPtr(device.ExpiresAt))
	if err != nil {
		return fmt.Errorf("postgres: insert trusted device: %w", err)
	}
	return nil
}

func scanDevice(row interface{ Scan(...any) error }) (*repository.TrustedDevice, error) {
	var d repository.TrustedDevice
	var id, userID pgtype.UUID
	var createdAt, lastUsedAt, expiresAt pgtype.Timestamptz

	if err := row.Scan(&id, &userID, &d.IPHash, &d.UAHash, &d.Name, &createdAt, &lastUsedAt, &expiresAt); err != nil {
		return nil, err
	}
	d.ID = uuidFromPg(id)
	d.UserID = uuidFromPg(userID)
	d.CreatedAt = timeFromPg(createdAt)
	d.LastUsedAt = timeFromPg(lastUsedAt)
	d.ExpiresAt = timePtrFromPg(expiresAt)
	return &d, nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, userID uuid.UUID) ([]repository.TrustedDevice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, ip_hash, ua_hash, name, created_at, last_used_at, expires_at
		FROM trusted_devices WHERE user_id = $1
	`, pgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list trusted devices: %w", err)
	}
	defer rows.Close()

	var out []repository.TrustedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) FindTrustedDevice(ctx context.Context, userID uuid.UUID, ipHash, uaHash string, now time.Time) (*repository.TrustedDevice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, ip_hash, ua_hash, name, created_at, last_used_at, expires_at
		FROM trusted_devices
		WHERE user_id = $1 AND ip_hash = $2 AND ua_hash = $3 AND (expires_at IS NULL OR expires_at > $4)
	`, pgUUID(userID), ipHash, uaHash, pgTimestamptz(now))
	d, err := scanDevice(row)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: find trusted device: %w", err)
	}
	return d, nil
}

func (s *Store) RemoveTrustedDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trusted_devices WHERE id = $1 AND user_id = $2`, pgUUID(deviceID), pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: remove trusted device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveAllTrustedDevices(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trusted_devices WHERE user_id = $1`, pgUUID(userID))
	if err != nil {
		return fmt.Errorf("postgres: remove all trusted devices: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"kodex/internal/repository"
)

func (s *Store) InsertVerificationToken(ctx context.Context, vt *repository.VerificationToken) error {
	if vt.ID == uuid.Nil {
		vt.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO verification_tokens (id, user_id, type, contact, token, created_at, expires_at, ip)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, pgUUID(vt.ID), pgUUID(vt.UserID), string(vt.Type), vt.Contact, vt.Token, pgTimestamptz(vt.CreatedAt), pgTimestamptz(vt.ExpiresAt), vt.IP)
	if err != nil {
		return fmt.Errorf("postgres: insert verification token: %w", err)
	}
	return nil
}

func (s *Store) GetVerificationToken(ctx context.Context, token string) (*repository.VerificationToken, error) {
	var vt repository.VerificationToken
	var id, userID pgtype.UUID
	var vtype string
	var createdAt, expiresAt, usedAt pgtype.Timestamptz

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, type, contact, created_at, expires_at, used_at, ip
		FROM verification_tokens WHERE token = $1
	`, token).Scan(&id, &userID, &vtype, &vt.Contact, &createdAt, &expiresAt, &usedAt, &vt.IP)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get verification token: %w", err)
	}

	vt.ID = uuidFromPg(id)
	vt.UserID = uuidFromPg(userID)
	vt.Type = repository.VerificationTokenType(vtype)
	vt.Token = token
	vt.CreatedAt = timeFromPg(createdAt)
	vt.ExpiresAt = timeFromPg(expiresAt)
	vt.UsedAt = timePtrFromPg(usedAt)
	return &vt, nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL
	`, pgUUID(id), pgTimestamptz(now))
	if err != nil {
		return fmt.Errorf("postgres: consume verification token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteVerificationToken(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM verification_tokens WHERE id = $1`, pgUUID(id))
	if err != nil {
		return fmt.Errorf("postgres: delete verification token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context, realm string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE realm = $1`, realm).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count users: %w", err)
	}
	return n, nil
}

func (s *Store) CountUsersWithAnyMfa(ctx context.Context, realm string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT u.id)
		FROM users u JOIN mfa_methods m ON m.user_id = u.id
		WHERE u.realm = $1
	`, realm).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count users with mfa: %w", err)
	}
	return n, nil
}

func (s *Store) CountMethodsByType(ctx context.Context, realm string) (map[repository.MfaMethodType]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.type, COUNT(*)
		FROM mfa_methods m JOIN users u ON u.id = m.user_id
		WHERE u.realm = $1
		GROUP BY m.type
	`, realm)
	if err != nil {
		return nil, fmt.Errorf("postgres: count methods by type: %w", err)
	}
	defer rows.Close()

	out := make(map[repository.MfaMethodType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[repository.MfaMethodType(t)] = n
	}
	return out, rows.Err()
}

func (s *Store) CountTrustedDevices(ctx context.Context, realm string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM trusted_devices d JOIN users u ON u.id = d.user_id
		WHERE u.realm = $1
	`, realm).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trusted devices: %w", err)
	}
	return n, nil
}

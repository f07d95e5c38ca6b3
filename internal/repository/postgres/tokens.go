package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"kodex/internal/repository"
)

func (s *Store) InsertRefreshFamily(ctx context.Context, family repository.TokenFamily, initial repository.RefreshTokenRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin insert family: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO token_families (id, user_id, realm, created_at) VALUES ($1,$2,$3,$4)
	`, pgUUID(family.ID), pgUUID(family.UserID), family.Realm, pgTimestamptz(family.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: insert token family: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_hash, family_id, user_id, created_at, expires_at, device_ip, device_ua, device_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		initial.TokenHash, pgUUID(initial.FamilyID), pgUUID(initial.UserID), pgTimestamptz(initial.CreatedAt), pgTimestamptz(initial.ExpiresAt),
		initial.Device.IP, initial.Device.UserAgent, pgTimestamptzPtr(deviceAtPtr(initial.Device)),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert refresh member: %w", err)
	}

	return tx.Commit(ctx)
}

func deviceAtPtr(d repository.DeviceContext) *time.Time {
	if d.At.IsZero() {
		return nil
	}
	t := d.At
	return &t
}

func (s *Store) GetRefreshMember(ctx context.Context, tokenHash string) (*repository.RefreshTokenRecord, *repository.TokenFamily, error) {
	var rec repository.RefreshTokenRecord
	var familyID, userID pgtype.UUID
	var createdAt, expiresAt, consumedAt, revokedAt pgtype.Timestamptz
	var ip, ua pgtype.Text
	var deviceAt pgtype.Timestamptz

	err := s.pool.QueryRow(ctx, `
		SELECT family_id, user_id, created_at, expires_at, consumed_at, revoked_at, device_ip, device_ua, device_at
		FROM refresh_tokens WHERE token_hash = $1
	`, tokenHash).Scan(&familyID, &userID, &createdAt, &expiresAt, &consumedAt, &revokedAt, &ip, &ua, &deviceAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil, repository.ErrNotFound
		}
		return nil, nil, fmt.Errorf("postgres: get refresh member: %w", err)
	}

	rec.TokenHash = tokenHash
	rec.FamilyID = uuidFromPg(familyID)
	rec.UserID = uuidFromPg(userID)
	rec.CreatedAt = timeFromPg(createdAt)
	rec.ExpiresAt = timeFromPg(expiresAt)
	rec.ConsumedAt = timePtrFromPg(consumedAt)
	rec.RevokedAt = timePtrFromPg(revokedAt)
	rec.Device = repository.DeviceContext{IP: textValue(ip), UserAgent: textValue(ua), At: timeFromPg(deviceAt)}

	var fam repository.TokenFamily
	var famUser pgtype.UUID
	var famCreated, famRevoked pgtype.Timestamptz
	err = s.pool.QueryRow(ctx, `SELECT user_id, realm, created_at, revoked_at FROM token_families WHERE id = $1`, familyID).
		Scan(&famUser, &fam.Realm, &famCreated, &famRevoked)
	if err != nil {
		if isNoRows(err) {
			return nil, nil, repository.ErrFamilyUnknown
		}
		return nil, nil, fmt.Errorf("postgres: get token family: %w", err)
	}
	fam.ID = uuidFromPg(familyID)
	fam.UserID = uuidFromPg(famUser)
	fam.CreatedAt = timeFromPg(famCreated)
	fam.RevokedAt = timePtrFromPg(famRevoked)

	return &rec, &fam, nil
}

func textValue(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// RotateRefresh mirrors the in-memory store's replay-detection contract
// inside a single transaction: a reused (already consumed or revoked)
// member revokes the entire family instead of erroring silently.
func (s *Store) RotateRefresh(ctx context.Context, familyID uuid.UUID, oldTokenHash, newTokenHash string, now, expiresAt time.Time, device repository.DeviceContext) (*repository.RefreshTokenRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin rotate: %w", err)
	}
	defer tx.Rollback(ctx)

	var famRevoked pgtype.Timestamptz
	if err := tx.QueryRow(ctx, `SELECT revoked_at FROM token_families WHERE id = $1 FOR UPDATE`, pgUUID(familyID)).Scan(&famRevoked); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrFamilyUnknown
		}
		return nil, fmt.Errorf("postgres: lock family: %w", err)
	}
	if famRevoked.Valid {
		return nil, repository.ErrFamilyRevoked
	}

	var oldFamily pgtype.UUID
	var consumedAt, revokedAt pgtype.Timestamptz
	var userID pgtype.UUID
	err = tx.QueryRow(ctx, `
		SELECT family_id, user_id, consumed_at, revoked_at FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE
	`, oldTokenHash).Scan(&oldFamily, &userID, &consumedAt, &revokedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: lock refresh member: %w", err)
	}
	if uuidFromPg(oldFamily) != familyID {
		return nil, repository.ErrNotFound
	}

	if consumedAt.Valid || revokedAt.Valid {
		if _, err := tx.Exec(ctx, `UPDATE token_families SET revoked_at = $2 WHERE id = $1`, pgUUID(familyID), pgTimestamptz(now)); err != nil {
			return nil, fmt.Errorf("postgres: revoke reused family: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL
		`, pgUUID(familyID), pgTimestamptz(now)); err != nil {
			return nil, fmt.Errorf("postgres: revoke family members: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, repository.ErrFamilyRevoked
	}

	if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET consumed_at = $2 WHERE token_hash = $1`, oldTokenHash, pgTimestamptz(now)); err != nil {
		return nil, fmt.Errorf("postgres: consume refresh member: %w", err)
	}

	next := repository.RefreshTokenRecord{
		TokenHash: newTokenHash,
		FamilyID:  familyID,
		UserID:    uuidFromPg(userID),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Device:    device,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (token_hash, family_id, user_id, created_at, expires_at, device_ip, device_ua, device_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, next.TokenHash, pgUUID(next.FamilyID), pgUUID(next.UserID), pgTimestamptz(next.CreatedAt), pgTimestamptz(next.ExpiresAt),
		device.IP, device.UserAgent, pgTimestamptzPtr(deviceAtPtr(device))); err != nil {
		return nil, fmt.Errorf("postgres: insert rotated member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin revoke family: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE token_families SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, pgUUID(familyID), pgTimestamptz(now)); err != nil {
		return fmt.Errorf("postgres: revoke family: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL
	`, pgUUID(familyID), pgTimestamptz(now)); err != nil {
		return fmt.Errorf("postgres: revoke family members: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) RevokeAllFamiliesForUser(ctx context.Context, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin revoke all families: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE token_families SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
	`, pgUUID(userID), pgTimestamptz(now)); err != nil {
		return fmt.Errorf("postgres: revoke families: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, pgUUID(userID), pgTimestamptz(now)); err != nil {
		return fmt.Errorf("postgres: revoke refresh members: %w", err)
	}
	return tx.Commit(ctx)
}

package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestPgUUID_RoundTrip(t *testing.T) {
	id := uuid.New()
	require.Equal(t, id, uuidFromPg(pgUUID(id)))
	require.Equal(t, uuid.Nil, uuidFromPg(pgUUID(uuid.Nil)), "the nil UUID must round-trip as invalid, not as a valid all-zero value")
}

func TestPgText_RoundTrip(t *testing.T) {
	require.Nil(t, textFromPg(pgText(nil)))

	s := "alice@example.com"
	require.Equal(t, &s, textFromPg(pgText(&s)))
}

func TestPgTimestamptz_RoundTrip(t *testing.T) {
	require.True(t, pgTimestamptz(time.Time{}).Time.IsZero())
	require.False(t, pgTimestamptz(time.Time{}).Valid, "the zero time must round-trip as SQL NULL, not a zero timestamp")

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.True(t, pgTimestamptz(now).Time.Equal(now))
	require.Equal(t, now, timeFromPg(pgTimestamptz(now)))
}

func TestPgTimestamptzPtr_RoundTrip(t *testing.T) {
	require.False(t, pgTimestamptzPtr(nil).Valid)
	require.Nil(t, timePtrFromPg(pgTimestamptzPtr(nil)))

	now := time.Now().UTC().Truncate(time.Microsecond)
	got := timePtrFromPg(pgTimestamptzPtr(&now))
	require.NotNil(t, got)
	require.True(t, got.Equal(now))
}

func TestIsNoRows(t *testing.T) {
	require.True(t, isNoRows(pgx.ErrNoRows))
	require.False(t, isNoRows(errors.New("some other error")))
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_realm_email_key"}

	require.True(t, isUniqueViolation(pgErr, "users_realm_email_key"))
	require.True(t, isUniqueViolation(pgErr, ""), "an empty constraint name matches any unique violation")
	require.False(t, isUniqueViolation(pgErr, "users_realm_phone_key"))

	notUnique := &pgconn.PgError{Code: "23503"}
	require.False(t, isUniqueViolation(notUnique, ""))

	require.False(t, isUniqueViolation(errors.New("not a pg error"), ""))
}

package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLogger durably persists each Entry to the audit_events table the
// migrations already reserve for it. Grounded in the teacher's
// internal/audit/service.go (DBLogger), rewritten against a raw pgxpool
// insert instead of a generated db.Queries method, since this module has
// no sqlc codegen step; metadata is a flat JSON object instead of the
// teacher's arbitrary map[string]interface{}, matching what Entry itself
// carries. A failed insert is logged and swallowed rather than returned,
// the same fire-and-forget contract Logger.Log has everywhere else: an
// audit sink must never fail the operation it's observing.
type PostgresLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLogger returns a PostgresLogger writing through pool. Pass a
// nil *slog.Logger to fall back to slog.Default() for insert failures.
func NewPostgresLogger(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLogger{pool: pool, logger: logger}
}

func (l *PostgresLogger) Log(ctx context.Context, entry Entry) {
	metadata, err := json.Marshal(map[string]string{"resource": entry.Resource})
	if err != nil {
		metadata = []byte("{}")
	}

	var userID any
	if entry.ActorID != uuid.Nil {
		userID = entry.ActorID
	}

	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_events (id, realm, user_id, event_type, metadata) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Realm, userID, string(entry.Action), metadata)
	if err != nil {
		l.logger.Error("audit_insert_failed", "action", entry.Action, "realm", entry.Realm, "error", err)
	}
}

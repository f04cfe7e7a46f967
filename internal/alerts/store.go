package alerts

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/tradeops/eventguard/internal/observ"
)

// Store archives alerts to sqlite for offline audit. The in-memory history
// in Manager stays authoritative for the running engine; the archive is a
// write-behind copy and its failures never surface to callers.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the archive. Empty dsn disables archiving
// and returns a nil store, which all methods tolerate.
func OpenStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Init(ctx context.Context) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		ts TEXT NOT NULL,
		escalated INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`)
	return err
}

// Notify implements Notifier by archiving each accepted alert.
func (s *Store) Notify(a Alert) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO alerts (id, entity_id, alert_type, severity, message, ts, escalated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EntityID, a.Type, a.Severity.String(), a.Message,
		a.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), boolToInt(a.Escalated),
	)
	if err != nil {
		observ.IncCounter("alert_archive_errors_total", nil)
	}
}

// NotifyEscalation is a no-op: the escalated flag is already on the row.
func (s *Store) NotifyEscalation(a Alert) {}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

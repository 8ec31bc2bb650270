package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"stibot/pkg/logx"
	"stibot/pkg/session"
)

// schemaVersion is bumped whenever the table layout changes; migrations run
// at open time.
const schemaVersion = 1

// SQLiteStore persists sessions in a single SQLite database. Sessions are
// stored as JSON snapshots with the hot columns (stage, updated_at) broken
// out for inspection and retention tooling.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// OpenSQLite opens (and if needed creates) the session database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports one writer; keep the pool at a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("store")
	logger.Info("Session database ready: %s", path)

	return &SQLiteStore{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version >= schemaVersion {
		return nil
	}

	for v := version + 1; v <= schemaVersion; v++ {
		if err := applyMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", v, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", v, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				session_id TEXT PRIMARY KEY,
				stage      TEXT NOT NULL,
				snapshot   TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
		`)
		if err != nil {
			return fmt.Errorf("failed to create sessions table: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("no migration defined for version %d", version)
	}
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot for session %s: %w", sessionID, err)
	}
	return session.FromSnapshot(snap)
}

// Save implements Store. The full snapshot is written in one statement so a
// session is never observed mid-transition.
func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	snap := sess.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, stage, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stage = excluded.stage,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, snap.SessionID, snap.Stage, string(raw),
		snap.CreatedAt.Format("2006-01-02T15:04:05.000Z"),
		snap.UpdatedAt.Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID(), err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close session database: %w", err)
	}
	return nil
}

// CountByStage returns how many stored sessions currently sit in each
// stage. Used by retention tooling and diagnostics.
func (s *SQLiteStore) CountByStage(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT stage, COUNT(*) FROM sessions GROUP BY stage")
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var stg string
		var n int
		if err := rows.Scan(&stg, &n); err != nil {
			return nil, fmt.Errorf("failed to scan session count: %w", err)
		}
		counts[stg] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session counts: %w", err)
	}
	return counts, nil
}

// Package ledger records the terminal state of every conversion job in
// SQLite.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one finished job.
type Entry struct {
	ID           string
	Conversation string
	Channel      string
	Kind         string
	Status       string // done | failed
	Stage        string // last stage reached before the terminal state
	Error        string
	ArtifactSize int64
	Pages        int
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (e Entry) Duration() time.Duration { return e.FinishedAt.Sub(e.StartedAt) }

// Ledger implements job.Recorder.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create ledger directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

func (l *Ledger) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs
		 (id, conversation_id, channel, kind, status, stage, error, artifact_size, pages, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Conversation, e.Channel, e.Kind, e.Status, e.Stage, e.Error,
		e.ArtifactSize, e.Pages, e.StartedAt.UTC(), e.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", e.ID, err)
	}
	return nil
}

const entryColumns = `id, conversation_id, channel, kind, status, stage, error, artifact_size, pages, started_at, finished_at`

// Recent returns the newest entries first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM jobs ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (l *Ledger) ByConversation(ctx context.Context, conv string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM jobs WHERE conversation_id = ? ORDER BY finished_at DESC LIMIT ?`, conv, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Get returns nil, nil when id is unknown.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// Counts returns the number of entries per kind and status, keyed "kind/status".
func (l *Ledger) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT kind, status, COUNT(*) FROM jobs GROUP BY kind, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind, status string
		var n int
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, err
		}
		out[kind+"/"+status] = n
	}
	return out, rows.Err()
}

// Prune deletes entries that finished before cutoff.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM jobs WHERE finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var stage, errText, channel sql.NullString
		if err := rows.Scan(&e.ID, &e.Conversation, &channel, &e.Kind, &e.Status, &stage, &errText,
			&e.ArtifactSize, &e.Pages, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Channel, e.Stage, e.Error = channel.String, stage.String, errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Package journal keeps a local SQLite record of every dispatch, for the
// journal CLI commands and the janitor's retention job.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteJournal implements domain.Recorder using SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.Recorder = (*SQLiteJournal)(nil)

func Open(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteJournal{db: db, logger: logger}, nil
}

func (j *SQLiteJournal) Record(ctx context.Context, o domain.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dispatches
		 (id, chat_id, message_id, platform, url, strategy, status, deleted, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ChatID, o.MessageID, string(o.Platform), o.URL, o.Strategy, string(o.Status),
		boolToInt(o.Deleted), o.Err, o.Duration.Milliseconds(), o.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record dispatch %s: %w", o.ID, err)
	}
	return nil
}

// Recent returns the newest outcomes first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, platform, url, strategy, status, deleted, error, duration_ms, created_at
		 FROM dispatches ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var (
			o                      domain.Outcome
			platform, status       string
			url, strategy, errText sql.NullString
			deleted                int
			durMS, atMS            int64
		)
		if err := rows.Scan(&o.ID, &o.ChatID, &o.MessageID, &platform, &url, &strategy, &status, &deleted, &errText, &durMS, &atMS); err != nil {
			return nil, err
		}
		o.Platform = domain.PlatformTag(platform)
		o.Status = domain.OutcomeStatus(status)
		o.URL = url.String
		o.Strategy = strategy.String
		o.Err = errText.String
		o.Deleted = deleted != 0
		o.Duration = time.Duration(durMS) * time.Millisecond
		o.At = time.UnixMilli(atMS)
		out = append(out, o)
	}
	return out, rows.Err()
}

// StatRow is the number of dispatches for one platform and status.
type StatRow struct {
	Platform domain.PlatformTag
	Status   domain.OutcomeStatus
	Count    int
}

// Stats counts dispatches since the given time, grouped by platform and
// status.
func (j *SQLiteJournal) Stats(ctx context.Context, since time.Time) ([]StatRow, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT platform, status, COUNT(*) FROM dispatches
		 WHERE created_at >= ? GROUP BY platform, status ORDER BY platform, status`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatRow
	for rows.Next() {
		var r StatRow
		var platform, status string
		if err := rows.Scan(&platform, &status, &r.Count); err != nil {
			return nil, err
		}
		r.Platform = domain.PlatformTag(platform)
		r.Status = domain.OutcomeStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the cutoff and returns how many went.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks the database is reachable.
func (j *SQLiteJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

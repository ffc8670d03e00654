package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gwlsn/remuxer/internal/jobs"
	"github.com/gwlsn/remuxer/internal/media"
	"github.com/gwlsn/remuxer/internal/scan"
	_ "modernc.org/sqlite"
)

// schemaVersion 2 added validate to the probe cache key.
const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS probe_cache (
	path TEXT NOT NULL,
	include_audio INTEGER NOT NULL,
	validate INTEGER NOT NULL,
	size INTEGER NOT NULL,
	mod_time INTEGER NOT NULL,
	valid INTEGER NOT NULL,
	frame_rate_num INTEGER NOT NULL DEFAULT 0,
	frame_rate_den INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	audio_tracks INTEGER NOT NULL DEFAULT 0,
	audio_languages TEXT NOT NULL DEFAULT '[]',
	probed_at TEXT NOT NULL,
	PRIMARY KEY (path, include_audio, validate)
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	total INTEGER NOT NULL,
	remuxed INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	cancelled INTEGER NOT NULL,
	file_action TEXT NOT NULL,
	output_format TEXT NOT NULL,
	breakdown TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS run_files (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	input_path TEXT NOT NULL,
	output_path TEXT,
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL,
	error TEXT,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_files_outcome ON run_files(outcome);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL lets the scanner's cache writes and API reads overlap
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	case version > schemaVersion:
		db.Close()
		return nil, fmt.Errorf("database schema v%d is newer than supported v%d", version, schemaVersion)
	case version < schemaVersion:
		if err := upgradeCache(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// upgradeCache rebuilds the probe cache with the current key. Cached probes
// are disposable, so old rows are dropped rather than converted.
func upgradeCache(db *sql.DB) error {
	if _, err := db.Exec("DROP TABLE IF EXISTS probe_cache"); err != nil {
		return fmt.Errorf("drop probe cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

// LookupDescriptor returns the cached descriptor when path, size, mtime and
// the audio and validation flags all match.
func (s *SQLiteStore) LookupDescriptor(ctx context.Context, key scan.CacheKey) (media.Descriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT valid, frame_rate_num, frame_rate_den, duration, audio_tracks, audio_languages
		FROM probe_cache
		WHERE path = ? AND include_audio = ? AND validate = ? AND size = ? AND mod_time = ?
	`, key.Path, boolToInt(key.IncludeAudio), boolToInt(key.Validate), key.Size, key.ModTime.UnixNano())

	d := media.Descriptor{Path: key.Path}
	var valid int
	var langs string
	err := row.Scan(&valid, &d.FrameRate.Num, &d.FrameRate.Den, &d.DurationSeconds, &d.AudioTrackCount, &langs)
	if errors.Is(err, sql.ErrNoRows) {
		return media.Descriptor{}, false, nil
	}
	if err != nil {
		return media.Descriptor{}, false, fmt.Errorf("lookup %s: %w", key.Path, err)
	}
	d.Valid = valid != 0
	if err := json.Unmarshal([]byte(langs), &d.AudioLanguages); err != nil {
		return media.Descriptor{}, false, fmt.Errorf("decode languages of %s: %w", key.Path, err)
	}
	return d, true, nil
}

// StoreDescriptor caches d using INSERT OR REPLACE.
func (s *SQLiteStore) StoreDescriptor(ctx context.Context, key scan.CacheKey, d media.Descriptor) error {
	langs, err := json.Marshal(nonNil(d.AudioLanguages))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO probe_cache (
			path, include_audio, validate, size, mod_time, valid,
			frame_rate_num, frame_rate_den, duration, audio_tracks, audio_languages, probed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		key.Path, boolToInt(key.IncludeAudio), boolToInt(key.Validate), key.Size, key.ModTime.UnixNano(), boolToInt(d.Valid),
		d.FrameRate.Num, d.FrameRate.Den, d.DurationSeconds, d.AudioTrackCount, string(langs),
		formatTime(time.Now()),
	)
	return err
}

// RecordRun persists a run and its files in a transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, sum jobs.Summary, settings jobs.JobSettings) error {
	breakdown, err := json.Marshal(sum.Breakdown)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, started_at, elapsed_ms, total, remuxed, skipped, failed, cancelled,
			file_action, output_format, breakdown
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sum.RunID, formatTime(sum.StartedAt), sum.Elapsed.Milliseconds(), sum.Total,
		sum.Remuxed, sum.Skipped, sum.Failed, boolToInt(sum.Cancelled),
		string(settings.FileAction), settings.OutputFormat, string(breakdown),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO run_files (
			run_id, position, input_path, output_path, outcome, reason, error, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range sum.Files {
		_, err := stmt.ExecContext(ctx,
			sum.RunID, f.Index, f.Input, nullString(f.Output),
			string(f.Outcome), string(f.Reason), nullString(f.Error), f.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert file %s: %w", f.Input, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, started_at, elapsed_ms, total, remuxed, skipped, failed, cancelled,
	file_action, output_format, breakdown`

// ListRuns returns runs newest first, without their files.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its files in queue order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, input_path, output_path, outcome, reason, error, elapsed_ms
		FROM run_files
		WHERE run_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f FileRecord
		var output, errStr sql.NullString
		var elapsedMS int64
		if err := rows.Scan(&f.Index, &f.Input, &output, &f.Outcome, &f.Reason, &errStr, &elapsedMS); err != nil {
			return nil, err
		}
		f.Output = output.String
		f.Error = errStr.String
		f.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		run.Files = append(run.Files, f)
	}
	return run, rows.Err()
}

// PruneCache deletes entries whose file is gone.
func (s *SQLiteStore) PruneCache(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM probe_cache`)
	if err != nil {
		return 0, err
	}
	var gone []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			gone = append(gone, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range gone {
		res, err := s.db.ExecContext(ctx, `DELETE FROM probe_cache WHERE path = ?`, p)
		if err != nil {
			return removed, err
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

// Stats returns table counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM probe_cache),
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM run_files),
			(SELECT COUNT(*) FROM run_files WHERE outcome = 'completed')
	`).Scan(&st.CachedFiles, &st.Runs, &st.Files, &st.Remuxed)
	return st, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var r RunRecord
	var startedAt, breakdown string
	var elapsedMS int64
	var cancelled int

	err := row.Scan(
		&r.ID, &startedAt, &elapsedMS, &r.Total, &r.Remuxed, &r.Skipped, &r.Failed, &cancelled,
		&r.Action, &r.Format, &breakdown,
	)
	if err != nil {
		return nil, err
	}

	r.StartedAt = parseTime(startedAt)
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	r.Cancelled = cancelled != 0
	if err := json.Unmarshal([]byte(breakdown), &r.Breakdown); err != nil {
		return nil, fmt.Errorf("decode breakdown of run %s: %w", r.ID, err)
	}
	return &r, nil
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"autopipe/internal/config"
)

// StateStarted marks a row whose invocation has not finished.
const StateStarted = "started"

// Run is one recorded invocation.
type Run struct {
	ID               int64
	Pipeline         string
	SpecPath         string
	ExecutionBackend string
	VolumeBackend    string
	Volume           string
	BackendRunID     string
	State            string
	Detail           string
	ResultLocation   string
	OutputDir        string
	ErrorMessage     string
	ExitCode         int
	Fetched          bool
	Released         bool
	StartedAt        time.Time
	EndedAt          *time.Time
}

// Duration returns the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open opens the history database named by cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.Paths.HistoryDB)
}

// OpenPath opens or creates the database at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const runColumns = "id, pipeline, spec_path, execution_backend, volume_backend, volume, backend_run_id, state, detail, result_location, output_dir, error_message, exit_code, fetched, released, started_at, ended_at"

// Start inserts run and assigns its ID. A zero StartedAt is set to now and an
// empty State to StateStarted.
func (s *Store) Start(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.State == "" {
		run.State = StateStarted
	}
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `INSERT INTO runs (
            pipeline, spec_path, execution_backend, volume_backend, volume, backend_run_id,
            state, detail, result_location, output_dir, error_message, exit_code,
            fetched, released, started_at, ended_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.Pipeline,
			nullableString(run.SpecPath),
			run.ExecutionBackend,
			run.VolumeBackend,
			nullableString(run.Volume),
			nullableString(run.BackendRunID),
			run.State,
			nullableString(run.Detail),
			nullableString(run.ResultLocation),
			nullableString(run.OutputDir),
			nullableString(run.ErrorMessage),
			run.ExitCode,
			boolToInt(run.Fetched),
			boolToInt(run.Released),
			run.StartedAt.UTC().Format(time.RFC3339Nano),
			nullableTime(run.EndedAt),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read run id: %w", err)
		}
		run.ID = id
		return nil
	})
}

// Update persists every mutable field of run.
func (s *Store) Update(ctx context.Context, run *Run) error {
	if run.ID == 0 {
		return errors.New("update run: missing id")
	}
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE runs SET
            volume = ?, backend_run_id = ?, state = ?, detail = ?, result_location = ?,
            error_message = ?, exit_code = ?, fetched = ?, released = ?, ended_at = ?
        WHERE id = ?`,
			nullableString(run.Volume),
			nullableString(run.BackendRunID),
			run.State,
			nullableString(run.Detail),
			nullableString(run.ResultLocation),
			nullableString(run.ErrorMessage),
			run.ExitCode,
			boolToInt(run.Fetched),
			boolToInt(run.Released),
			nullableTime(run.EndedAt),
			run.ID,
		)
		if err != nil {
			return fmt.Errorf("update run %d: %w", run.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update run %d: %w", run.ID, ErrNotFound)
		}
		return nil
	})
}

// ErrNotFound reports a missing run.
var ErrNotFound = errors.New("run not found")

// Get returns the run with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. A limit of zero or less returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Unreleased returns finished runs whose volume was not released, oldest first.
func (s *Store) Unreleased(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
        WHERE released = 0 AND volume IS NOT NULL AND state != ?
        ORDER BY started_at`, StateStarted)
	if err != nil {
		return nil, fmt.Errorf("list unreleased runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkReleased records that a volume was released out of band.
func (s *Store) MarkReleased(ctx context.Context, volume string) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE runs SET released = 1 WHERE volume = ?`, volume)
		if err != nil {
			return fmt.Errorf("mark volume released: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

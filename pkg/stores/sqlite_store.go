package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/ringoldsdev/efemel/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore records runs in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (s *SQLiteStore) dsn() string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !isMemory(s.path) {
		pragmas += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	sep := "?"
	if strings.Contains(s.path, "?") {
		sep = "&"
	}
	return s.path + sep + pragmas
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveReport records report and its per-file outcomes in one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.Report) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errMsg *string
	if err := report.Err(); err != nil {
		msg := err.Error()
		errMsg = &msg
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, environment, status, dry_run, started_at, duration_ns,
			succeeded, failed, skipped, evaluations, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Environment,
		report.Status(),
		report.DryRun,
		report.StartedAt.UnixNano(),
		int64(report.Duration),
		len(report.Succeeded),
		len(report.Failed),
		len(report.Skipped),
		report.Evaluations,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_results (run_id, position, path, status, output, bytes, kind, stage, message, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer stmt.Close()

	position := 0
	insert := func(rec FileRecord) error {
		_, err := stmt.ExecContext(ctx, report.RunID, position, rec.Path, rec.Status, rec.Output,
			rec.Bytes, rec.Kind, rec.Stage, rec.Message, int64(rec.Duration))
		position++
		if err != nil {
			return fmt.Errorf("failed to record %s: %w", rec.Path, err)
		}
		return nil
	}

	for _, r := range report.Succeeded {
		if err := insert(FileRecord{
			Path:     r.Path,
			Status:   FileStatusSucceeded,
			Output:   r.Output,
			Bytes:    r.Bytes,
			Duration: r.Duration,
		}); err != nil {
			return err
		}
	}
	for _, f := range report.Failed {
		if err := insert(FileRecord{
			Path:     f.Path,
			Status:   FileStatusFailed,
			Kind:     string(f.Kind),
			Stage:    f.Stage,
			Message:  f.Message,
			Duration: f.Duration,
		}); err != nil {
			return err
		}
	}
	for _, p := range report.Skipped {
		if err := insert(FileRecord{Path: p, Status: FileStatusSkipped}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, environment, status, dry_run, started_at, duration_ns,
	succeeded, failed, skipped, evaluations, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		startedAt int64
		duration  int64
	)
	if err := row.Scan(
		&run.ID,
		&run.Environment,
		&run.Status,
		&run.DryRun,
		&startedAt,
		&duration,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&run.Evaluations,
		&run.Error,
	); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, startedAt)
	run.Duration = time.Duration(duration)
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, filter.Environment)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ListFiles returns the file records of a run in the order they were saved.
func (s *SQLiteStore) ListFiles(ctx context.Context, runID string) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, path, status, output, bytes, kind, stage, message, duration_ns
		FROM file_results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []*FileRecord{}
	for rows.Next() {
		var (
			rec      FileRecord
			duration int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Path, &rec.Status, &rec.Output, &rec.Bytes,
			&rec.Kind, &rec.Stage, &rec.Message, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		rec.Duration = time.Duration(duration)
		files = append(files, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}

// DeleteRun deletes a run and its file records.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// PruneRuns deletes all but the keep most recent runs and returns how many
// were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

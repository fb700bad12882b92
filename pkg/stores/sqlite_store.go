package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a build or step does not exist
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// One connection serializes writers; an in-memory database also only
	// exists on the connection that created it.
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with foreign keys and WAL mode enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxOpenConns)
	if s.cfg.Path != ":memory:" {
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
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

// CreateBuild creates a new build record
func (s *SQLiteStore) CreateBuild(ctx context.Context, build *Build) error {
	query := `
		INSERT INTO builds (id, layer, subvolume, status, started_at, completed_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if build.Metadata == "" {
		build.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		build.ID,
		build.Layer,
		build.Subvolume,
		build.Status,
		build.StartedAt.UTC(),
		build.CompletedAt,
		build.Error,
		build.Metadata,
	)

	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}

	return nil
}

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	query := `
		SELECT id, layer, subvolume, status, started_at, completed_at, error, metadata
		FROM builds
		WHERE id = ?
	`

	build, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return build, nil
}

// UpdateBuildStatus updates the status of a build
func (s *SQLiteStore) UpdateBuildStatus(ctx context.Context, id string, status BuildStatus, errMsg *string) error {
	query := `
		UPDATE builds
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt *time.Time
	if status != BuildStatusRunning {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update build status: %w", err)
	}

	return expectOneRow(result, "build", id)
}

// ListBuilds lists builds, newest first, optionally of one layer only
func (s *SQLiteStore) ListBuilds(ctx context.Context, layer *string, limit, offset int) ([]*Build, error) {
	query := `
		SELECT id, layer, subvolume, status, started_at, completed_at, error, metadata
		FROM builds
		WHERE (? IS NULL OR layer = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, layer, layer, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*Build{}
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, build)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

// DeleteBuild deletes a build and its steps
func (s *SQLiteStore) DeleteBuild(ctx context.Context, id string) error {
	query := `DELETE FROM builds WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}

	return expectOneRow(result, "build", id)
}

// DeleteBuildsBefore deletes finished builds started before the given time
func (s *SQLiteStore) DeleteBuildsBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM builds WHERE status != ? AND started_at < ?`

	result, err := s.db.ExecContext(ctx, query, BuildStatusRunning, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete builds: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CreateBuildStep creates a new build step record
func (s *SQLiteStore) CreateBuildStep(ctx context.Context, step *BuildStep) error {
	query := `
		INSERT INTO build_steps (id, build_id, seq, phase, kind, provenance, status, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		step.ID,
		step.BuildID,
		step.Seq,
		step.Phase,
		step.Kind,
		step.Provenance,
		step.Status,
		step.StartedAt.UTC(),
		step.CompletedAt,
		step.Error,
	)

	if err != nil {
		return fmt.Errorf("failed to create build step: %w", err)
	}

	return nil
}

// UpdateBuildStepStatus updates the status of a build step
func (s *SQLiteStore) UpdateBuildStepStatus(ctx context.Context, id string, status StepStatus, errMsg *string) error {
	query := `
		UPDATE build_steps
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt *time.Time
	if status != StepStatusRunning {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update build step status: %w", err)
	}

	return expectOneRow(result, "build step", id)
}

// ListBuildSteps lists the steps of a build in build order
func (s *SQLiteStore) ListBuildSteps(ctx context.Context, buildID string) ([]*BuildStep, error) {
	query := `
		SELECT id, build_id, seq, phase, kind, provenance, status, started_at, completed_at, error
		FROM build_steps
		WHERE build_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list build steps: %w", err)
	}
	defer rows.Close()

	steps := []*BuildStep{}
	for rows.Next() {
		step := &BuildStep{}
		err := rows.Scan(
			&step.ID,
			&step.BuildID,
			&step.Seq,
			&step.Phase,
			&step.Kind,
			&step.Provenance,
			&step.Status,
			&step.StartedAt,
			&step.CompletedAt,
			&step.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating build steps: %w", err)
	}

	return steps, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	build := &Build{}
	err := row.Scan(
		&build.ID,
		&build.Layer,
		&build.Subvolume,
		&build.Status,
		&build.StartedAt,
		&build.CompletedAt,
		&build.Error,
		&build.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return build, nil
}

func expectOneRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}

	return nil
}

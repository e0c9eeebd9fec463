package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout keeps stored timestamps sortable as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite. It allocates ids from durable
// per-hint sequences and archives deposits with their event logs.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Path == ":memory:" {
		// Every connection to :memory: opens a fresh database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = -1
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
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

// Allocate reserves n ids from the sequence named by typeHint. Ids have the
// form "<typeHint>-<n>", so sequences never collide.
func (s *SQLiteStore) Allocate(ctx context.Context, n int, typeHint string) ([]string, error) {
	if n <= 0 {
		return nil, ingest.NewValidationError("allocation size must be positive").WithOperation("store.allocate")
	}
	if typeHint == "" {
		typeHint = "id"
	}

	query := `
		INSERT INTO id_sequences (type_hint, last_value)
		VALUES (?, ?)
		ON CONFLICT(type_hint) DO UPDATE SET last_value = last_value + excluded.last_value
		RETURNING last_value
	`

	var last int64
	if err := s.db.QueryRowContext(ctx, query, typeHint, n).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to allocate ids: %w", err)
	}

	ids := make([]string, n)
	first := last - int64(n) + 1
	for i := range ids {
		ids[i] = typeHint + "-" + strconv.FormatInt(first+int64(i), 10)
	}
	return ids, nil
}

// ArchiveDeposit stores rec, replacing any earlier archive of the same deposit.
func (s *SQLiteStore) ArchiveDeposit(ctx context.Context, rec deposit.ArchivedDeposit) error {
	if rec.DepositID == "" {
		return ingest.NewValidationError("deposit id is required").WithOperation("store.archive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archived_deposits (deposit_id, user_name, status, phase, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(deposit_id) DO UPDATE SET
			user_name = excluded.user_name,
			status = excluded.status,
			phase = excluded.phase,
			created_at = excluded.created_at,
			archived_at = excluded.archived_at
	`,
		rec.DepositID,
		rec.User,
		string(rec.Phase.Status),
		rec.Phase.Phase,
		formatTime(rec.CreatedAt),
		formatTime(rec.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to archive deposit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM archived_events WHERE deposit_id = ?`, rec.DepositID); err != nil {
		return fmt.Errorf("failed to clear archived events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO archived_events (deposit_id, seq, event_id, event_type, event_date, outcome, detail, targets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, e := range rec.Events {
		targets := e.Targets
		if targets == nil {
			targets = []string{}
		}
		encoded, err := json.Marshal(targets)
		if err != nil {
			return fmt.Errorf("failed to encode event targets: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, rec.DepositID, i, e.ID, e.Type, formatTime(e.Date), e.Outcome, e.Detail, string(encoded)); err != nil {
			return fmt.Errorf("failed to archive event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	return nil
}

// LoadDeposit returns an archived deposit with its events in archive order.
func (s *SQLiteStore) LoadDeposit(ctx context.Context, depositID string) (*deposit.ArchivedDeposit, error) {
	var (
		rec                 deposit.ArchivedDeposit
		status              string
		createdAt, archived string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT deposit_id, user_name, status, phase, created_at, archived_at
		FROM archived_deposits
		WHERE deposit_id = ?
	`, depositID).Scan(&rec.DepositID, &rec.User, &status, &rec.Phase.Phase, &createdAt, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ingest.NewNotFoundError(depositID).WithDeposit(depositID).WithOperation("store.load")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived deposit: %w", err)
	}
	rec.Phase.Status = ingest.PhaseStatus(status)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.ArchivedAt, err = parseTime(archived); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, event_date, outcome, detail, targets
		FROM archived_events
		WHERE deposit_id = ?
		ORDER BY seq
	`, depositID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			e             ingest.Event
			date, targets string
		)
		if err := rows.Scan(&e.ID, &e.Type, &date, &e.Outcome, &e.Detail, &targets); err != nil {
			return nil, fmt.Errorf("failed to scan archived event: %w", err)
		}
		if e.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(targets), &e.Targets); err != nil {
			return nil, fmt.Errorf("failed to decode event targets: %w", err)
		}
		if len(e.Targets) == 0 {
			e.Targets = nil
		}
		rec.Events = append(rec.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived events: %w", err)
	}

	return &rec, nil
}

// ListArchived lists archived deposits, newest archive first. An empty status
// lists every deposit.
func (s *SQLiteStore) ListArchived(ctx context.Context, status ingest.PhaseStatus, limit, offset int) ([]ArchivedSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		where []string
		args  []interface{}
	)
	if status != "" {
		where = append(where, "d.status = ?")
		args = append(args, string(status))
	}
	query := `
		SELECT d.deposit_id, d.user_name, d.status, d.phase, d.created_at, d.archived_at,
			(SELECT COUNT(*) FROM archived_events e WHERE e.deposit_id = d.deposit_id)
		FROM archived_deposits d
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY d.archived_at DESC, d.deposit_id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived deposits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArchivedSummary
	for rows.Next() {
		var (
			sum                 ArchivedSummary
			st                  string
			createdAt, archived string
		)
		if err := rows.Scan(&sum.DepositID, &sum.User, &st, &sum.Phase.Phase, &createdAt, &archived, &sum.EventCount); err != nil {
			return nil, fmt.Errorf("failed to scan archived deposit: %w", err)
		}
		sum.Phase.Status = ingest.PhaseStatus(st)
		if sum.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if sum.ArchivedAt, err = parseTime(archived); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived deposits: %w", err)
	}
	return out, nil
}

// DeleteArchived removes an archived deposit and its events.
func (s *SQLiteStore) DeleteArchived(ctx context.Context, depositID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM archived_deposits WHERE deposit_id = ?`, depositID)
	if err != nil {
		return fmt.Errorf("failed to delete archived deposit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ingest.NewNotFoundError(depositID).WithDeposit(depositID).WithOperation("store.delete")
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

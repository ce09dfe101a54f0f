// Package history keeps a SQLite ledger of engine invocations. The per-point
// YAML records under each output root stay the source of truth for results;
// the ledger only answers what ran, when, and how it ended, across output
// directories and across engine restarts.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// Store provides SQLite-backed invocation persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// NewInvocationID returns a fresh ledger ID.
func NewInvocationID() string {
	return uuid.New().String()
}

// SaveInvocation inserts or updates an invocation row
func (s *Store) SaveInvocation(inv *domain.Invocation) error {
	_, err := s.db.Exec(`
		INSERT INTO invocations (id, config_path, out_dir, mode, status, pid, total, succeeded, failed, skipped, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			total = excluded.total,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			finished_at = excluded.finished_at
	`,
		inv.ID,
		inv.ConfigPath,
		inv.OutDir,
		string(inv.Mode),
		string(inv.Status),
		inv.PID,
		inv.Total,
		inv.Succeeded,
		inv.Failed,
		inv.Skipped,
		inv.StartedAt,
		inv.FinishedAt,
	)
	return err
}

// GetInvocation retrieves an invocation by ID
func (s *Store) GetInvocation(id string) (*domain.Invocation, error) {
	row := s.db.QueryRow(`
		SELECT id, config_path, out_dir, mode, status, pid, total, succeeded, failed, skipped, started_at, finished_at
		FROM invocations WHERE id = ?
	`, id)

	return scanInvocation(row)
}

// ListOptions specifies filters for listing invocations
type ListOptions struct {
	OutDir string
	Status domain.InvocationStatus
	Limit  int
}

// ListInvocations returns invocations matching the given options, newest first
func (s *Store) ListInvocations(opts ListOptions) ([]*domain.Invocation, error) {
	query := `SELECT id, config_path, out_dir, mode, status, pid, total, succeeded, failed, skipped, started_at, finished_at FROM invocations WHERE 1=1`
	var args []interface{}

	if opts.OutDir != "" {
		query += " AND out_dir = ?"
		args = append(args, opts.OutDir)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []*domain.Invocation
	for rows.Next() {
		inv, err := scanInvocationRows(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}

	return invs, rows.Err()
}

// UpdateInvocationStatus updates an invocation's status
func (s *Store) UpdateInvocationStatus(id string, status domain.InvocationStatus) error {
	_, err := s.db.Exec(`UPDATE invocations SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

// Reconcile marks stale running invocations as interrupted. An invocation is
// stale when its recorded PID no longer maps to a live process. The probe is
// injected so callers decide how liveness is checked.
func (s *Store) Reconcile(alive func(pid int) bool) (int, error) {
	running, err := s.ListInvocations(ListOptions{Status: domain.InvocationRunning})
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, inv := range running {
		if inv.PID > 0 && alive(inv.PID) {
			continue
		}
		if err := s.UpdateInvocationStatus(inv.ID, domain.InvocationInterrupted); err != nil {
			return reconciled, err
		}
		reconciled++
	}
	return reconciled, nil
}

// RecordDispatch appends one point outcome to an invocation's dispatch log
func (s *Store) RecordDispatch(d *domain.PointDispatch) error {
	_, err := s.db.Exec(`
		INSERT INTO dispatches (invocation_id, point_id, status, wall_seconds, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		d.InvocationID,
		d.PointID,
		string(d.Status),
		d.WallSeconds,
		d.FinishedAt,
	)
	return err
}

// ListDispatches returns the dispatch log for one invocation, in dispatch order
func (s *Store) ListDispatches(invocationID string) ([]*domain.PointDispatch, error) {
	rows, err := s.db.Query(`
		SELECT id, invocation_id, point_id, status, wall_seconds, finished_at
		FROM dispatches WHERE invocation_id = ? ORDER BY id
	`, invocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dispatches []*domain.PointDispatch
	for rows.Next() {
		var d domain.PointDispatch
		var status string
		var finishedAt sql.NullTime

		if err := rows.Scan(&d.ID, &d.InvocationID, &d.PointID, &status, &d.WallSeconds, &finishedAt); err != nil {
			return nil, err
		}
		d.Status = domain.PointStatus(status)
		if finishedAt.Valid {
			t := finishedAt.Time
			d.FinishedAt = &t
		}
		dispatches = append(dispatches, &d)
	}

	return dispatches, rows.Err()
}

func scanInvocation(row *sql.Row) (*domain.Invocation, error) {
	var inv domain.Invocation
	var mode, status string
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&inv.ID, &inv.ConfigPath, &inv.OutDir, &mode, &status, &inv.PID,
		&inv.Total, &inv.Succeeded, &inv.Failed, &inv.Skipped, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	inv.Mode = domain.ExecMode(mode)
	inv.Status = domain.InvocationStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		inv.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		inv.FinishedAt = &t
	}

	return &inv, nil
}

func scanInvocationRows(rows *sql.Rows) (*domain.Invocation, error) {
	var inv domain.Invocation
	var mode, status string
	var startedAt, finishedAt sql.NullTime

	err := rows.Scan(&inv.ID, &inv.ConfigPath, &inv.OutDir, &mode, &status, &inv.PID,
		&inv.Total, &inv.Succeeded, &inv.Failed, &inv.Skipped, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	inv.Mode = domain.ExecMode(mode)
	inv.Status = domain.InvocationStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		inv.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		inv.FinishedAt = &t
	}

	return &inv, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// SQLiteStore implements HistoryStore using SQLite for persistence.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the history database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath, now: time.Now}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// SaveBatch stores b and its runs in one transaction.
func (s *SQLiteStore) SaveBatch(ctx context.Context, b *Batch) (string, error) {
	if b == nil {
		return "", fmt.Errorf("batch is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return s.writeBatch(ctx, b, false)
}

// ReplaceBatch deletes the batch stored under b.ID and inserts b in the
// same transaction.
func (s *SQLiteStore) ReplaceBatch(ctx context.Context, b *Batch) (string, error) {
	if b == nil || b.ID == "" {
		return "", fmt.Errorf("batch with an ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeBatch(ctx, b, true)
}

// writeBatch inserts b and its runs. s.mu must be held.
func (s *SQLiteStore) writeBatch(ctx context.Context, b *Batch, replace bool) (string, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE batch_id = ?`, b.ID); err != nil {
			return "", fmt.Errorf("failed to clear runs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, b.ID); err != nil {
			return "", fmt.Errorf("failed to clear batch: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (
			id, label, created_at, seed,
			initial_prob, decay_factor, target_value, iteration_cap,
			desired_count, total_attempts, successful_attempts, failed_attempts,
			phase, status, elapsed_ns,
			hit_time_limit, was_stopped, aborted, safety_warning
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, nullString(b.Label), b.CreatedAt.Format(time.RFC3339Nano), b.Seed,
		b.Params.InitialProb, b.Params.DecayFactor, b.Params.TargetValue, b.Params.IterationSafetyCap,
		b.DesiredCount, b.TotalAttempts, b.SuccessfulAttempts, b.FailedAttempts,
		b.Phase.String(), b.Status, int64(b.Elapsed),
		b.HitTimeLimit, b.WasStopped, b.Aborted, b.SafetyWarning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO runs (batch_id, seq, steps, path) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare run insert: %w", err)
	}
	defer stmt.Close()

	for i, run := range b.Runs {
		pathJSON, err := json.Marshal([]int(run))
		if err != nil {
			return "", fmt.Errorf("failed to marshal run %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, b.ID, i, run.Steps(), string(pathJSON)); err != nil {
			return "", fmt.Errorf("failed to insert run %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit batch: %w", err)
	}
	return b.ID, nil
}

const batchColumns = `
	id, label, created_at, seed,
	initial_prob, decay_factor, target_value, iteration_cap,
	desired_count, total_attempts, successful_attempts, failed_attempts,
	phase, status, elapsed_ns,
	hit_time_limit, was_stopped, aborted, safety_warning`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var (
		b         Batch
		label     sql.NullString
		createdAt string
		phase     string
		elapsed   int64
	)
	err := row.Scan(
		&b.ID, &label, &createdAt, &b.Seed,
		&b.Params.InitialProb, &b.Params.DecayFactor, &b.Params.TargetValue, &b.Params.IterationSafetyCap,
		&b.DesiredCount, &b.TotalAttempts, &b.SuccessfulAttempts, &b.FailedAttempts,
		&phase, &b.Status, &elapsed,
		&b.HitTimeLimit, &b.WasStopped, &b.Aborted, &b.SafetyWarning,
	)
	if err != nil {
		return nil, err
	}

	b.Label = label.String
	b.Elapsed = time.Duration(elapsed)
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if b.Phase, err = scheduler.ParsePhase(phase); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBatch returns the batch with the given ID or unique ID prefix.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullID, err := s.resolveIDUnlocked(ctx, id)
	if err != nil {
		return nil, err
	}

	b, err := scanBatch(s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, fullID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM runs WHERE batch_id = ? ORDER BY seq`, fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pathJSON string
		if err := rows.Scan(&pathJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var path []int
		if err := json.Unmarshal([]byte(pathJSON), &path); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		b.Runs = append(b.Runs, walk.Path(path))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return b, nil
}

// resolveIDUnlocked expands a unique ID prefix (caller must hold lock).
func (s *SQLiteStore) resolveIDUnlocked(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM batches WHERE id = ? OR substr(id, 1, ?) = ? LIMIT 2`,
		id, len(id), id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve batch id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return "", fmt.Errorf("failed to scan batch id: %w", err)
		}
		if m == id {
			return m, nil
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to resolve batch id: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

// ListBatches returns batches newest first, without runs.
func (s *SQLiteStore) ListBatches(ctx context.Context, opts ListOptions) ([]Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + batchColumns + ` FROM batches`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", err)
	}
	return out, nil
}

// DeleteBatch removes a batch; its runs cascade via the foreign key.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullID, err := s.resolveIDUnlocked(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, fullID); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

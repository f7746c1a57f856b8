package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
	"go.uber.org/zap"

	"github.com/immich-backup/backup/internal/core/errs"
	"github.com/immich-backup/backup/internal/core/model"
)

// FileSDN builds a database/sql DSN for a file-backed SQLite database with
// WAL journaling, a 5s busy timeout, NORMAL synchronous durability, and
// foreign keys enabled -- the pragmas a single-writer/multi-reader job store
// needs to survive concurrent CLI invocations against the same data tree.
func FileSDN(path string) string {
	return fmt.Sprintf("file:%s?_fk=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
}

// InMemoryDSN builds a DSN for an in-memory SQLite database, used by tests
// that don't need a file on disk. cache=shared keeps all database/sql pool
// connections pointed at the same in-memory instance.
func InMemoryDSN() string {
	return "file::memory:?cache=shared&_fk=1&_busy_timeout=5000"
}

// InitDBOptions configures InitDB.
type InitDBOptions struct {
	DSN           string
	MigrationMode MigrationMode
	EnableDebug   bool
	Environment   string
}

// Store is the SQLite-backed implementation of ports.Store. Writes are
// serialized through mu because SQLite's single-writer model means
// concurrent writers only add contention, not throughput; reads pass
// through uncontended.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// InitDB opens the database at opts.DSN, applies migrations, and returns a
// ready-to-use Store.
func InitDB(opts InitDBOptions) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(sqlDB, opts.Environment); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if opts.EnableDebug {
		log().Debug("database initialized", zap.String("dsn", opts.DSN), zap.String("migration_mode", string(opts.MigrationMode)))
	}

	return &Store{db: sqlDB}, nil
}

// CloseDB closes store's underlying connection. It is a no-op on nil.
func CloseDB(store *Store) {
	if store == nil || store.db == nil {
		return
	}
	_ = store.db.Close()
}

// Close implements ports.Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateDestination(ctx context.Context, name string, typ model.DestinationType, bucket, remotePath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations (name, type, bucket, remote_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, string(typ), bucket, remotePath, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errs.ErrUniqueViolation
		}
		return 0, fmt.Errorf("creating destination: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetDestination(ctx context.Context, nameOrID string) (*model.Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, bucket, remote_path, created_at, last_backup_at
		   FROM destinations WHERE name = ? OR CAST(id AS TEXT) = ?`,
		nameOrID, nameOrID,
	)
	return scanDestinationRows(row)
}

func (s *Store) ListDestinations(ctx context.Context) ([]*model.Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, bucket, remote_path, created_at, last_backup_at FROM destinations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing destinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Destination
	for rows.Next() {
		d, err := scanDestinationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateJob(ctx context.Context, destinationID int64, sourcePath string, priority int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (destination_id, source_path, status, priority, last_update, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		destinationID, sourcePath, string(model.StatusPending), priority, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("creating job: %w", err)
	}
	return res.LastInsertId()
}

// UpdateJob applies a status transition and the latest progress snapshot.
// started_at is set only the first time a job transitions into RUNNING;
// completed_at is set whenever the new status is terminal or otherwise
// leaves RUNNING. Transitioning into RUNNING while another job on the same
// destination is already RUNNING violates the partial unique index and
// surfaces as errs.ErrUniqueViolation.
func (s *Store) UpdateJob(ctx context.Context, id int64, status model.Status, progress model.Progress, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var startedAtClause string
	var args []interface{}
	if status == model.StatusRunning {
		startedAtClause = "started_at = COALESCE(started_at, ?),"
		args = append(args, now)
	}

	var completedAtClause string
	if status != model.StatusRunning {
		completedAtClause = "completed_at = ?,"
		args = append(args, now)
	}

	query := fmt.Sprintf(`UPDATE jobs SET
		status = ?, %s %s
		bytes_total = ?, bytes_transferred = ?, files_total = ?, files_transferred = ?,
		transfer_speed = ?, last_update = ?, error_message = ?
		WHERE id = ?`, startedAtClause, completedAtClause)

	finalArgs := append([]interface{}{string(status)}, args...)
	finalArgs = append(finalArgs,
		progress.BytesTotal, progress.BytesTransferred, progress.FilesTotal, progress.FilesTransferred,
		progress.Speed, now, errMsg, id,
	)

	_, err := s.db.ExecContext(ctx, query, finalArgs...)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrUniqueViolation
		}
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// MarkJobCompleted transitions a job to COMPLETED, records its final byte
// and file counts, and atomically advances its destination's
// last_backup_at in the same transaction.
func (s *Store) MarkJobCompleted(ctx context.Context, id int64, bytes, files int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var destinationID int64
	if err := tx.QueryRowContext(ctx, `SELECT destination_id FROM jobs WHERE id = ?`, id).Scan(&destinationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("looking up job: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, bytes_total = ?, bytes_transferred = ?, files_total = ?, files_transferred = ?,
		 completed_at = ?, last_update = ? WHERE id = ?`,
		string(model.StatusCompleted), bytes, bytes, files, files, now, now, id,
	); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE destinations SET last_backup_at = ? WHERE id = ?`, now, destinationID); err != nil {
		return fmt.Errorf("advancing last_backup_at: %w", err)
	}

	return tx.Commit()
}

// MarkJobInterrupted transitions a job to INTERRUPTED without incrementing
// its retry count, distinguishing an unclean shutdown from an explicit sync
// failure. Valid only from RUNNING; the WHERE clause enforces this itself
// rather than trusting callers to pre-filter.
func (s *Store) MarkJobInterrupted(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, last_update = ? WHERE id = ? AND status = ?`,
		string(model.StatusInterrupted), now, now, id, string(model.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("marking job interrupted: %w", err)
	}
	return nil
}

func (s *Store) IncrementRetryCount(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing retry count: %w", err)
	}
	return nil
}

func (s *Store) GetActiveJob(ctx context.Context, destinationID int64) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE destination_id = ? AND status = ?`,
		destinationID, string(model.StatusRunning),
	)
	j, err := scanJobRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return j, err
}

// GetStaleJobs returns RUNNING jobs whose last_update is older than
// thresholdSeconds, the wall-clock heuristic that flags a job as abandoned
// by a crashed or killed process.
func (s *Store) GetStaleJobs(ctx context.Context, thresholdSeconds int) ([]*model.Job, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(thresholdSeconds) * time.Second)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND last_update < ?`,
		string(model.StatusRunning), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stale jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ListJobs(ctx context.Context, destinationID int64) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE destination_id = ? ORDER BY priority, id`,
		destinationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ResetJobs deletes every job row for a destination, the --reset operation's
// escape hatch for planning from scratch; the destination row itself is
// untouched.
func (s *Store) ResetJobs(ctx context.Context, destinationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE destination_id = ?`,
		destinationID,
	)
	if err != nil {
		return fmt.Errorf("resetting jobs: %w", err)
	}
	return nil
}

const jobColumns = `id, destination_id, source_path, status, priority, bytes_total, bytes_transferred,
	files_total, files_transferred, transfer_speed, started_at, completed_at, last_update, error_message, retry_count`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRows(row scanner) (*model.Job, error) {
	var j model.Job
	var status string
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(
		&j.ID, &j.DestinationID, &j.SourcePath, &status, &j.Priority,
		&j.BytesTotal, &j.BytesTransferred, &j.FilesTotal, &j.FilesTransferred,
		&j.TransferSpeed, &startedAt, &completedAt, &j.LastUpdate, &j.ErrorMessage, &j.RetryCount,
	); err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	j.Status = model.Status(status)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanDestinationRows(row scanner) (*model.Destination, error) {
	var d model.Destination
	var typ string
	var lastBackupAt sql.NullTime

	if err := row.Scan(&d.ID, &d.Name, &typ, &d.Bucket, &d.RemotePath, &d.CreatedAt, &lastBackupAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("scanning destination: %w", err)
	}

	d.Type = model.DestinationType(typ)
	if lastBackupAt.Valid {
		t := lastBackupAt.Time
		d.LastBackupAt = &t
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

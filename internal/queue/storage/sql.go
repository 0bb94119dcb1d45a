package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

var _ Store = (*SQLStore)(nil)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const jobColumns = `seq, id, subject, origin, priority, status, attempts,
	last_attempt_at, error, request_id, created_at, updated_at`

// rankExpr sorts HIGH before LOW
const rankExpr = `CASE priority WHEN 'HIGH' THEN 0 ELSE 1 END`

// SQLStore persists jobs in PostgreSQL or SQLite through sqlx
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

// NewSQLStore creates a store on top of an open database handle
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: db.DriverName(),
		logger: logger,
	}
}

// Migrate creates the jobs table and its indexes when missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.driver == DriverSQLite {
		schema = sqliteSchema
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate jobs schema: %w", err)
		}
	}

	s.logger.Info("Jobs schema migrated",
		slog.String("driver", s.driver),
	)
	return nil
}

// Insert persists a new job and assigns its Seq
func (s *SQLStore) Insert(ctx context.Context, job *domain.Job) error {
	query := s.db.Rebind(`
		INSERT INTO jobs (
			id, subject, origin, priority, status, attempts,
			last_attempt_at, error, request_id, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
		RETURNING seq
	`)

	var seq int64
	err := s.db.QueryRowxContext(ctx, query,
		job.ID,
		job.Subject,
		job.Origin,
		string(job.Priority),
		string(job.Status),
		job.Attempts,
		job.LastAttemptAt,
		job.Error,
		job.RequestID,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&seq)
	if err != nil {
		if dup := s.mapConstraint(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	job.Seq = seq
	return nil
}

// Get returns the job with the given id
func (s *SQLStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	return s.getOne(ctx, "get job", query, jobID)
}

// GetByRequestID returns the job carrying requestID
func (s *SQLStore) GetByRequestID(ctx context.Context, requestID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE request_id = ?`)
	return s.getOne(ctx, "get job by request_id", query, requestID)
}

// FindActiveBySubject returns the active job of subject
func (s *SQLStore) FindActiveBySubject(ctx context.Context, subject string) (*domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE subject = ? AND status IN (?, ?, ?)
	`)
	return s.getOne(ctx, "find active job", query, subject,
		string(domain.StatusPending), string(domain.StatusProcessing), string(domain.StatusPaused))
}

// ListActive returns every non-terminal job
func (s *SQLStore) ListActive(ctx context.Context) ([]*domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN (?, ?, ?)
		ORDER BY seq
	`)

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query,
		string(domain.StatusPending), string(domain.StatusProcessing), string(domain.StatusPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return jobs, nil
}

// ListPending returns PENDING jobs in dequeue order
func (s *SQLStore) ListPending(ctx context.Context, q PendingQuery) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ?`
	args := []interface{}{string(domain.StatusPending)}

	if len(q.Priorities) > 0 {
		priorities := make([]string, len(q.Priorities))
		for i, p := range q.Priorities {
			priorities[i] = string(p)
		}
		query += " AND priority IN (?)"
		args = append(args, priorities)
	}

	if len(q.Origins) > 0 {
		query += " AND origin IN (?)"
		args = append(args, q.Origins)
	}

	if q.After != nil {
		query += " AND (" + rankExpr + ", created_at, seq) > (?, ?, ?)"
		args = append(args, q.After.Rank, q.After.CreatedAt, q.After.Seq)
	}

	query += " ORDER BY " + rankExpr + ", created_at, seq"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build pending query: %w", err)
	}

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

// ListExpiredLeases returns PROCESSING jobs last attempted before cutoff
func (s *SQLStore) ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ?
		  AND last_attempt_at IS NOT NULL
		  AND last_attempt_at < ?
		ORDER BY last_attempt_at
	`)

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, string(domain.StatusProcessing), cutoff); err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	return jobs, nil
}

// Apply performs a conditional update on (status, attempts)
func (s *SQLStore) Apply(ctx context.Context, tr Transition) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = ?,
		    attempts = ?,
		    last_attempt_at = COALESCE(?, last_attempt_at),
		    error = COALESCE(?, error),
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND attempts = ?`
	args := []interface{}{
		string(tr.To),
		tr.Attempts,
		tr.LastAttemptAt,
		tr.Error,
		tr.At,
		tr.JobID,
		string(tr.From),
		tr.ExpectAttempts,
	}
	if tr.StaleBefore != nil {
		query += " AND last_attempt_at < ?"
		args = append(args, *tr.StaleBefore)
	}
	query += " RETURNING " + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, s.db.Rebind(query), args...)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if dup := s.mapConstraint(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	// no row matched: either the job is gone or its state moved on
	if _, getErr := s.Get(ctx, tr.JobID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrConcurrentClaim
}

// List returns jobs matching filter, newest first
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}

	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}

	if filter.Origin != "" {
		query += " AND origin = ?"
		args = append(args, filter.Origin)
	}

	if filter.Cursor != nil {
		query += " AND (created_at, seq) < (?, ?)"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.Seq)
	}

	// Order by created_at DESC, seq DESC for consistent pagination
	query += " ORDER BY created_at DESC, seq DESC"

	if filter.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, filter.PageSize)
	}

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status
func (s *SQLStore) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[domain.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", err)
	}
	return counts, nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) getOne(ctx context.Context, op, query string, args ...interface{}) (*domain.Job, error) {
	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return &job, nil
}

// mapConstraint translates unique violations into domain errors
func (s *SQLStore) mapConstraint(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case requestIDConstraint:
			return domain.ErrDuplicateRequestID
		case activeSubjectConstraint:
			return domain.ErrDuplicateActiveSubject
		default:
			return domain.ErrJobAlreadyExists
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, "jobs.request_id"):
			return domain.ErrDuplicateRequestID
		case strings.Contains(msg, "jobs.subject"):
			return domain.ErrDuplicateActiveSubject
		default:
			return domain.ErrJobAlreadyExists
		}
	}

	return nil
}

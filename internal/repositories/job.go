package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const jobColumns = "id, kind, state, args, result, error, created_at, started_at, finished_at"

// JobRepository persists job runner state.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new [JobRepository].
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a pending job, generating its ID when empty.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = shared.GenerateID()
	}
	if job.Kind == "" {
		return fmt.Errorf("%w: job kind is required", shared.ErrInvalidInput)
	}
	if len(job.Args) == 0 {
		job.Args = json.RawMessage("{}")
	}
	job.State = models.JobPending
	job.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO jobs (id, kind, state, args, created_at) VALUES (?, ?, ?, ?, ?)",
		job.ID, string(job.Kind), string(job.State), string(job.Args), job.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s already exists", shared.ErrInvalidInput, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

// MarkStarted moves a pending job to started.
func (r *JobRepository) MarkStarted(ctx context.Context, id string) error {
	return r.transition(ctx, id,
		"UPDATE jobs SET state = ?, started_at = ? WHERE id = ? AND state = ?",
		string(models.JobStarted), time.Now().UTC(), id, string(models.JobPending))
}

// MarkFinished records the job's result.
func (r *JobRepository) MarkFinished(ctx context.Context, id string, result json.RawMessage) error {
	var res any
	if len(result) > 0 {
		res = string(result)
	}
	return r.transition(ctx, id,
		"UPDATE jobs SET state = ?, result = ?, finished_at = ? WHERE id = ? AND state IN ('pending', 'started')",
		string(models.JobFinished), res, time.Now().UTC(), id)
}

// MarkFailed records the job's error message.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, message string) error {
	return r.transition(ctx, id,
		"UPDATE jobs SET state = ?, error = ?, finished_at = ? WHERE id = ? AND state IN ('pending', 'started')",
		string(models.JobFailed), message, time.Now().UTC(), id)
}

// transition applies a state change, reporting a missing job or an illegal
// transition out of a terminal state.
func (r *JobRepository) transition(ctx context.Context, id string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is already %s", shared.ErrInvalidInput, id, job.State)
}

// ListByState returns jobs in the given state, oldest first.
func (r *JobRepository) ListByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	return r.list(ctx, "SELECT "+jobColumns+" FROM jobs WHERE state = ? ORDER BY created_at ASC", string(state))
}

// Recent returns the most recently created jobs.
func (r *JobRepository) Recent(ctx context.Context, limit int) ([]*models.Job, error) {
	return r.list(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT ?", limit)
}

func (r *JobRepository) list(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

func scanJob(scan func(dest ...any) error) (*models.Job, error) {
	var (
		job        models.Job
		kind       string
		state      string
		args       string
		result     sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := scan(&job.ID, &kind, &state, &args, &result, &job.Error, &job.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	job.Kind = models.JobKind(kind)
	job.State = models.JobState(state)
	job.Args = json.RawMessage(args)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

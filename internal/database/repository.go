package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hlsmill/hlsmill/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for jobs and their variant results
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts a new job record
func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	query := `
		INSERT INTO jobs (id, video_id, input_uri, status, outcome, succeeded_count,
			total_count, output_uri, error_msg, worker_id, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.ID, job.VideoID, job.InputURI, job.Status, job.Outcome,
		job.SucceededCount, job.TotalCount, job.OutputURI, job.ErrorMsg,
		job.WorkerID, job.StartedAt, job.CompletedAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// UpdateJob persists the mutable fields of an existing job
func (r *Repository) UpdateJob(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET status = $2, outcome = $3, succeeded_count = $4, total_count = $5,
			output_uri = $6, error_msg = $7, worker_id = $8, started_at = $9,
			completed_at = $10, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		job.ID, job.Status, job.Outcome, job.SucceededCount, job.TotalCount,
		job.OutputURI, job.ErrorMsg, job.WorkerID, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}

	return nil
}

// SaveVariantResults stores the per-variant outcomes of a finished job.
// Rows keep the ladder position so reads come back in encode order.
func (r *Repository) SaveVariantResults(ctx context.Context, jobID string, results []models.VariantResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO variant_results (job_id, position, profile, outcome, error_msg, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for i, res := range results {
		_, err := tx.Exec(ctx, query,
			jobID, i, res.Profile.Name, res.Outcome, res.Error, res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save variant result %s: %w", res.Profile.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit variant results: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, video_id, input_uri, status, outcome, succeeded_count, total_count,
			output_uri, error_msg, worker_id, started_at, completed_at, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	var job models.Job
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.VideoID, &job.InputURI, &job.Status, &job.Outcome,
		&job.SucceededCount, &job.TotalCount, &job.OutputURI, &job.ErrorMsg,
		&job.WorkerID, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetLatestJobForVideo retrieves the most recent job submitted for a video
func (r *Repository) GetLatestJobForVideo(ctx context.Context, videoID string) (*models.Job, error) {
	query := `
		SELECT id, video_id, input_uri, status, outcome, succeeded_count, total_count,
			output_uri, error_msg, worker_id, started_at, completed_at, created_at, updated_at
		FROM jobs
		WHERE video_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var job models.Job
	err := r.db.Pool.QueryRow(ctx, query, videoID).Scan(
		&job.ID, &job.VideoID, &job.InputURI, &job.Status, &job.Outcome,
		&job.SucceededCount, &job.TotalCount, &job.OutputURI, &job.ErrorMsg,
		&job.WorkerID, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}

	return &job, nil
}

// GetJobVariants retrieves the stored variant results for a job in ladder order
func (r *Repository) GetJobVariants(ctx context.Context, jobID string) ([]models.VariantResult, error) {
	query := `
		SELECT profile, outcome, error_msg, duration_ms
		FROM variant_results
		WHERE job_id = $1
		ORDER BY position
	`

	rows, err := r.db.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant results: %w", err)
	}
	defer rows.Close()

	var results []models.VariantResult
	for rows.Next() {
		var (
			name       string
			outcome    models.VariantOutcome
			errMsg     string
			durationMS int64
		)
		if err := rows.Scan(&name, &outcome, &errMsg, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan variant result: %w", err)
		}

		res := models.VariantResult{
			Outcome:  outcome,
			Error:    errMsg,
			Duration: time.Duration(durationMS) * time.Millisecond,
		}
		if p := models.GetProfile(name); p != nil {
			res.Profile = *p
		} else {
			res.Profile = models.QualityProfile{Name: name}
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read variant results: %w", err)
	}

	return results, nil
}

// ListRecentJobs retrieves the most recently created jobs
func (r *Repository) ListRecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, video_id, input_uri, status, outcome, succeeded_count, total_count,
			output_uri, error_msg, worker_id, started_at, completed_at, created_at, updated_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		err := rows.Scan(
			&job.ID, &job.VideoID, &job.InputURI, &job.Status, &job.Outcome,
			&job.SucceededCount, &job.TotalCount, &job.OutputURI, &job.ErrorMsg,
			&job.WorkerID, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}

	return jobs, nil
}

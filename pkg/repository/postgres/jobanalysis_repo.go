package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noteflow/backend/pkg/jobanalysis"
)

// JobAnalysisRepository persists job-fit analysis records.
type JobAnalysisRepository struct {
	pool *pgxpool.Pool
}

func NewJobAnalysisRepository(pool *pgxpool.Pool) (*JobAnalysisRepository, error) {
	r := &JobAnalysisRepository{pool: pool}
	if err := r.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *JobAnalysisRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS job_analyses (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	source_type TEXT NOT NULL,
	resume_text TEXT NOT NULL,
	job_url TEXT NOT NULL DEFAULT '',
	job_description_input TEXT NOT NULL DEFAULT '',
	snapshot_id TEXT NOT NULL DEFAULT '',
	job_description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	result JSONB,
	model TEXT NOT NULL DEFAULT '',
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_analyses_owner ON job_analyses (owner_id, created_at DESC);
`)
	return err
}

const analysisColumns = `
id, owner_id, source_type, resume_text, job_url, job_description_input,
snapshot_id, job_description, status, result, model, error,
created_at, started_at, completed_at, updated_at`

func (r *JobAnalysisRepository) Create(ctx context.Context, a jobanalysis.Analysis) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO job_analyses (id, owner_id, source_type, resume_text, job_url, job_description_input, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, a.ID, a.OwnerID, a.SourceType, a.ResumeText, a.JobURL, a.JobDescriptionInput, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *JobAnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (jobanalysis.Analysis, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM job_analyses WHERE id = $1`, id)
	return scanAnalysis(row)
}

func (r *JobAnalysisRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]jobanalysis.Analysis, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+analysisColumns+`
FROM job_analyses WHERE owner_id = $1
ORDER BY created_at DESC LIMIT $2 OFFSET $3
`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobanalysis.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *JobAnalysisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM job_analyses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return jobanalysis.ErrNotFound
	}
	return nil
}

func (r *JobAnalysisRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
UPDATE job_analyses
SET status = $2, started_at = COALESCE(started_at, now()), updated_at = now()
WHERE id = $1
`, id, jobanalysis.StatusProcessing)
}

func (r *JobAnalysisRepository) SetSnapshotID(ctx context.Context, id uuid.UUID, snapshotID string) error {
	// first writer wins so a concurrent duplicate cannot swap snapshots
	return r.exec(ctx, `
UPDATE job_analyses
SET snapshot_id = CASE WHEN snapshot_id = '' THEN $2 ELSE snapshot_id END, updated_at = now()
WHERE id = $1
`, id, snapshotID)
}

func (r *JobAnalysisRepository) SetJobDescription(ctx context.Context, id uuid.UUID, description string) error {
	return r.exec(ctx, `
UPDATE job_analyses SET job_description = $2, updated_at = now() WHERE id = $1
`, id, description)
}

func (r *JobAnalysisRepository) SetCompleted(ctx context.Context, id uuid.UUID, res jobanalysis.Result, model string) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE job_analyses
SET status = $2, result = $3, model = $4, error = NULL, completed_at = now(), updated_at = now()
WHERE id = $1
`, id, jobanalysis.StatusCompleted, data, model)
}

func (r *JobAnalysisRepository) MarkFailed(ctx context.Context, id uuid.UUID, e jobanalysis.ErrorInfo) error {
	errJSON, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE job_analyses SET status = $2, error = $3, updated_at = now() WHERE id = $1
`, id, jobanalysis.StatusFailed, errJSON)
}

func (r *JobAnalysisRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return jobanalysis.ErrNotFound
	}
	return nil
}

func scanAnalysis(row rowScanner) (jobanalysis.Analysis, error) {
	var a jobanalysis.Analysis
	var result, errInfo []byte
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.SourceType, &a.ResumeText, &a.JobURL, &a.JobDescriptionInput,
		&a.SnapshotID, &a.JobDescription, &a.Status, &result, &a.Model, &errInfo,
		&a.CreatedAt, &a.StartedAt, &a.CompletedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobanalysis.Analysis{}, jobanalysis.ErrNotFound
		}
		return jobanalysis.Analysis{}, err
	}
	if result != nil {
		a.Result = &jobanalysis.Result{}
		if err := json.Unmarshal(result, a.Result); err != nil {
			return jobanalysis.Analysis{}, err
		}
	}
	if errInfo != nil {
		a.Error = &jobanalysis.ErrorInfo{}
		_ = json.Unmarshal(errInfo, a.Error)
	}
	return a, nil
}

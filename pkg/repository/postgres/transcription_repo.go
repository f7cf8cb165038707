package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noteflow/backend/pkg/transcription"
)

// TranscriptionRepository persists transcription job records.
type TranscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewTranscriptionRepository(pool *pgxpool.Pool) (*TranscriptionRepository, error) {
	r := &TranscriptionRepository{pool: pool}
	if err := r.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TranscriptionRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS transcriptions (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	audio_key TEXT NOT NULL,
	notify_channel TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	transcript TEXT NOT NULL DEFAULT '',
	preview TEXT NOT NULL DEFAULT '',
	summary_status TEXT NOT NULL DEFAULT '',
	summary JSONB,
	summary_model TEXT NOT NULL DEFAULT '',
	summary_error JSONB,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_owner ON transcriptions (owner_id, created_at DESC);
`)
	return err
}

const transcriptionColumns = `
id, owner_id, audio_key, notify_channel, status, progress, transcript, preview,
summary_status, summary, summary_model, summary_error, error,
created_at, started_at, completed_at, updated_at`

func (r *TranscriptionRepository) Create(ctx context.Context, t transcription.Transcription) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO transcriptions (id, owner_id, audio_key, notify_channel, status, progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, t.ID, t.OwnerID, t.AudioKey, t.NotifyChannel, t.Status, t.Progress, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TranscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (transcription.Transcription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transcriptionColumns+` FROM transcriptions WHERE id = $1`, id)
	return scanTranscription(row)
}

func (r *TranscriptionRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]transcription.Transcription, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+transcriptionColumns+`
FROM transcriptions WHERE owner_id = $1
ORDER BY created_at DESC LIMIT $2 OFFSET $3
`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []transcription.Transcription
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TranscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transcriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return transcription.ErrNotFound
	}
	return nil
}

func (r *TranscriptionRepository) MarkProcessing(ctx context.Context, id uuid.UUID, progress int) error {
	return r.exec(ctx, `
UPDATE transcriptions
SET status = $2, progress = GREATEST(progress, $3), started_at = COALESCE(started_at, now()), updated_at = now()
WHERE id = $1
`, id, transcription.StatusProcessing, progress)
}

func (r *TranscriptionRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	return r.exec(ctx, `
UPDATE transcriptions SET progress = GREATEST(progress, $2), updated_at = now() WHERE id = $1
`, id, progress)
}

func (r *TranscriptionRepository) SetCompleted(ctx context.Context, id uuid.UUID, transcript, preview string) error {
	return r.exec(ctx, `
UPDATE transcriptions
SET status = $2, progress = 100, transcript = $3, preview = $4,
    summary_status = $5, error = NULL, completed_at = now(), updated_at = now()
WHERE id = $1
`, id, transcription.StatusCompleted, transcript, preview, transcription.SummaryPending)
}

func (r *TranscriptionRepository) MarkFailed(ctx context.Context, id uuid.UUID, e transcription.ErrorInfo) error {
	errJSON, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE transcriptions SET status = $2, error = $3, updated_at = now() WHERE id = $1
`, id, transcription.StatusFailed, errJSON)
}

func (r *TranscriptionRepository) MarkSummaryProcessing(ctx context.Context, id uuid.UUID, model string) error {
	return r.exec(ctx, `
UPDATE transcriptions SET summary_status = $2, summary_model = $3, updated_at = now() WHERE id = $1
`, id, transcription.SummaryProcessing, model)
}

func (r *TranscriptionRepository) SetSummaryCompleted(ctx context.Context, id uuid.UUID, s transcription.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE transcriptions
SET summary_status = $2, summary = $3, summary_error = NULL, updated_at = now()
WHERE id = $1
`, id, transcription.SummaryCompleted, data)
}

func (r *TranscriptionRepository) MarkSummaryFailed(ctx context.Context, id uuid.UUID, e transcription.ErrorInfo) error {
	errJSON, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE transcriptions SET summary_status = $2, summary_error = $3, updated_at = now() WHERE id = $1
`, id, transcription.SummaryFailed, errJSON)
}

// exec runs an UPDATE that must hit exactly one row; zero rows means the
// record is gone and the caller has to know.
func (r *TranscriptionRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return transcription.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscription(row rowScanner) (transcription.Transcription, error) {
	var t transcription.Transcription
	var summary, summaryErr, errInfo []byte
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.AudioKey, &t.NotifyChannel, &t.Status, &t.Progress,
		&t.Transcript, &t.Preview, &t.SummaryStatus, &summary, &t.SummaryModel,
		&summaryErr, &errInfo, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transcription.Transcription{}, transcription.ErrNotFound
		}
		return transcription.Transcription{}, err
	}
	if summary != nil {
		t.Summary = &transcription.Summary{}
		if err := json.Unmarshal(summary, t.Summary); err != nil {
			return transcription.Transcription{}, err
		}
	}
	if summaryErr != nil {
		t.SummaryError = &transcription.ErrorInfo{}
		_ = json.Unmarshal(summaryErr, t.SummaryError)
	}
	if errInfo != nil {
		t.Error = &transcription.ErrorInfo{}
		_ = json.Unmarshal(errInfo, t.Error)
	}
	return t, nil
}

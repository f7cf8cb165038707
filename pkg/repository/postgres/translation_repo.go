package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noteflow/backend/pkg/transcription"
	"github.com/noteflow/backend/pkg/translation"
)

// TranslationRepository persists translation job records. Rows cascade with
// their parent transcription.
type TranslationRepository struct {
	pool *pgxpool.Pool
}

func NewTranslationRepository(pool *pgxpool.Pool) (*TranslationRepository, error) {
	r := &TranslationRepository{pool: pool}
	if err := r.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TranslationRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS translations (
	id UUID PRIMARY KEY,
	transcription_id UUID NOT NULL REFERENCES transcriptions(id) ON DELETE CASCADE,
	language TEXT NOT NULL,
	status TEXT NOT NULL,
	translated_text TEXT NOT NULL DEFAULT '',
	translated_summary JSONB,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (transcription_id, language)
);
`)
	return err
}

const translationColumns = `
id, transcription_id, language, status, translated_text, translated_summary, error,
created_at, completed_at, updated_at`

func (r *TranslationRepository) Create(ctx context.Context, t translation.Translation) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO translations (id, transcription_id, language, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, t.ID, t.TranscriptionID, t.Language, t.Status, t.CreatedAt, t.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return translation.ErrExists
	}
	return err
}

func (r *TranslationRepository) GetByID(ctx context.Context, id uuid.UUID) (translation.Translation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+translationColumns+` FROM translations WHERE id = $1`, id)
	return scanTranslation(row)
}

func (r *TranslationRepository) ListByTranscription(ctx context.Context, transcriptionID uuid.UUID) ([]translation.Translation, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+translationColumns+` FROM translations WHERE transcription_id = $1 ORDER BY created_at
`, transcriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []translation.Translation
	for rows.Next() {
		t, err := scanTranslation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TranslationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM translations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return translation.ErrNotFound
	}
	return nil
}

func (r *TranslationRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
UPDATE translations SET status = $2, updated_at = now() WHERE id = $1
`, id, translation.StatusProcessing)
}

func (r *TranslationRepository) SetCompleted(ctx context.Context, id uuid.UUID, text string, summary transcription.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE translations
SET status = $2, translated_text = $3, translated_summary = $4, error = NULL,
    completed_at = now(), updated_at = now()
WHERE id = $1
`, id, translation.StatusCompleted, text, data)
}

func (r *TranslationRepository) MarkFailed(ctx context.Context, id uuid.UUID, e transcription.ErrorInfo) error {
	errJSON, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
UPDATE translations SET status = $2, error = $3, updated_at = now() WHERE id = $1
`, id, translation.StatusFailed, errJSON)
}

func (r *TranslationRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return translation.ErrNotFound
	}
	return nil
}

func scanTranslation(row rowScanner) (translation.Translation, error) {
	var t translation.Translation
	var summary, errInfo []byte
	err := row.Scan(
		&t.ID, &t.TranscriptionID, &t.Language, &t.Status, &t.TranslatedText,
		&summary, &errInfo, &t.CreatedAt, &t.CompletedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return translation.Translation{}, translation.ErrNotFound
		}
		return translation.Translation{}, err
	}
	if summary != nil {
		t.TranslatedSummary = &transcription.Summary{}
		if err := json.Unmarshal(summary, t.TranslatedSummary); err != nil {
			return translation.Translation{}, err
		}
	}
	if errInfo != nil {
		t.Error = &transcription.ErrorInfo{}
		_ = json.Unmarshal(errInfo, t.Error)
	}
	return t, nil
}

package translation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noteflow/backend/pkg/transcription"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("translation not found")

// ErrExists is returned when a (transcription, language) pair already has a
// translation.
var ErrExists = errors.New("translation already exists for this language")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Translation renders one transcript plus its summary into a target language.
// At most one translation exists per (transcription, language) pair, and it
// may only be created once the parent transcript and summary are completed.
type Translation struct {
	ID                uuid.UUID                 `json:"id"`
	TranscriptionID   uuid.UUID                 `json:"transcriptionId"`
	Language          string                    `json:"language"`
	Status            Status                    `json:"status"`
	TranslatedText    string                    `json:"translatedText,omitempty"`
	TranslatedSummary *transcription.Summary    `json:"translatedSummary,omitempty"`
	Error             *transcription.ErrorInfo  `json:"error,omitempty"`
	CreatedAt         time.Time                 `json:"createdAt"`
	CompletedAt       *time.Time                `json:"completedAt,omitempty"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}

// Repository is the record store port for translations.
type Repository interface {
	// Create fails with ErrExists when the (transcription, language) pair is
	// already present.
	Create(ctx context.Context, t Translation) error
	GetByID(ctx context.Context, id uuid.UUID) (Translation, error)
	ListByTranscription(ctx context.Context, transcriptionID uuid.UUID) ([]Translation, error)
	Delete(ctx context.Context, id uuid.UUID) error

	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetCompleted(ctx context.Context, id uuid.UUID, text string, summary transcription.Summary) error
	MarkFailed(ctx context.Context, id uuid.UUID, e transcription.ErrorInfo) error
}

// Provider translates transcript text and summary structures. Summary
// translation preserves object shape: only text values change, keys and list
// lengths stay put.
type Provider interface {
	TranslateText(ctx context.Context, text, language string) (string, error)
	TranslateSummary(ctx context.Context, s transcription.Summary, language string) (transcription.Summary, error)
	ModelID() string
}

// Event name and payload for the translate stage.
const EventRequested = "translation.requested"

type RequestedEvent struct {
	TranslationID   uuid.UUID `json:"translationId"`
	TranscriptionID uuid.UUID `json:"transcriptionId"`
	Language        string    `json:"language"`
}

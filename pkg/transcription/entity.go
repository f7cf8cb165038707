package transcription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status values only move forward: pending → processing → completed|failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the stage is done for good.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// SummaryState is the sub-state of the summary stage; empty until the
// transcript exists.
type SummaryState string

const (
	SummaryNone       SummaryState = ""
	SummaryPending    SummaryState = "pending"
	SummaryProcessing SummaryState = "processing"
	SummaryCompleted  SummaryState = "completed"
	SummaryFailed     SummaryState = "failed"
)

// ErrorInfo is the user-visible failure surfaced on the status read.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionItem is one task extracted from the transcript.
type ActionItem struct {
	Task    string `json:"task"`
	Owner   string `json:"owner,omitempty"`
	DueDate string `json:"dueDate,omitempty"`
}

// Summary is the structured digest of a transcript.
type Summary struct {
	Summary      string       `json:"summary"`
	KeyPoints    []string     `json:"keyPoints"`
	ActionItems  []ActionItem `json:"actionItems"`
	KeyTakeaways []string     `json:"keyTakeaways"`
}

// Transcription is the per-voice-note job record; the store is the sole source
// of truth for its state. Progress is monotonic non-decreasing and reaches 100
// exactly when status becomes completed.
type Transcription struct {
	ID            uuid.UUID    `json:"id"`
	OwnerID       string       `json:"ownerId"`
	AudioKey      string       `json:"audioKey"` // opaque object locator or URL
	NotifyChannel string       `json:"notifyChannel,omitempty"`
	Status        Status       `json:"status"`
	Progress      int          `json:"progress"`
	Transcript    string       `json:"transcript,omitempty"`
	Preview       string       `json:"preview,omitempty"`
	SummaryStatus SummaryState `json:"summaryStatus,omitempty"`
	Summary       *Summary     `json:"summaryData,omitempty"`
	SummaryModel  string       `json:"summaryModel,omitempty"`
	SummaryError  *ErrorInfo   `json:"summaryError,omitempty"`
	Error         *ErrorInfo   `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	StartedAt     *time.Time   `json:"startedAt,omitempty"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Repository is the record store port for transcriptions. Transitions are
// last-writer-wins on the full record; every mutation of a missing record must
// fail loudly.
type Repository interface {
	Create(ctx context.Context, t Transcription) error
	GetByID(ctx context.Context, id uuid.UUID) (Transcription, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Transcription, error)
	// Delete removes the record; translations cascade with it.
	Delete(ctx context.Context, id uuid.UUID) error

	MarkProcessing(ctx context.Context, id uuid.UUID, progress int) error
	// UpdateProgress never lowers progress.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	// SetCompleted persists transcript+preview, sets progress=100 and flips
	// the summary sub-state to pending in the same write.
	SetCompleted(ctx context.Context, id uuid.UUID, transcript, preview string) error
	MarkFailed(ctx context.Context, id uuid.UUID, e ErrorInfo) error

	MarkSummaryProcessing(ctx context.Context, id uuid.UUID, model string) error
	SetSummaryCompleted(ctx context.Context, id uuid.UUID, s Summary) error
	MarkSummaryFailed(ctx context.Context, id uuid.UUID, e ErrorInfo) error
}

// SummaryProvider turns a transcript into a Summary. Malformed provider output
// is a retriable fault; implementations validate shape before returning.
type SummaryProvider interface {
	Summarize(ctx context.Context, transcript string) (Summary, error)
	ModelID() string
}

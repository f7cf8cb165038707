package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noteflow/backend/pkg/orchestrator"
	"github.com/noteflow/backend/pkg/transcription"
)

// Error codes surfaced on failed records.
const (
	CodePrerequisite = "PREREQUISITE_NOT_MET"
	CodeBadEvent     = "INVALID_EVENT"
)

// ErrPrerequisite rejects creation before the parent transcript and summary
// are both completed.
var ErrPrerequisite = errors.New("transcription and summary must be completed before translation")

// Emitter publishes follow-up events; satisfied by the orchestrator engine.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

type UseCase interface {
	Create(ctx context.Context, transcriptionID uuid.UUID, language string) (Translation, error)
	Get(ctx context.Context, id uuid.UUID) (Translation, error)
	ListByTranscription(ctx context.Context, transcriptionID uuid.UUID) ([]Translation, error)
	Delete(ctx context.Context, id uuid.UUID) error

	HandleRequested(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error)
	DeadLetterRequested(ctx context.Context, evt orchestrator.Event, cause error)
}

type service struct {
	repo           Repository
	transcriptions transcription.Repository
	provider       Provider
	emitter        Emitter
}

func NewService(repo Repository, transcriptions transcription.Repository, provider Provider, emitter Emitter) UseCase {
	return &service{
		repo:           repo,
		transcriptions: transcriptions,
		provider:       provider,
		emitter:        emitter,
	}
}

// Create enforces the prerequisite at the API boundary: parent completed and
// summary completed. The stage handler re-validates defensively.
func (s *service) Create(ctx context.Context, transcriptionID uuid.UUID, language string) (Translation, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return Translation{}, errors.New("language is required")
	}
	parent, err := s.transcriptions.GetByID(ctx, transcriptionID)
	if err != nil {
		return Translation{}, err
	}
	if !prerequisiteMet(parent) {
		return Translation{}, ErrPrerequisite
	}

	now := time.Now().UTC()
	t := Translation{
		ID:              uuid.New(),
		TranscriptionID: transcriptionID,
		Language:        language,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return Translation{}, err
	}
	evt := RequestedEvent{TranslationID: t.ID, TranscriptionID: transcriptionID, Language: language}
	if err := s.emitter.Emit(ctx, EventRequested, evt); err != nil {
		return Translation{}, fmt.Errorf("emit %s: %w", EventRequested, err)
	}
	return t, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Translation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) ListByTranscription(ctx context.Context, transcriptionID uuid.UUID) ([]Translation, error) {
	return s.repo.ListByTranscription(ctx, transcriptionID)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// HandleRequested is the translate stage: translate the transcript, then the
// summary structure, then complete.
func (s *service) HandleRequested(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error) {
	var req RequestedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.TranslationID == uuid.Nil {
		return orchestrator.Result{}, orchestrator.Terminalf(CodeBadEvent, "bad %s payload: %v", evt.Name, err)
	}

	rec, err := s.repo.GetByID(ctx, req.TranslationID)
	if errors.Is(err, ErrNotFound) {
		return orchestrator.Skipped("record deleted"), nil
	}
	if err != nil {
		return orchestrator.Result{}, err
	}
	if rec.Status.Terminal() {
		return orchestrator.Skipped(fmt.Sprintf("status already %s", rec.Status)), nil
	}

	parent, err := s.transcriptions.GetByID(ctx, rec.TranscriptionID)
	if errors.Is(err, transcription.ErrNotFound) {
		return orchestrator.Result{}, orchestrator.Terminalf(CodePrerequisite, "parent transcription %s missing", rec.TranscriptionID)
	}
	if err != nil {
		return orchestrator.Result{}, err
	}
	if !prerequisiteMet(parent) {
		return orchestrator.Result{}, orchestrator.Terminalf(CodePrerequisite,
			"transcription %s not ready for translation (status=%s, summaryStatus=%s)",
			parent.ID, parent.Status, parent.SummaryStatus)
	}

	if err := s.repo.MarkProcessing(ctx, rec.ID); err != nil {
		return orchestrator.Result{}, err
	}

	text, err := s.provider.TranslateText(ctx, parent.Transcript, rec.Language)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("translate text %s: %w", rec.ID, err)
	}
	summary, err := s.provider.TranslateSummary(ctx, *parent.Summary, rec.Language)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("translate summary %s: %w", rec.ID, err)
	}
	if err := s.repo.SetCompleted(ctx, rec.ID, text, summary); err != nil {
		return orchestrator.Result{}, err
	}
	return orchestrator.Result{}, nil
}

func (s *service) DeadLetterRequested(ctx context.Context, evt orchestrator.Event, cause error) {
	var req RequestedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.TranslationID == uuid.Nil {
		log.Printf("translation: dead-letter with unparseable payload: %v", cause)
		return
	}
	code := orchestrator.Code(cause)
	if code == "" {
		code = orchestrator.CodeMaxRetries
	}
	e := transcription.ErrorInfo{Code: code, Message: cause.Error()}
	if err := s.repo.MarkFailed(ctx, req.TranslationID, e); err != nil {
		log.Printf("translation: mark %s failed: %v", req.TranslationID, err)
	}
}

func prerequisiteMet(parent transcription.Transcription) bool {
	return parent.Status == transcription.StatusCompleted &&
		strings.TrimSpace(parent.Transcript) != "" &&
		parent.SummaryStatus == transcription.SummaryCompleted &&
		parent.Summary != nil
}

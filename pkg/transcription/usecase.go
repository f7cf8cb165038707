package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/noteflow/backend/pkg/notify"
	"github.com/noteflow/backend/pkg/orchestrator"
	"github.com/noteflow/backend/pkg/speech"
	"github.com/noteflow/backend/pkg/storage/object"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("transcription not found")

// Error codes surfaced on failed records.
const (
	CodeNoSpeech          = "NO_SPEECH_DETECTED"
	CodeMissingTranscript = "TRANSCRIPT_MISSING"
	CodeBadEvent          = "INVALID_EVENT"
)

const (
	previewLen = 150
	// transcripts beyond this are cut before summarization, with a marker
	maxSummaryInput = 48000
	truncationMark  = "\n[transcript truncated]"
)

// Emitter publishes follow-up events; satisfied by the orchestrator engine.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// UseCase covers the operations exposed to the API layer plus the two stage
// handlers run by the orchestrator.
type UseCase interface {
	Create(ctx context.Context, ownerID, audioKey, notifyChannel string) (Transcription, error)
	Get(ctx context.Context, id uuid.UUID) (Transcription, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]Transcription, error)
	Delete(ctx context.Context, id uuid.UUID) error

	HandleRequested(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error)
	HandleSummarize(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error)
	DeadLetterRequested(ctx context.Context, evt orchestrator.Event, cause error)
	DeadLetterSummarize(ctx context.Context, evt orchestrator.Event, cause error)
}

type service struct {
	repo       Repository
	objects    object.Store
	provider   speech.Provider
	summarizer SummaryProvider
	notifier   notify.Notifier
	emitter    Emitter
}

func NewService(repo Repository, objects object.Store, provider speech.Provider, summarizer SummaryProvider, notifier notify.Notifier, emitter Emitter) UseCase {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &service{
		repo:       repo,
		objects:    objects,
		provider:   provider,
		summarizer: summarizer,
		notifier:   notifier,
		emitter:    emitter,
	}
}

// Create persists a pending record and emits the requested event that drives
// the transcribe stage.
func (s *service) Create(ctx context.Context, ownerID, audioKey, notifyChannel string) (Transcription, error) {
	if strings.TrimSpace(audioKey) == "" {
		return Transcription{}, errors.New("audio key is required")
	}
	now := time.Now().UTC()
	t := Transcription{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		AudioKey:      audioKey,
		NotifyChannel: notifyChannel,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return Transcription{}, err
	}
	if err := s.emitter.Emit(ctx, EventRequested, RequestedEvent{TranscriptionID: t.ID}); err != nil {
		return Transcription{}, fmt.Errorf("emit %s: %w", EventRequested, err)
	}
	return t, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Transcription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, ownerID string, limit, offset int) ([]Transcription, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// HandleRequested is the transcribe stage: pending → processing → completed,
// with monotonic progress markers along the way. Redelivery of an event for a
// record already terminal is a no-op.
func (s *service) HandleRequested(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error) {
	var req RequestedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.TranscriptionID == uuid.Nil {
		return orchestrator.Result{}, orchestrator.Terminalf(CodeBadEvent, "bad %s payload: %v", evt.Name, err)
	}

	rec, err := s.repo.GetByID(ctx, req.TranscriptionID)
	if errors.Is(err, ErrNotFound) {
		// deleted while queued; nothing left to do
		return orchestrator.Skipped("record deleted"), nil
	}
	if err != nil {
		return orchestrator.Result{}, err
	}
	if rec.Status.Terminal() {
		if rec.Status == StatusCompleted && rec.SummaryStatus == SummaryPending {
			// transcript landed but the follow-up event may have been lost;
			// re-emitting is safe, the summary stage skips duplicates
			if err := s.emitter.Emit(ctx, EventCompleted, CompletedEvent{TranscriptionID: rec.ID}); err != nil {
				log.Printf("transcription: re-emit %s for %s: %v", EventCompleted, rec.ID, err)
			}
		}
		return orchestrator.Skipped(fmt.Sprintf("status already %s", rec.Status)), nil
	}

	if err := s.repo.MarkProcessing(ctx, rec.ID, 5); err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.repo.UpdateProgress(ctx, rec.ID, 20); err != nil {
		return orchestrator.Result{}, err
	}

	transcript, err := s.transcribe(ctx, rec)
	if err != nil {
		return orchestrator.Result{}, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		// a clean provider response with no words is a business outcome, not
		// a provider fault; retrying will not conjure speech
		return orchestrator.Result{}, orchestrator.Terminalf(CodeNoSpeech, "no speech detected in audio")
	}

	if err := s.repo.UpdateProgress(ctx, rec.ID, 90); err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.repo.SetCompleted(ctx, rec.ID, transcript, previewOf(transcript)); err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.emitter.Emit(ctx, EventCompleted, CompletedEvent{TranscriptionID: rec.ID}); err != nil {
		return orchestrator.Result{}, fmt.Errorf("emit %s: %w", EventCompleted, err)
	}

	if rec.NotifyChannel != "" {
		if err := s.notifier.Notify(ctx, rec.NotifyChannel, "Your transcript is ready:\n\n"+previewOf(transcript)); err != nil {
			log.Printf("transcription: notify %s: %v", rec.ID, err)
		}
	}
	return orchestrator.Result{}, nil
}

func (s *service) transcribe(ctx context.Context, rec Transcription) (string, error) {
	if p, ok := s.provider.(speech.URLProvider); ok && isURL(rec.AudioKey) {
		return p.TranscribeURL(ctx, rec.AudioKey)
	}
	audio, err := s.objects.Download(ctx, rec.AudioKey)
	if err != nil {
		return "", fmt.Errorf("download audio %s: %w", rec.AudioKey, err)
	}
	return s.provider.Transcribe(ctx, path.Base(rec.AudioKey), audio)
}

// HandleSummarize is the summary stage, triggered by the completed event.
func (s *service) HandleSummarize(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error) {
	var req CompletedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.TranscriptionID == uuid.Nil {
		return orchestrator.Result{}, orchestrator.Terminalf(CodeBadEvent, "bad %s payload: %v", evt.Name, err)
	}

	rec, err := s.repo.GetByID(ctx, req.TranscriptionID)
	if errors.Is(err, ErrNotFound) {
		return orchestrator.Skipped("record deleted"), nil
	}
	if err != nil {
		return orchestrator.Result{}, err
	}
	if rec.Status != StatusCompleted || strings.TrimSpace(rec.Transcript) == "" {
		return orchestrator.Result{}, orchestrator.Terminalf(CodeMissingTranscript, "transcription %s has no completed transcript", rec.ID)
	}
	if rec.SummaryStatus == SummaryCompleted && rec.Summary != nil {
		return orchestrator.Skipped("summary already completed"), nil
	}

	if err := s.repo.MarkSummaryProcessing(ctx, rec.ID, s.summarizer.ModelID()); err != nil {
		return orchestrator.Result{}, err
	}

	input := rec.Transcript
	if len(input) > maxSummaryInput {
		input = cutAtRune(input, maxSummaryInput) + truncationMark
	}
	sum, err := s.summarizer.Summarize(ctx, input)
	if err != nil {
		// malformed model output included: plausibly transient, keep retriable
		return orchestrator.Result{}, fmt.Errorf("summarize %s: %w", rec.ID, err)
	}
	if err := s.repo.SetSummaryCompleted(ctx, rec.ID, sum); err != nil {
		return orchestrator.Result{}, err
	}
	return orchestrator.Result{}, nil
}

// DeadLetterRequested marks the record failed once the transcribe stage's
// retry budget is spent. A failing write here is logged, never re-raised.
func (s *service) DeadLetterRequested(ctx context.Context, evt orchestrator.Event, cause error) {
	var req RequestedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.TranscriptionID == uuid.Nil {
		log.Printf("transcription: dead-letter with unparseable payload: %v", cause)
		return
	}
	if err := s.repo.MarkFailed(ctx, req.TranscriptionID, errorInfo(cause)); err != nil {
		log.Printf("transcription: mark %s failed: %v", req.TranscriptionID, err)
	}
}

func (s *service) DeadLetterSummarize(ctx context.Context, evt orchestrator.Event, cause error) {
	var req CompletedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.TranscriptionID == uuid.Nil {
		log.Printf("transcription: summary dead-letter with unparseable payload: %v", cause)
		return
	}
	if err := s.repo.MarkSummaryFailed(ctx, req.TranscriptionID, errorInfo(cause)); err != nil {
		log.Printf("transcription: mark %s summary failed: %v", req.TranscriptionID, err)
	}
}

func errorInfo(cause error) ErrorInfo {
	code := orchestrator.Code(cause)
	if code == "" {
		code = orchestrator.CodeMaxRetries
	}
	return ErrorInfo{Code: code, Message: cause.Error()}
}

// cutAtRune shortens s to at most max bytes without splitting a rune.
func cutAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func previewOf(transcript string) string {
	r := []rune(transcript)
	if len(r) <= previewLen {
		return transcript
	}
	return string(r[:previewLen]) + "..."
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

package jobanalysis

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
	"github.com/noteflow/backend/pkg/scrape"
)

// Error codes surfaced on failed records.
const (
	CodeScrapeFailed     = "SCRAPE_FAILED"
	CodeEmptyDescription = "EMPTY_JOB_DESCRIPTION"
	CodeBadEvent         = "INVALID_EVENT"
)

// Emitter publishes follow-up events; satisfied by the orchestrator engine.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// CreateInput carries everything the API layer collects for a new analysis.
type CreateInput struct {
	OwnerID        string
	SourceType     SourceType
	ResumeText     string
	JobURL         string
	JobDescription string
}

type UseCase interface {
	Create(ctx context.Context, in CreateInput) (Analysis, error)
	Get(ctx context.Context, id uuid.UUID) (Analysis, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]Analysis, error)
	Delete(ctx context.Context, id uuid.UUID) error

	HandleRequested(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error)
	DeadLetterRequested(ctx context.Context, evt orchestrator.Event, cause error)
}

// Options tune the scrape poll sub-state machine.
type Options struct {
	PollInterval time.Duration
	PollAttempts int
}

type service struct {
	repo     Repository
	reasoner ReasoningProvider
	emitter  Emitter
	poll     *poller
}

func NewService(repo Repository, scraper scrape.Provider, reasoner ReasoningProvider, emitter Emitter, opts Options) UseCase {
	return &service{
		repo:     repo,
		reasoner: reasoner,
		emitter:  emitter,
		poll:     newPoller(scraper, repo, opts.PollInterval, opts.PollAttempts),
	}
}

func (s *service) Create(ctx context.Context, in CreateInput) (Analysis, error) {
	if strings.TrimSpace(in.ResumeText) == "" {
		return Analysis{}, errors.New("resume text is required")
	}
	switch in.SourceType {
	case SourceURL:
		if strings.TrimSpace(in.JobURL) == "" {
			return Analysis{}, errors.New("job url is required for url source")
		}
	case SourceText:
		if strings.TrimSpace(in.JobDescription) == "" {
			return Analysis{}, errors.New("job description is required for text source")
		}
	default:
		return Analysis{}, fmt.Errorf("unknown source type %q", in.SourceType)
	}

	now := time.Now().UTC()
	a := Analysis{
		ID:                  uuid.New(),
		OwnerID:             in.OwnerID,
		SourceType:          in.SourceType,
		ResumeText:          in.ResumeText,
		JobURL:              in.JobURL,
		JobDescriptionInput: in.JobDescription,
		Status:              StatusQueued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return Analysis{}, err
	}
	if err := s.emitter.Emit(ctx, EventRequested, RequestedEvent{AnalysisID: a.ID}); err != nil {
		return Analysis{}, fmt.Errorf("emit %s: %w", EventRequested, err)
	}
	return a, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Analysis, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, ownerID string, limit, offset int) ([]Analysis, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// HandleRequested is the analyze stage: resolve the job description (scraping
// URL sources through the poll sub-state machine), then score the resume
// against it. Every persisted intermediate (snapshot id, resolved description)
// makes a retried run resume instead of redoing side effects.
func (s *service) HandleRequested(ctx context.Context, evt orchestrator.Event) (orchestrator.Result, error) {
	var req RequestedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.AnalysisID == uuid.Nil {
		return orchestrator.Result{}, orchestrator.Terminalf(CodeBadEvent, "bad %s payload: %v", evt.Name, err)
	}

	a, err := s.repo.GetByID(ctx, req.AnalysisID)
	if errors.Is(err, ErrNotFound) {
		return orchestrator.Skipped("record deleted"), nil
	}
	if err != nil {
		return orchestrator.Result{}, err
	}
	if a.Status.Terminal() {
		return orchestrator.Skipped(fmt.Sprintf("status already %s", a.Status)), nil
	}
	if a.Status != StatusProcessing {
		if err := s.repo.MarkProcessing(ctx, a.ID); err != nil {
			return orchestrator.Result{}, err
		}
	}

	description := a.JobDescription
	if description == "" {
		switch a.SourceType {
		case SourceURL:
			description, err = s.poll.resolve(ctx, a)
			if err != nil {
				return orchestrator.Result{}, err
			}
			if err := s.repo.SetJobDescription(ctx, a.ID, description); err != nil {
				return orchestrator.Result{}, err
			}
		case SourceText:
			description = a.JobDescriptionInput
		}
	}
	if strings.TrimSpace(description) == "" {
		return orchestrator.Result{}, orchestrator.Terminalf(CodeEmptyDescription, "resolved job description is empty")
	}

	result, err := s.reasoner.Evaluate(ctx, a.ResumeText, description)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("evaluate %s: %w", a.ID, err)
	}
	if err := s.repo.SetCompleted(ctx, a.ID, result, s.reasoner.ModelID()); err != nil {
		return orchestrator.Result{}, err
	}
	return orchestrator.Result{}, nil
}

func (s *service) DeadLetterRequested(ctx context.Context, evt orchestrator.Event, cause error) {
	var req RequestedEvent
	if err := json.Unmarshal(evt.Payload, &req); err != nil || req.AnalysisID == uuid.Nil {
		log.Printf("jobanalysis: dead-letter with unparseable payload: %v", cause)
		return
	}
	code := orchestrator.Code(cause)
	if code == "" {
		code = orchestrator.CodeMaxRetries
	}
	e := ErrorInfo{Code: code, Message: cause.Error()}
	if err := s.repo.MarkFailed(ctx, req.AnalysisID, e); err != nil {
		log.Printf("jobanalysis: mark %s failed: %v", req.AnalysisID, err)
	}
}

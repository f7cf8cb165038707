package jobanalysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("job analysis not found")

type SourceType string

const (
	SourceURL  SourceType = "url"
	SourceText SourceType = "text"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ErrorInfo is the user-visible failure surfaced on the status read.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlanDay is one entry of the fixed 7-day preparation plan.
type PlanDay struct {
	Day   int      `json:"day"`
	Title string   `json:"title"`
	Tasks []string `json:"tasks"`
}

// Result is the structured compatibility report. OneWeekPlan always holds
// exactly 7 entries with day values 1..7 once an analysis completes.
type Result struct {
	CompatibilityScore int       `json:"compatibilityScore"`
	Summary            string    `json:"summary"`
	Strengths          []string  `json:"strengths"`
	Gaps               []string  `json:"gaps"`
	InterviewQuestions []string  `json:"interviewQuestions"`
	InterviewPrep      string    `json:"interviewPrep"`
	OneWeekPlan        []PlanDay `json:"oneWeekPlan"`
}

// Analysis scores a resume against a job posting. URL-sourced analyses carry
// the scrape snapshot id so an interrupted poll resumes instead of triggering
// a second scrape.
type Analysis struct {
	ID                  uuid.UUID  `json:"id"`
	OwnerID             string     `json:"ownerId"`
	SourceType          SourceType `json:"sourceType"`
	ResumeText          string     `json:"resumeText"`
	JobURL              string     `json:"jobUrl,omitempty"`
	JobDescriptionInput string     `json:"jobDescriptionInput,omitempty"`
	SnapshotID          string     `json:"snapshotId,omitempty"`
	JobDescription      string     `json:"jobDescription,omitempty"` // resolved
	Status              Status     `json:"status"`
	Result              *Result    `json:"resultData,omitempty"`
	Model               string     `json:"model,omitempty"`
	Error               *ErrorInfo `json:"error,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Repository is the record store port for analyses.
type Repository interface {
	Create(ctx context.Context, a Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (Analysis, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Analysis, error)
	Delete(ctx context.Context, id uuid.UUID) error

	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetSnapshotID(ctx context.Context, id uuid.UUID, snapshotID string) error
	SetJobDescription(ctx context.Context, id uuid.UUID, description string) error
	SetCompleted(ctx context.Context, id uuid.UUID, r Result, model string) error
	MarkFailed(ctx context.Context, id uuid.UUID, e ErrorInfo) error
}

// ReasoningProvider scores a resume against a job description. Implementations
// validate the result shape (score bounds, exactly 7 plan days) before
// returning; malformed output is a retriable fault.
type ReasoningProvider interface {
	Evaluate(ctx context.Context, resumeText, jobDescription string) (Result, error)
	ModelID() string
}

// Event name and payload for the analyze stage.
const EventRequested = "job_analysis.requested"

type RequestedEvent struct {
	AnalysisID uuid.UUID `json:"analysisId"`
}

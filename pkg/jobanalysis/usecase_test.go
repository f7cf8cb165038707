package jobanalysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noteflow/backend/pkg/orchestrator"
	"github.com/noteflow/backend/pkg/scrape"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]Analysis
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[uuid.UUID]Analysis)}
}

func (r *fakeRepo) update(id uuid.UUID, f func(*Analysis)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	f(&a)
	r.records[id] = a
	return nil
}

func (r *fakeRepo) Create(_ context.Context, a Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[a.ID] = a
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return a, nil
}

func (r *fakeRepo) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Analysis
	for _, a := range r.records {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(a *Analysis) { a.Status = StatusProcessing })
}

func (r *fakeRepo) SetSnapshotID(_ context.Context, id uuid.UUID, snapshotID string) error {
	return r.update(id, func(a *Analysis) {
		if a.SnapshotID == "" {
			a.SnapshotID = snapshotID
		}
	})
}

func (r *fakeRepo) SetJobDescription(_ context.Context, id uuid.UUID, description string) error {
	return r.update(id, func(a *Analysis) { a.JobDescription = description })
}

func (r *fakeRepo) SetCompleted(_ context.Context, id uuid.UUID, res Result, model string) error {
	return r.update(id, func(a *Analysis) {
		a.Status = StatusCompleted
		a.Result = &res
		a.Model = model
		a.Error = nil
	})
}

func (r *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, e ErrorInfo) error {
	return r.update(id, func(a *Analysis) {
		a.Status = StatusFailed
		a.Error = &e
	})
}

type fakeScraper struct {
	mu           sync.Mutex
	triggerCalls int
	statusCalls  int
	snapshotID   string
	triggerErr   error
	statuses     []scrape.SnapshotStatus // consumed in order; last repeats
	records      []map[string]any
	recordsErr   error
}

func (s *fakeScraper) Trigger(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggerCalls++
	if s.triggerErr != nil {
		return "", s.triggerErr
	}
	return s.snapshotID, nil
}

func (s *fakeScraper) Status(_ context.Context, _ string) (scrape.SnapshotStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	if len(s.statuses) == 0 {
		return scrape.StatusReady, nil
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st, nil
}

func (s *fakeScraper) Records(_ context.Context, _ string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, s.recordsErr
}

type fakeReasoner struct {
	calls        int
	lastResume   string
	lastJobDescr string
	result       Result
	err          error
}

func (p *fakeReasoner) Evaluate(_ context.Context, resumeText, jobDescription string) (Result, error) {
	p.calls++
	p.lastResume = resumeText
	p.lastJobDescr = jobDescription
	return p.result, p.err
}

func (p *fakeReasoner) ModelID() string { return "test/chat" }

type captureEmitter struct {
	events []string
}

func (e *captureEmitter) Emit(_ context.Context, event string, _ any) error {
	e.events = append(e.events, event)
	return nil
}

func sevenDayResult() Result {
	r := Result{
		CompatibilityScore: 72,
		Summary:            "solid overlap",
		Strengths:          []string{"go"},
		Gaps:               []string{"k8s"},
		InterviewQuestions: []string{"q1", "q2", "q3"},
	}
	for d := 1; d <= 7; d++ {
		r.OneWeekPlan = append(r.OneWeekPlan, PlanDay{Day: d, Title: "day", Tasks: []string{"task"}})
	}
	return r
}

func fastOptions() Options {
	return Options{PollInterval: time.Millisecond, PollAttempts: 3}
}

func requestedEvent(t *testing.T, id uuid.UUID) orchestrator.Event {
	t.Helper()
	data, err := json.Marshal(RequestedEvent{AnalysisID: id})
	require.NoError(t, err)
	return orchestrator.Event{Name: EventRequested, Payload: data}
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeScraper{}, &fakeReasoner{}, &captureEmitter{}, fastOptions())

	_, err := svc.Create(context.Background(), CreateInput{SourceType: SourceText, JobDescription: "desc"})
	require.Error(t, err, "resume text required")

	_, err = svc.Create(context.Background(), CreateInput{ResumeText: "cv", SourceType: SourceURL})
	require.Error(t, err, "url required for url source")

	_, err = svc.Create(context.Background(), CreateInput{ResumeText: "cv", SourceType: SourceText})
	require.Error(t, err, "description required for text source")

	_, err = svc.Create(context.Background(), CreateInput{ResumeText: "cv", SourceType: "rss"})
	require.Error(t, err, "unknown source type")
}

func TestTextSourceSkipsScraper(t *testing.T) {
	repo := newFakeRepo()
	scraper := &fakeScraper{snapshotID: "snap-1"}
	reasoner := &fakeReasoner{result: sevenDayResult()}
	svc := NewService(repo, scraper, reasoner, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:        "user-1",
		SourceType:     SourceText,
		ResumeText:     "ten years of Go",
		JobDescription: "backend engineer, Go and Postgres",
	})
	require.NoError(t, err)

	res, err := svc.HandleRequested(context.Background(), requestedEvent(t, a.ID))
	require.NoError(t, err)
	require.False(t, res.Skipped)

	require.Zero(t, scraper.triggerCalls, "text source must never hit the scraper")
	require.Equal(t, "backend engineer, Go and Postgres", reasoner.lastJobDescr)

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.OneWeekPlan, 7)
	require.Equal(t, "test/chat", got.Model)
}

func TestURLSourcePollsUntilReady(t *testing.T) {
	repo := newFakeRepo()
	scraper := &fakeScraper{
		snapshotID: "snap-1",
		statuses:   []scrape.SnapshotStatus{scrape.StatusRunning, scrape.StatusRunning, scrape.StatusReady},
		records:    []map[string]any{{"job_description": "senior Go engineer"}},
	}
	reasoner := &fakeReasoner{result: sevenDayResult()}
	svc := NewService(repo, scraper, reasoner, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:    "user-1",
		SourceType: SourceURL,
		ResumeText: "cv",
		JobURL:     "https://jobs.example.com/123",
	})
	require.NoError(t, err)

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, a.ID))
	require.NoError(t, err)

	require.Equal(t, 1, scraper.triggerCalls)
	require.Equal(t, 3, scraper.statusCalls)
	require.Equal(t, "senior Go engineer", reasoner.lastJobDescr)

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, "snap-1", got.SnapshotID)
	require.Equal(t, "senior Go engineer", got.JobDescription)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestRetryReusesPersistedSnapshot(t *testing.T) {
	repo := newFakeRepo()
	scraper := &fakeScraper{
		snapshotID: "snap-1",
		statuses:   []scrape.SnapshotStatus{scrape.StatusRunning}, // never ready
		records:    []map[string]any{{"description": "engineer"}},
	}
	reasoner := &fakeReasoner{result: sevenDayResult()}
	svc := NewService(repo, scraper, reasoner, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:    "user-1",
		SourceType: SourceURL,
		ResumeText: "cv",
		JobURL:     "https://jobs.example.com/123",
	})
	require.NoError(t, err)
	evt := requestedEvent(t, a.ID)

	// poll budget spent: the stage fails retriably, snapshot id persisted
	_, err = svc.HandleRequested(context.Background(), evt)
	require.Error(t, err)
	require.False(t, orchestrator.IsTerminal(err))
	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, "snap-1", got.SnapshotID)

	// stage retry: snapshot becomes ready, no second trigger
	scraper.mu.Lock()
	scraper.statuses = []scrape.SnapshotStatus{scrape.StatusReady}
	scraper.mu.Unlock()

	_, err = svc.HandleRequested(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, 1, scraper.triggerCalls, "persisted snapshot must be reused")
}

func TestScrapeFailureIsTerminal(t *testing.T) {
	repo := newFakeRepo()
	scraper := &fakeScraper{
		snapshotID: "snap-1",
		statuses:   []scrape.SnapshotStatus{scrape.StatusFailed},
	}
	svc := NewService(repo, scraper, &fakeReasoner{}, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:    "user-1",
		SourceType: SourceURL,
		ResumeText: "cv",
		JobURL:     "https://jobs.example.com/123",
	})
	require.NoError(t, err)

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, a.ID))
	require.Error(t, err)
	require.True(t, orchestrator.IsTerminal(err))
	require.Equal(t, CodeScrapeFailed, orchestrator.Code(err))
}

func TestEmptyRecordsIsTerminal(t *testing.T) {
	scraper := &fakeScraper{snapshotID: "snap-1", records: nil}
	svc := NewService(newFakeRepo(), scraper, &fakeReasoner{}, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:    "user-1",
		SourceType: SourceURL,
		ResumeText: "cv",
		JobURL:     "https://jobs.example.com/123",
	})
	require.NoError(t, err)

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, a.ID))
	require.Error(t, err)
	require.True(t, orchestrator.IsTerminal(err))
	require.Equal(t, CodeScrapeFailed, orchestrator.Code(err))
}

func TestEmptyDescriptionIsTerminal(t *testing.T) {
	scraper := &fakeScraper{snapshotID: "snap-1", records: []map[string]any{{}}}
	svc := NewService(newFakeRepo(), scraper, &fakeReasoner{}, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:    "user-1",
		SourceType: SourceURL,
		ResumeText: "cv",
		JobURL:     "https://jobs.example.com/123",
	})
	require.NoError(t, err)

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, a.ID))
	require.Error(t, err)
	require.True(t, orchestrator.IsTerminal(err))
}

func TestRedeliveryOfCompletedIsNoop(t *testing.T) {
	repo := newFakeRepo()
	reasoner := &fakeReasoner{result: sevenDayResult()}
	svc := NewService(repo, &fakeScraper{}, reasoner, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:        "user-1",
		SourceType:     SourceText,
		ResumeText:     "cv",
		JobDescription: "desc",
	})
	require.NoError(t, err)
	evt := requestedEvent(t, a.ID)

	_, err = svc.HandleRequested(context.Background(), evt)
	require.NoError(t, err)

	res, err := svc.HandleRequested(context.Background(), evt)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 1, reasoner.calls)
}

func TestDeletedRecordSkips(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeScraper{}, &fakeReasoner{}, &captureEmitter{}, fastOptions())

	res, err := svc.HandleRequested(context.Background(), requestedEvent(t, uuid.New()))
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestDeadLetterRequestedMarksFailed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeScraper{}, &fakeReasoner{}, &captureEmitter{}, fastOptions())

	a, err := svc.Create(context.Background(), CreateInput{
		OwnerID:        "user-1",
		SourceType:     SourceText,
		ResumeText:     "cv",
		JobDescription: "desc",
	})
	require.NoError(t, err)

	svc.DeadLetterRequested(context.Background(), requestedEvent(t, a.ID), errors.New("model down"))

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, orchestrator.CodeMaxRetries, got.Error.Code)
}

func TestExtractDescriptionFallsBackToRawRecord(t *testing.T) {
	require.Equal(t, "from description", extractDescription(map[string]any{"description": "from description"}))
	require.Equal(t, "detailed", extractDescription(map[string]any{"content": "detailed", "title": "x"}))

	raw := extractDescription(map[string]any{"title": "Engineer", "company": "Acme"})
	require.Contains(t, raw, `"title":"Engineer"`)
	require.Contains(t, raw, `"company":"Acme"`)
}

package translation

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
	"github.com/noteflow/backend/pkg/transcription"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]Translation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[uuid.UUID]Translation)}
}

func (r *fakeRepo) update(id uuid.UUID, f func(*Translation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	f(&t)
	r.records[id] = t
	return nil
}

func (r *fakeRepo) Create(_ context.Context, t Translation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.TranscriptionID == t.TranscriptionID && existing.Language == t.Language {
			return ErrExists
		}
	}
	r.records[t.ID] = t
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.records[id]
	if !ok {
		return Translation{}, ErrNotFound
	}
	return t, nil
}

func (r *fakeRepo) ListByTranscription(_ context.Context, transcriptionID uuid.UUID) ([]Translation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Translation
	for _, t := range r.records {
		if t.TranscriptionID == transcriptionID {
			out = append(out, t)
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
	return r.update(id, func(t *Translation) { t.Status = StatusProcessing })
}

func (r *fakeRepo) SetCompleted(_ context.Context, id uuid.UUID, text string, summary transcription.Summary) error {
	return r.update(id, func(t *Translation) {
		t.Status = StatusCompleted
		t.TranslatedText = text
		t.TranslatedSummary = &summary
		t.Error = nil
	})
}

func (r *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, e transcription.ErrorInfo) error {
	return r.update(id, func(t *Translation) {
		t.Status = StatusFailed
		t.Error = &e
	})
}

type fakeParentRepo struct {
	records map[uuid.UUID]transcription.Transcription
}

func (r *fakeParentRepo) GetByID(_ context.Context, id uuid.UUID) (transcription.Transcription, error) {
	t, ok := r.records[id]
	if !ok {
		return transcription.Transcription{}, transcription.ErrNotFound
	}
	return t, nil
}

func (r *fakeParentRepo) Create(context.Context, transcription.Transcription) error { return nil }
func (r *fakeParentRepo) ListByOwner(context.Context, string, int, int) ([]transcription.Transcription, error) {
	return nil, nil
}
func (r *fakeParentRepo) Delete(context.Context, uuid.UUID) error              { return nil }
func (r *fakeParentRepo) MarkProcessing(context.Context, uuid.UUID, int) error { return nil }
func (r *fakeParentRepo) UpdateProgress(context.Context, uuid.UUID, int) error { return nil }
func (r *fakeParentRepo) SetCompleted(context.Context, uuid.UUID, string, string) error {
	return nil
}
func (r *fakeParentRepo) MarkFailed(context.Context, uuid.UUID, transcription.ErrorInfo) error {
	return nil
}
func (r *fakeParentRepo) MarkSummaryProcessing(context.Context, uuid.UUID, string) error { return nil }
func (r *fakeParentRepo) SetSummaryCompleted(context.Context, uuid.UUID, transcription.Summary) error {
	return nil
}
func (r *fakeParentRepo) MarkSummaryFailed(context.Context, uuid.UUID, transcription.ErrorInfo) error {
	return nil
}

type fakeTranslator struct {
	textCalls int
	err       error
}

func (p *fakeTranslator) TranslateText(_ context.Context, text, language string) (string, error) {
	p.textCalls++
	if p.err != nil {
		return "", p.err
	}
	return "[" + language + "] " + text, nil
}

func (p *fakeTranslator) TranslateSummary(_ context.Context, s transcription.Summary, language string) (transcription.Summary, error) {
	if p.err != nil {
		return transcription.Summary{}, p.err
	}
	out := s
	out.Summary = "[" + language + "] " + s.Summary
	return out, nil
}

func (p *fakeTranslator) ModelID() string { return "test/chat" }

type captureEmitter struct {
	events []string
}

func (e *captureEmitter) Emit(_ context.Context, event string, _ any) error {
	e.events = append(e.events, event)
	return nil
}

func completedParent() transcription.Transcription {
	return transcription.Transcription{
		ID:            uuid.New(),
		Status:        transcription.StatusCompleted,
		Progress:      100,
		Transcript:    "the full transcript",
		SummaryStatus: transcription.SummaryCompleted,
		Summary: &transcription.Summary{
			Summary:      "digest",
			KeyPoints:    []string{"p1"},
			KeyTakeaways: []string{"t1"},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func requestedEvent(t *testing.T, tr Translation) orchestrator.Event {
	t.Helper()
	data, err := json.Marshal(RequestedEvent{
		TranslationID:   tr.ID,
		TranscriptionID: tr.TranscriptionID,
		Language:        tr.Language,
	})
	require.NoError(t, err)
	return orchestrator.Event{Name: EventRequested, Payload: data}
}

func TestCreateRequiresCompletedParent(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	emitter := &captureEmitter{}
	svc := NewService(newFakeRepo(), parents, &fakeTranslator{}, emitter)

	tr, err := svc.Create(context.Background(), parent.ID, " ES ")
	require.NoError(t, err)
	require.Equal(t, "es", tr.Language)
	require.Equal(t, StatusPending, tr.Status)
	require.Equal(t, []string{EventRequested}, emitter.events)
}

func TestCreateRejectsUnreadyParent(t *testing.T) {
	cases := map[string]func(*transcription.Transcription){
		"still processing": func(p *transcription.Transcription) {
			p.Status = transcription.StatusProcessing
			p.Transcript = ""
		},
		"summary pending": func(p *transcription.Transcription) {
			p.SummaryStatus = transcription.SummaryPending
			p.Summary = nil
		},
		"summary failed": func(p *transcription.Transcription) {
			p.SummaryStatus = transcription.SummaryFailed
			p.Summary = nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			parent := completedParent()
			mutate(&parent)
			parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
			svc := NewService(newFakeRepo(), parents, &fakeTranslator{}, &captureEmitter{})

			_, err := svc.Create(context.Background(), parent.ID, "es")
			require.ErrorIs(t, err, ErrPrerequisite)
		})
	}
}

func TestCreateRejectsDuplicateLanguage(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	svc := NewService(newFakeRepo(), parents, &fakeTranslator{}, &captureEmitter{})

	_, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), parent.ID, "es")
	require.ErrorIs(t, err, ErrExists)
}

func TestHandleRequestedHappyPath(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	repo := newFakeRepo()
	svc := NewService(repo, parents, &fakeTranslator{}, &captureEmitter{})

	tr, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)

	res, err := svc.HandleRequested(context.Background(), requestedEvent(t, tr))
	require.NoError(t, err)
	require.False(t, res.Skipped)

	got, err := repo.GetByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "[es] the full transcript", got.TranslatedText)
	require.NotNil(t, got.TranslatedSummary)
	require.Equal(t, "[es] digest", got.TranslatedSummary.Summary)
}

func TestHandleRequestedRedeliveryIsNoop(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	repo := newFakeRepo()
	translator := &fakeTranslator{}
	svc := NewService(repo, parents, translator, &captureEmitter{})

	tr, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)
	evt := requestedEvent(t, tr)

	_, err = svc.HandleRequested(context.Background(), evt)
	require.NoError(t, err)

	res, err := svc.HandleRequested(context.Background(), evt)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 1, translator.textCalls)
}

func TestHandleRequestedRevalidatesPrerequisite(t *testing.T) {
	// parent was ready at create time but regressed before the worker ran:
	// the handler must fail terminally, not spin on retries
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	repo := newFakeRepo()
	svc := NewService(repo, parents, &fakeTranslator{}, &captureEmitter{})

	tr, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)

	parent.SummaryStatus = transcription.SummaryFailed
	parent.Summary = nil
	parents.records[parent.ID] = parent

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, tr))
	require.Error(t, err)
	require.True(t, orchestrator.IsTerminal(err))
	require.Equal(t, CodePrerequisite, orchestrator.Code(err))
}

func TestHandleRequestedMissingParentIsTerminal(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	repo := newFakeRepo()
	svc := NewService(repo, parents, &fakeTranslator{}, &captureEmitter{})

	tr, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)

	delete(parents.records, parent.ID)

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, tr))
	require.Error(t, err)
	require.True(t, orchestrator.IsTerminal(err))
	require.Equal(t, CodePrerequisite, orchestrator.Code(err))
}

func TestHandleRequestedDeletedRecordSkips(t *testing.T) {
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{}}
	svc := NewService(newFakeRepo(), parents, &fakeTranslator{}, &captureEmitter{})

	res, err := svc.HandleRequested(context.Background(), requestedEvent(t, Translation{ID: uuid.New()}))
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestHandleRequestedProviderFailureIsRetriable(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	repo := newFakeRepo()
	svc := NewService(repo, parents, &fakeTranslator{err: errors.New("upstream 503")}, &captureEmitter{})

	tr, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)

	_, err = svc.HandleRequested(context.Background(), requestedEvent(t, tr))
	require.Error(t, err)
	require.False(t, orchestrator.IsTerminal(err))
}

func TestDeadLetterRequestedMarksFailed(t *testing.T) {
	parent := completedParent()
	parents := &fakeParentRepo{records: map[uuid.UUID]transcription.Transcription{parent.ID: parent}}
	repo := newFakeRepo()
	svc := NewService(repo, parents, &fakeTranslator{}, &captureEmitter{})

	tr, err := svc.Create(context.Background(), parent.ID, "es")
	require.NoError(t, err)

	svc.DeadLetterRequested(context.Background(), requestedEvent(t, tr),
		orchestrator.Terminalf(CodePrerequisite, "parent regressed"))

	got, err := repo.GetByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, CodePrerequisite, got.Error.Code)
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/noteflow/backend/pkg/queue"
)

// Event is one unit of work delivered to a stage handler.
type Event struct {
	Name    string
	ID      string // broker delivery id
	Payload []byte
}

// Result reports how a handler attempt ended when no error occurred.
type Result struct {
	Skipped bool
	Reason  string
}

// Skipped is returned by handlers that found the record already in a terminal
// state and did nothing.
func Skipped(reason string) Result { return Result{Skipped: true, Reason: reason} }

// HandlerFunc advances one entity one step through its state machine in
// response to one event. It must be idempotent: redelivery of an already
// applied event has to come back as a skip, not a second side effect.
type HandlerFunc func(ctx context.Context, evt Event) (Result, error)

// DeadLetterFunc is invoked exactly once per event whose retry budget is
// exhausted or that failed terminally. It is responsible for recording the
// permanent failure and must not panic or re-raise.
type DeadLetterFunc func(ctx context.Context, evt Event, err error)

// Policy configures execution of one registered handler.
type Policy struct {
	// Retries is the number of re-executions after the first failed attempt.
	Retries int
	// Concurrency caps simultaneous executions of this handler, bounding load
	// on the external provider behind it. Excess work queues at the broker.
	Concurrency int
	// FinishTimeout bounds the wall clock of a single attempt.
	FinishTimeout time.Duration
	// Backoff returns the pause before retry attempt (1-based). Defaults to
	// capped exponential.
	Backoff func(attempt int) time.Duration
	// Key extracts the idempotency key from the event payload, typically the
	// record id. Redelivery of a key with an attempt still in flight is
	// coalesced: acked and dropped.
	Key func(evt Event) string
	// DeadLetter receives the event and final error after exhaustion.
	DeadLetter DeadLetterFunc
}

type registration struct {
	event   string
	handler HandlerFunc
	policy  Policy
	// reclaimIdle is the pending-entry idle threshold for this event. A
	// delivery stays pending for the whole retry budget of the attempt that
	// holds it, so reclaiming earlier would hand out an id the running
	// attempt still depends on.
	reclaimIdle time.Duration
}

// Stats is a point-in-time snapshot of engine counters, exposed on the ops
// endpoint.
type Stats struct {
	Processed  int64 `json:"processed"`
	Skipped    int64 `json:"skipped"`
	Coalesced  int64 `json:"coalesced"`
	Retried    int64 `json:"retried"`
	DeadLetter int64 `json:"deadLettered"`
	InFlight   int64 `json:"inFlight"`
}

const (
	defaultConcurrency = 5
	defaultRetries     = 3
	defaultTimeout     = 10 * time.Minute
	consumeBlock       = 2 * time.Second
	claimMinIdle       = 5 * time.Minute // floor; per-event idle covers the full retry budget
	claimInterval      = time.Minute
)

// Engine is a durable step-execution engine: it delivers named events to
// registered handlers through an at-least-once broker, retries failed attempts
// with backoff, enforces per-handler concurrency ceilings and finish timeouts,
// coalesces duplicate in-flight work by idempotency key and dead-letters
// events whose budget is spent.
type Engine struct {
	broker queue.Broker
	group  string

	mu       sync.Mutex
	regs     map[string]*registration
	inflight map[string]string // event|key -> delivery id
	running  bool

	stats struct {
		sync.Mutex
		Stats
	}
}

func New(broker queue.Broker, group string) *Engine {
	return &Engine{
		broker:   broker,
		group:    group,
		regs:     make(map[string]*registration),
		inflight: make(map[string]string),
	}
}

// Register binds handler to an event name. Must be called before Run.
func (e *Engine) Register(event string, handler HandlerFunc, p Policy) error {
	if event == "" {
		return fmt.Errorf("orchestrator: empty event name")
	}
	if handler == nil {
		return fmt.Errorf("orchestrator: nil handler for %q", event)
	}
	if p.Concurrency <= 0 {
		p.Concurrency = defaultConcurrency
	}
	if p.Retries < 0 {
		p.Retries = defaultRetries
	}
	if p.FinishTimeout <= 0 {
		p.FinishTimeout = defaultTimeout
	}
	if p.Backoff == nil {
		p.Backoff = DefaultBackoff
	}

	idle := time.Duration(p.Retries+1) * p.FinishTimeout
	for i := 1; i <= p.Retries; i++ {
		idle += p.Backoff(i)
	}
	idle += claimInterval
	if idle < claimMinIdle {
		idle = claimMinIdle
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("orchestrator: register %q after Run", event)
	}
	if _, exists := e.regs[event]; exists {
		return fmt.Errorf("orchestrator: handler already registered for %q", event)
	}
	e.regs[event] = &registration{event: event, handler: handler, policy: p, reclaimIdle: idle}
	return nil
}

// Emit publishes payload (JSON-marshaled) under the given event name.
func (e *Engine) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	if _, err := e.broker.Publish(ctx, event, data); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// Run consumes events for all registrations until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	regs := make([]*registration, 0, len(e.regs))
	for _, r := range e.regs {
		regs = append(regs, r)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	host, _ := os.Hostname()
	for _, r := range regs {
		for i := 0; i < r.policy.Concurrency; i++ {
			wg.Add(1)
			consumer := fmt.Sprintf("%s-%s-%d", host, r.event, i)
			go func(r *registration, consumer string) {
				defer wg.Done()
				e.consumeLoop(ctx, r, consumer)
			}(r, consumer)
		}
		wg.Add(1)
		go func(r *registration, consumer string) {
			defer wg.Done()
			e.claimLoop(ctx, r, consumer)
		}(r, fmt.Sprintf("%s-%s-claim", host, r.event))
	}
	wg.Wait()
}

func (e *Engine) consumeLoop(ctx context.Context, r *registration, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := e.broker.Consume(ctx, r.event, e.group, consumer, 1, consumeBlock)
		if err != nil {
			if ctx.Err() != nil || err == queue.ErrClosed {
				return
			}
			log.Printf("orchestrator: consume %s: %v", r.event, err)
			if err := Sleep(ctx, time.Second); err != nil {
				return
			}
			continue
		}
		for _, d := range deliveries {
			e.dispatch(ctx, r, d)
		}
	}
}

// claimLoop periodically recovers deliveries a crashed worker left pending.
func (e *Engine) claimLoop(ctx context.Context, r *registration, consumer string) {
	for {
		if err := Sleep(ctx, claimInterval); err != nil {
			return
		}
		deliveries, err := e.broker.Claim(ctx, r.event, e.group, consumer, r.reclaimIdle, 10)
		if err != nil {
			if ctx.Err() != nil || err == queue.ErrClosed {
				return
			}
			log.Printf("orchestrator: claim %s: %v", r.event, err)
			continue
		}
		for _, d := range deliveries {
			e.dispatch(ctx, r, d)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, r *registration, d queue.Delivery) {
	evt := Event{Name: r.event, ID: d.ID, Payload: d.Payload}

	if r.policy.Key != nil {
		if key := r.policy.Key(evt); key != "" {
			if busyID, ok := e.begin(r.event, key, d.ID); !ok {
				// same unit of work already in flight; drop this duplicate.
				// A reclaimed copy carries the id the running attempt will
				// ack itself, so only genuinely distinct deliveries are acked
				// here.
				e.count(func(s *Stats) { s.Coalesced++ })
				if busyID != d.ID {
					e.ack(ctx, r.event, d.ID)
				}
				return
			}
			defer e.end(r.event, key)
		}
	}

	e.count(func(s *Stats) { s.InFlight++ })
	defer e.count(func(s *Stats) { s.InFlight-- })

	err := e.execute(ctx, r, evt)
	if err != nil {
		if ctx.Err() != nil && !IsTerminal(err) {
			// shutdown interrupted the attempt with budget left. Not a dead
			// letter: leave the delivery pending so a restarted worker
			// reclaims and resumes it.
			return
		}
		dlqCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			dlqCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if r.policy.DeadLetter != nil {
			r.policy.DeadLetter(dlqCtx, evt, err)
		} else {
			log.Printf("orchestrator: %s dead-lettered without callback: %v", r.event, err)
		}
		e.count(func(s *Stats) { s.DeadLetter++ })
	}
	e.ack(ctx, r.event, d.ID)
}

// execute runs the handler with the retry budget. A nil return means the
// event is settled; a ctx error means shutdown interrupted the budget; any
// other non-nil return means the event must be dead-lettered.
func (e *Engine) execute(ctx context.Context, r *registration, evt Event) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.Retries; attempt++ {
		if attempt > 0 {
			e.count(func(s *Stats) { s.Retried++ })
			if err := Sleep(ctx, r.policy.Backoff(attempt)); err != nil {
				return err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.FinishTimeout)
		res, err := r.handler(attemptCtx, evt)
		cancel()

		if err == nil {
			if res.Skipped {
				e.count(func(s *Stats) { s.Skipped++ })
			} else {
				e.count(func(s *Stats) { s.Processed++ })
			}
			return nil
		}
		if IsTerminal(err) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			// the attempt lost its context to shutdown, not to its budget
			return cerr
		}
		lastErr = err
		log.Printf("orchestrator: %s attempt %d/%d failed: %v", r.event, attempt+1, r.policy.Retries+1, err)
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// begin claims the idempotency key for a delivery. When the key is already
// held it returns the holder's delivery id and false.
func (e *Engine) begin(event, key, id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := event + "|" + key
	if cur, busy := e.inflight[k]; busy {
		return cur, false
	}
	e.inflight[k] = id
	return id, true
}

func (e *Engine) end(event, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, event+"|"+key)
}

func (e *Engine) ack(ctx context.Context, event, id string) {
	// ack with a detached context so shutdown does not strand the delivery ack
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ackCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.broker.Ack(ackCtx, event, e.group, id); err != nil && err != queue.ErrClosed {
		log.Printf("orchestrator: ack %s/%s: %v", event, id, err)
	}
}

func (e *Engine) count(f func(*Stats)) {
	e.stats.Lock()
	f(&e.stats.Stats)
	e.stats.Unlock()
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.stats.Lock()
	defer e.stats.Unlock()
	return e.stats.Stats
}

// DefaultBackoff is capped exponential: 1s, 2s, 4s, ... up to 30s.
func DefaultBackoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Sleep pauses for d or until ctx is cancelled. Poll loops use it as their
// suspension point instead of a bare time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// KeyField returns a Key extractor reading a single string field from a JSON
// payload.
func KeyField(field string) func(Event) string {
	return func(evt Event) string {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(evt.Payload, &m); err != nil {
			return ""
		}
		var v string
		if raw, ok := m[field]; ok {
			_ = json.Unmarshal(raw, &v)
		}
		return v
	}
}

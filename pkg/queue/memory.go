package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type pendingEntry struct {
	delivery    Delivery
	deliveredAt time.Time
}

type memoryStream struct {
	ready   []Delivery
	pending map[string]pendingEntry
}

// Memory is an in-process Broker used by tests and single-node dev runs.
// Semantics mirror the redis-streams broker: consumed deliveries stay pending
// until acked and can be reclaimed after an idle period.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	streams map[string]*memoryStream
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*memoryStream)}
}

func (m *Memory) stream(name string) *memoryStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memoryStream{pending: make(map[string]pendingEntry)}
		m.streams[name] = s
	}
	return s
}

func (m *Memory) Publish(_ context.Context, stream string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.nextID++
	id := fmt.Sprintf("%d-0", m.nextID)
	s := m.stream(stream)
	s.ready = append(s.ready, Delivery{ID: id, Payload: payload})
	return id, nil
}

func (m *Memory) Consume(ctx context.Context, stream, _, _ string, count int, block time.Duration) ([]Delivery, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(block)
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		s := m.stream(stream)
		if len(s.ready) > 0 {
			n := count
			if n > len(s.ready) {
				n = len(s.ready)
			}
			out := make([]Delivery, n)
			copy(out, s.ready[:n])
			s.ready = s.ready[n:]
			now := time.Now()
			for _, d := range out {
				s.pending[d.ID] = pendingEntry{delivery: d, deliveredAt: now}
			}
			m.mu.Unlock()
			return out, nil
		}
		m.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if block >= 0 && !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *Memory) Ack(_ context.Context, stream, _ string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	s := m.stream(stream)
	for _, id := range ids {
		delete(s.pending, id)
	}
	return nil
}

func (m *Memory) Claim(_ context.Context, stream, _, _ string, minIdle time.Duration, count int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := m.stream(stream)
	var out []Delivery
	now := time.Now()
	for id, e := range s.pending {
		if count > 0 && len(out) >= count {
			break
		}
		if now.Sub(e.deliveredAt) >= minIdle {
			out = append(out, e.delivery)
			s.pending[id] = pendingEntry{delivery: e.delivery, deliveredAt: now}
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Redeliver moves an unacked delivery back to the ready queue. Tests use it to
// simulate transport redelivery of the same event.
func (m *Memory) Redeliver(stream, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stream(stream)
	e, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	s.ready = append(s.ready, e.delivery)
	return true
}

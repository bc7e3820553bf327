package calls

import (
	"context"
	"sync"
)

// MemoryChannel is an in-process Channel useful for tests and local development.
// Writes are compare-and-set on status; every accepted write is fanned out to the
// subscriptions of both participants.
type MemoryChannel struct {
	mu      sync.Mutex
	records map[string]CallRecord
	subs    map[string]map[*memorySub]struct{}
	err     error // if set, Write returns this error
	buffer  int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		records: map[string]CallRecord{},
		subs:    map[string]map[*memorySub]struct{}{},
		buffer:  32,
	}
}

func (m *MemoryChannel) Write(ctx context.Context, rec CallRecord, expect Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	cur, exists := m.records[rec.ID]
	if expect == "" {
		if exists {
			return ErrConflict
		}
	} else if !exists || cur.Status != expect {
		return ErrConflict
	}
	m.records[rec.ID] = rec

	for _, uid := range []string{rec.CallerID, rec.ReceiverID} {
		for s := range m.subs[uid] {
			s.deliver(rec)
		}
	}
	return nil
}

func (m *MemoryChannel) Read(ctx context.Context, id string) (CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return CallRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryChannel) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	s := &memorySub{ch: make(chan CallRecord, m.buffer), done: make(chan struct{})}
	s.unregister = func() {
		m.mu.Lock()
		delete(m.subs[userID], s)
		if len(m.subs[userID]) == 0 {
			delete(m.subs, userID)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	if m.subs[userID] == nil {
		m.subs[userID] = map[*memorySub]struct{}{}
	}
	m.subs[userID][s] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// SetError causes all subsequent Write calls to return err. Pass nil to clear.
func (m *MemoryChannel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Put stores rec unconditionally without notifying subscribers.
func (m *MemoryChannel) Put(rec CallRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
}

// Subscribers returns the number of open subscriptions for userID.
func (m *MemoryChannel) Subscribers(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[userID])
}

type memorySub struct {
	mu         sync.Mutex
	ch         chan CallRecord
	done       chan struct{}
	closed     bool
	unregister func()
}

func (s *memorySub) Events() <-chan CallRecord { return s.ch }

// deliver drops the event when the reader is not keeping up; readers re-sync with Read.
func (s *memorySub) deliver(rec CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
	}
}

func (s *memorySub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.ch)
	s.mu.Unlock()
	s.unregister()
	return nil
}

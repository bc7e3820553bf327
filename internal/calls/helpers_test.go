package calls

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fire runs the callback as if the timer expired, unless it was stopped.
func (t *fakeTimer) Fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	t.f()
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) Len() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) Last(t *testing.T) *fakeTimer {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.timers) == 0 {
		t.Fatalf("expected a ring timer to be armed")
	}
	return ft.timers[len(ft.timers)-1]
}

// fakeLimiter mirrors the Redis limiter: a set of call ids per user.
type fakeLimiter struct {
	mu    sync.Mutex
	cap   int
	inUse map[string]map[string]bool
}

func newFakeLimiter(capacity int) *fakeLimiter {
	return &fakeLimiter{cap: capacity, inUse: map[string]map[string]bool{}}
}

func (l *fakeLimiter) Acquire(_ context.Context, userID, callID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	held := l.inUse[userID]
	if held[callID] {
		return true, nil
	}
	if len(held) >= l.cap {
		return false, nil
	}
	if held == nil {
		held = map[string]bool{}
		l.inUse[userID] = held
	}
	held[callID] = true
	return true, nil
}

func (l *fakeLimiter) Release(_ context.Context, userID, callID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inUse[userID], callID)
	return nil
}

func (l *fakeLimiter) InUse(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inUse[userID])
}

// beforeWriteChannel runs before ahead of the first Write, so a record can move
// on between a service's read and its compare-and-set.
type beforeWriteChannel struct {
	*MemoryChannel
	before func()
	once   sync.Once
}

func (c *beforeWriteChannel) Write(ctx context.Context, rec CallRecord, expect Status) error {
	c.once.Do(c.before)
	return c.MemoryChannel.Write(ctx, rec, expect)
}

type fixture struct {
	ch     *MemoryChannel
	clock  *testClock
	timers *fakeTimers

	idMu sync.Mutex
	ids  int
}

func newFixture() *fixture {
	return &fixture{ch: NewMemoryChannel(), clock: newTestClock(), timers: &fakeTimers{}}
}

// service builds a Service on the shared channel, clock and timers.
func (f *fixture) service(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := NewService(f.ch, opts)
	s.clock = f.clock.Now
	s.afterFunc = f.timers.AfterFunc
	s.newID = func() string {
		f.idMu.Lock()
		defer f.idMu.Unlock()
		f.ids++
		return "call-" + strconv.Itoa(f.ids)
	}
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

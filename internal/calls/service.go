package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"smart-care/internal/quality"

	"github.com/google/uuid"
)

const (
	DefaultRingTimeout  = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// settled records are kept in the local view for this long so late,
	// out-of-order channel events cannot resurrect them.
	settledRetention = 10 * time.Minute
)

// Transition describes one durable status change.
// Prev is empty when the record was just created.
type Transition struct {
	Prev   Status
	Record CallRecord
	// Remote is true when the change was observed on the channel rather than
	// written by this service.
	Remote bool
}

// Observer is notified after a transition. Observers are best-effort: a failing
// observer is logged and never undoes the transition.
type Observer interface {
	OnTransition(ctx context.Context, t Transition) error
}

type ObserverFunc func(ctx context.Context, t Transition) error

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) error { return f(ctx, t) }

type Options struct {
	// RingTimeout bounds how long a call stays ringing before it becomes missed.
	RingTimeout time.Duration
	// WriteTimeout bounds writes issued by the ring timer.
	WriteTimeout time.Duration

	Sampler   *quality.Sampler
	OnQuality func(quality.Sample)

	Limiter   Limiter
	Observers []Observer
	Log       *slog.Logger
}

// Service is the call session state machine of one client (or one server node).
//
// Every status change is a compare-and-set write on the Channel; the local view
// only changes after the write is acknowledged. The first durable write wins and
// losers get ErrInvalidTransition.
type Service struct {
	ch   Channel
	opts Options
	log  *slog.Logger

	// clock, afterFunc and newID are injectable for deterministic tests.
	clock     func() time.Time
	afterFunc TimerFunc
	newID     func() string

	base   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	view       map[string]CallRecord
	settledAt  map[string]time.Time
	scopes     map[string]*scope
	transports map[string]quality.StatsSource
}

func NewService(ch Channel, opts Options) *Service {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		ch:         ch,
		opts:       opts,
		log:        log,
		clock:      time.Now,
		afterFunc:  defaultAfterFunc,
		newID:      uuid.NewString,
		base:       base,
		cancel:     cancel,
		view:       map[string]CallRecord{},
		settledAt:  map[string]time.Time{},
		scopes:     map[string]*scope{},
		transports: map[string]quality.StatsSource{},
	}
}

// Initiate creates a ringing call record and publishes it on the channel.
func (s *Service) Initiate(ctx context.Context, callerID, receiverID string, typ CallType) (CallRecord, error) {
	callerID = strings.TrimSpace(callerID)
	receiverID = strings.TrimSpace(receiverID)
	if callerID == "" || receiverID == "" || callerID == receiverID {
		return CallRecord{}, ErrInvalidParticipant
	}
	if !typ.Valid() {
		return CallRecord{}, ErrInvalidCallType
	}
	if s.isClosed() {
		return CallRecord{}, ErrClosed
	}

	rec := CallRecord{
		ID:         s.newID(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Type:       typ,
		Status:     StatusRinging,
		StartTime:  s.clock().UTC(),
	}
	if err := s.acquire(ctx, rec); err != nil {
		return CallRecord{}, err
	}
	if err := s.write(ctx, rec, ""); err != nil {
		s.release(rec)
		return CallRecord{}, err
	}

	s.log.Info("call initiated", "call_id", rec.ID, "caller_id", callerID, "receiver_id", receiverID, "type", typ)
	if _, changed := s.apply(rec); changed {
		s.notify(ctx, Transition{Record: rec})
	}
	return rec, nil
}

// Accept answers a ringing call.
func (s *Service) Accept(ctx context.Context, id string) (CallRecord, error) {
	return s.transition(ctx, id, StatusActive, func(r *CallRecord, now time.Time) {
		r.ConnectedTime = &now
	})
}

// Decline rejects a ringing call.
func (s *Service) Decline(ctx context.Context, id string) (CallRecord, error) {
	return s.transition(ctx, id, StatusDeclined, nil)
}

// End cancels a ringing call or hangs up an active one.
// A call cancelled while ringing never gets a ConnectedTime.
func (s *Service) End(ctx context.Context, id string) (CallRecord, error) {
	return s.transition(ctx, id, StatusEnded, func(r *CallRecord, now time.Time) {
		r.EndTime = &now
	})
}

// timeout moves a still-ringing call to missed. It re-reads the stored state
// first; a call that already left ringing yields ErrInvalidTransition.
func (s *Service) timeout(ctx context.Context, id string) (CallRecord, error) {
	if s.isClosed() {
		return CallRecord{}, ErrClosed
	}
	return s.transition(ctx, id, StatusMissed, nil)
}

// Get reads the authoritative record from the channel.
func (s *Service) Get(ctx context.Context, id string) (CallRecord, error) {
	if id == "" {
		return CallRecord{}, ErrNotFound
	}
	rec, err := s.ch.Read(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, fmt.Errorf("calls: read %s: %w", id, err)
	}
	return rec, nil
}

// Snapshot returns this service's local view of a call.
func (s *Service) Snapshot(id string) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.view[id]
	return rec, ok
}

// AttachTransport registers the media transport of a call for quality sampling.
// Sampling runs only while the call is active.
func (s *Service) AttachTransport(id string, src quality.StatsSource) error {
	if id == "" || src == nil {
		return errors.New("calls: call id and transport required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if rec, ok := s.view[id]; ok && rec.Status.IsTerminal() {
		return fmt.Errorf("%w: call is %s", ErrInvalidTransition, rec.Status)
	}
	s.transports[id] = src
	if rec, ok := s.view[id]; ok && rec.Status == StatusActive {
		s.startSamplingLocked(id, s.scopeLocked(id))
	}
	return nil
}

// Close releases every ring timer and sampler. Busy slots of calls that were
// settled elsewhere or expired while still open here are given back.
// Further operations fail with ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	var open []CallRecord
	for _, rec := range s.view {
		if !rec.Status.IsTerminal() {
			open = append(open, rec)
		}
	}
	var waits []chan struct{}
	for id, sc := range s.scopes {
		sc.stopRing()
		if done := sc.stopSampling(); done != nil {
			waits = append(waits, done)
		}
		delete(s.scopes, id)
	}
	s.mu.Unlock()

	for _, done := range waits {
		<-done
	}
	s.reconcile(open)
}

// reconcile releases the slots of calls whose stored record is already terminal
// or gone. Calls still open keep their slots.
func (s *Service) reconcile(open []CallRecord) {
	if s.opts.Limiter == nil {
		return
	}
	for _, rec := range open {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		stored, err := s.ch.Read(ctx, rec.ID)
		cancel()
		switch {
		case errors.Is(err, ErrNotFound):
			s.release(rec)
		case err != nil:
			s.log.Warn("busy slot reconcile failed", "call_id", rec.ID, "err", err)
		case stored.Status.IsTerminal():
			s.release(stored)
		}
	}
}

func (s *Service) transition(ctx context.Context, id string, next Status, mutate func(*CallRecord, time.Time)) (CallRecord, error) {
	if s.isClosed() {
		return CallRecord{}, ErrClosed
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return CallRecord{}, err
	}
	s.catchUp(ctx, cur)
	if !cur.Status.CanTransition(next) {
		return CallRecord{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next)
	}

	now := s.clock().UTC()
	upd := cur
	upd.Status = next
	if mutate != nil {
		mutate(&upd, now)
	}
	if err := s.write(ctx, upd, cur.Status); err != nil {
		if errors.Is(err, ErrConflict) {
			if latest, rerr := s.ch.Read(ctx, id); rerr == nil {
				s.catchUp(ctx, latest)
			}
		}
		return CallRecord{}, err
	}

	s.log.Info("call transition", "call_id", id, "from", cur.Status, "to", next)
	// A listener may already have merged our own write.
	if _, changed := s.apply(upd); changed {
		s.notify(ctx, Transition{Prev: cur.Status, Record: upd})
	}
	return upd, nil
}

func (s *Service) write(ctx context.Context, rec CallRecord, expect Status) error {
	err := s.ch.Write(ctx, rec, expect)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	default:
		return fmt.Errorf("%w: %w", ErrChannelWrite, err)
	}
}

// apply merges rec into the local view if it moves the call forward and settles
// the call's timers. A terminal record gives back both participants' slots.
// It returns the previous status and whether the view changed.
func (s *Service) apply(rec CallRecord) (Status, bool) {
	s.mu.Lock()
	cur, known := s.view[rec.ID]
	if known && !rec.Status.Supersedes(cur.Status) {
		s.mu.Unlock()
		return cur.Status, false
	}
	s.view[rec.ID] = rec
	s.settleLocked(rec)
	s.mu.Unlock()

	if rec.Status.IsTerminal() {
		s.release(rec)
	}
	return cur.Status, true
}

// catchUp merges a record read from the channel when this service already
// tracks the call and the record is ahead of its view. Without it a node that
// does not listen would keep a stale call open after losing a race.
func (s *Service) catchUp(ctx context.Context, rec CallRecord) {
	s.mu.Lock()
	cur, known := s.view[rec.ID]
	s.mu.Unlock()
	if !known || !rec.Status.Supersedes(cur.Status) {
		return
	}
	if prev, changed := s.apply(rec); changed {
		s.notify(ctx, Transition{Prev: prev, Record: rec, Remote: true})
	}
}

func (s *Service) notify(ctx context.Context, t Transition) {
	if len(s.opts.Observers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, o := range s.opts.Observers {
		if err := o.OnTransition(ctx, t); err != nil {
			s.log.Warn("call observer failed", "call_id", t.Record.ID, "status", t.Record.Status, "err", err)
		}
	}
}

// acquire takes a slot for both participants of rec, keyed by the call id.
func (s *Service) acquire(ctx context.Context, rec CallRecord) error {
	if s.opts.Limiter == nil {
		return nil
	}
	for _, uid := range []string{rec.CallerID, rec.ReceiverID} {
		ok, err := s.opts.Limiter.Acquire(ctx, uid, rec.ID)
		if err != nil {
			s.release(rec)
			return fmt.Errorf("calls: busy check: %w", err)
		}
		if !ok {
			s.release(rec)
			return ErrBusy
		}
	}
	return nil
}

// release gives back both participants' slots of rec. Limiter releases are
// idempotent, so every node that settles the call may call it.
func (s *Service) release(rec CallRecord) {
	if s.opts.Limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), s.opts.WriteTimeout)
	defer cancel()
	for _, uid := range []string{rec.CallerID, rec.ReceiverID} {
		if err := s.opts.Limiter.Release(ctx, uid, rec.ID); err != nil {
			s.log.Warn("busy slot release failed", "call_id", rec.ID, "user_id", uid, "err", err)
		}
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

package calls

import (
	"context"
	"errors"
	"time"

	"smart-care/internal/quality"
)

// Timer is the subset of *time.Timer the service needs.
type Timer interface {
	Stop() bool
}

// TimerFunc schedules f after d. time.AfterFunc is the default.
type TimerFunc func(d time.Duration, f func()) Timer

func defaultAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// scope owns the per-call resources: the ring timer while ringing and the
// quality sampler while active. It is released as soon as the call reaches a
// terminal status.
type scope struct {
	ring Timer

	sampling     context.CancelFunc
	samplingDone chan struct{}
}

func (sc *scope) stopRing() {
	if sc.ring != nil {
		sc.ring.Stop()
		sc.ring = nil
	}
}

// stopSampling cancels the sampler and returns a channel closed once it exits.
func (sc *scope) stopSampling() chan struct{} {
	if sc.sampling == nil {
		return nil
	}
	sc.sampling()
	done := sc.samplingDone
	sc.sampling, sc.samplingDone = nil, nil
	return done
}

func (s *Service) scopeLocked(id string) *scope {
	sc, ok := s.scopes[id]
	if !ok {
		sc = &scope{}
		s.scopes[id] = sc
	}
	return sc
}

// settleLocked brings the call's timers in line with rec.Status.
func (s *Service) settleLocked(rec CallRecord) {
	now := s.clock()
	s.pruneLocked(now)
	if s.closed {
		return
	}
	sc := s.scopeLocked(rec.ID)

	if rec.Status == StatusRinging {
		s.armRingLocked(rec, sc)
	} else {
		sc.stopRing()
	}

	if rec.Status == StatusActive {
		s.startSamplingLocked(rec.ID, sc)
	} else {
		sc.stopSampling()
	}

	if !rec.Status.IsTerminal() {
		return
	}
	delete(s.scopes, rec.ID)
	delete(s.transports, rec.ID)
	s.settledAt[rec.ID] = now
}

func (s *Service) armRingLocked(rec CallRecord, sc *scope) {
	if sc.ring != nil {
		return
	}
	// Calls first seen on the channel get only the time they have left.
	wait := s.opts.RingTimeout - s.clock().Sub(rec.StartTime)
	if wait > s.opts.RingTimeout {
		wait = s.opts.RingTimeout
	}
	if wait < 0 {
		wait = 0
	}
	id := rec.ID
	sc.ring = s.afterFunc(wait, func() { s.onRingTimeout(id) })
}

func (s *Service) onRingTimeout(id string) {
	ctx, cancel := context.WithTimeout(s.base, s.opts.WriteTimeout)
	defer cancel()
	if _, err := s.timeout(ctx, id); err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrClosed) {
			s.log.Debug("ring timeout skipped", "call_id", id, "err", err)
			return
		}
		s.log.Warn("ring timeout failed", "call_id", id, "err", err)
	}
}

func (s *Service) startSamplingLocked(id string, sc *scope) {
	src := s.transports[id]
	if src == nil || s.opts.Sampler == nil || sc.sampling != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	sc.sampling, sc.samplingDone = cancel, done
	go func() {
		defer close(done)
		s.opts.Sampler.Run(ctx, id, src, s.emitSample)
	}()
}

func (s *Service) emitSample(smp quality.Sample) {
	if s.opts.OnQuality != nil {
		s.opts.OnQuality(smp)
	}
}

func (s *Service) pruneLocked(now time.Time) {
	for id, at := range s.settledAt {
		if now.Sub(at) < settledRetention {
			continue
		}
		delete(s.settledAt, id)
		delete(s.view, id)
	}
}

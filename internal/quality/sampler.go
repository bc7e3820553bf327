package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const DefaultInterval = 2 * time.Second

// StatsSource exposes a snapshot of transport statistics on demand.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// StatsFunc adapts a function into a StatsSource.
type StatsFunc func(ctx context.Context) (Stats, error)

func (f StatsFunc) Stats(ctx context.Context) (Stats, error) { return f(ctx) }

type Sample struct {
	CallID string    `json:"call_id"`
	At     time.Time `json:"at"`
	Level  Level     `json:"level"`
	Stats  Stats     `json:"stats"`
	Err    error     `json:"-"`
}

// Sampler periodically reads a StatsSource and classifies each reading.
type Sampler struct {
	Interval time.Duration
	Log      *slog.Logger
	Now      func() time.Time
}

func NewSampler(interval time.Duration, log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{Interval: interval, Log: log, Now: time.Now}
}

// SampleOnce takes a single reading. Read failures degrade to LevelUnknown.
func (s *Sampler) SampleOnce(ctx context.Context, callID string, src StatsSource) Sample {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	out := Sample{CallID: callID, At: now(), Level: LevelUnknown}
	if src == nil {
		out.Err = ErrTransportUnavailable
		return out
	}
	st, err := src.Stats(ctx)
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		return out
	}
	out.Stats = st
	out.Level = st.Level()
	return out
}

// Run samples every Interval until ctx is done, handing each sample to emit.
// The first sample is taken one interval after start.
func (s *Sampler) Run(ctx context.Context, callID string, src StatsSource, emit func(Sample)) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		// Stop immediately if cancellation raced the tick.
		if ctx.Err() != nil {
			return
		}
		smp := s.SampleOnce(ctx, callID, src)
		if smp.Err != nil {
			log.Warn("quality sample failed", "call_id", callID, "err", smp.Err)
		} else {
			log.Debug("quality sample", "call_id", callID, "level", smp.Level,
				"rtt_ms", smp.Stats.RTT.Milliseconds(), "loss_pct", smp.Stats.LossPercent())
		}
		if emit != nil {
			emit(smp)
		}
	}
}

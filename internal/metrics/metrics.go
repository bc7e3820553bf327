// Package metrics exposes Prometheus counters for the call lifecycle, quality
// sampling and the HTTP surface.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"smart-care/internal/calls"
	"smart-care/internal/quality"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartcare"

// Collector owns its registry so tests and multiple instances never collide
// on the global default registerer.
type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	talkTime      prometheus.Histogram
	answerTime    prometheus.Histogram
	qualitySample *prometheus.CounterVec
	qualityRTT    prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_transitions_total",
				Help:      "Call status changes by previous status, new status and origin",
			},
			[]string{"from", "to", "origin"},
		),
		talkTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_talk_seconds",
			Help:      "Connected duration of ended calls",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		answerTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_answer_seconds",
			Help:      "Time from ringing to accepted",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 25, 30},
		}),
		qualitySample: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_quality_samples_total",
				Help:      "Quality samples by level",
			},
			[]string{"level"},
		),
		qualityRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_quality_rtt_seconds",
			Help:      "Round-trip time reported by the media transport",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.transitions,
		c.talkTime,
		c.answerTime,
		c.qualitySample,
		c.qualityRTT,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// OnTransition counts the change and records answer and talk time.
func (c *Collector) OnTransition(_ context.Context, t calls.Transition) error {
	origin := "local"
	if t.Remote {
		origin = "remote"
	}
	from := string(t.Prev)
	if from == "" {
		from = "none"
	}
	c.transitions.WithLabelValues(from, string(t.Record.Status), origin).Inc()

	// Remote copies of a transition are counted but not timed twice.
	if t.Remote {
		return nil
	}
	rec := t.Record
	switch rec.Status {
	case calls.StatusActive:
		if rec.ConnectedTime != nil {
			c.answerTime.Observe(rec.ConnectedTime.Sub(rec.StartTime).Seconds())
		}
	case calls.StatusEnded:
		if d := rec.Duration(); d > 0 {
			c.talkTime.Observe(d.Seconds())
		}
	}
	return nil
}

func (c *Collector) ObserveQuality(smp quality.Sample) {
	c.qualitySample.WithLabelValues(string(smp.Level)).Inc()
	if smp.Err == nil && smp.Stats.RTT > 0 {
		c.qualityRTT.Observe(smp.Stats.RTT.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request counts and latency by route template.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := ctx.Request.Method
		c.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smart-care/internal/calls"
	"smart-care/internal/quality"
)

const DefaultTopicPrefix = "smartcare"

// CallEvent is the payload published for every call status change.
type CallEvent struct {
	Call            calls.CallRecord `json:"call"`
	PreviousStatus  string           `json:"previous_status,omitempty"`
	DurationSeconds int              `json:"duration_seconds"`
	Timestamp       time.Time        `json:"timestamp"`
}

// QualityEvent is the payload published for a quality sample.
type QualityEvent struct {
	CallID    string    `json:"call_id"`
	Level     string    `json:"level"`
	RTTMillis int64     `json:"rtt_ms"`
	LossPct   float64   `json:"loss_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes call lifecycle changes so devices (bedside tablets,
// pagers, dashboards) can react without holding a websocket.
//
// Topics:
//
//	<prefix>/call/<id>/<status>
//	<prefix>/user/<user_id>/calls
//	<prefix>/call/<id>/quality
type Notifier struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
	clock  func() time.Time
}

func NewNotifier(pub Publisher, prefix string, log *slog.Logger) *Notifier {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{pub: pub, prefix: prefix, log: log, clock: time.Now}
}

func (n *Notifier) CallTopic(callID string, status calls.Status) string {
	return fmt.Sprintf("%s/call/%s/%s", n.prefix, callID, status)
}

func (n *Notifier) UserTopic(userID string) string {
	return fmt.Sprintf("%s/user/%s/calls", n.prefix, userID)
}

func (n *Notifier) QualityTopic(callID string) string {
	return fmt.Sprintf("%s/call/%s/quality", n.prefix, callID)
}

// OnTransition publishes changes written by this node. Changes merged from the
// channel were already published by the node that wrote them.
func (n *Notifier) OnTransition(ctx context.Context, t calls.Transition) error {
	if t.Remote {
		return nil
	}
	rec := t.Record
	payload, err := json.Marshal(CallEvent{
		Call:            rec,
		PreviousStatus:  string(t.Prev),
		DurationSeconds: int(rec.Duration().Seconds()),
		Timestamp:       n.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publisher: marshal call event: %w", err)
	}

	var errs []error
	for _, topic := range []string{
		n.CallTopic(rec.ID, rec.Status),
		n.UserTopic(rec.CallerID),
		n.UserTopic(rec.ReceiverID),
	} {
		if err := n.pub.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// PublishQuality forwards a sample. Failures are logged; sampling continues.
func (n *Notifier) PublishQuality(ctx context.Context, smp quality.Sample) {
	payload, err := json.Marshal(QualityEvent{
		CallID:    smp.CallID,
		Level:     string(smp.Level),
		RTTMillis: smp.Stats.RTT.Milliseconds(),
		LossPct:   smp.Stats.LossPercent(),
		Timestamp: smp.At.UTC(),
	})
	if err != nil {
		n.log.Warn("quality event marshal failed", "call_id", smp.CallID, "err", err)
		return
	}
	if err := n.pub.Publish(ctx, n.QualityTopic(smp.CallID), payload); err != nil {
		n.log.Warn("quality event publish failed", "call_id", smp.CallID, "err", err)
	}
}

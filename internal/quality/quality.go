// Package quality samples media transport statistics and classifies connection quality.
// It is an observability signal only; nothing here feeds back into call state.
package quality

import (
	"errors"
	"time"
)

var ErrTransportUnavailable = errors.New("quality: transport unavailable")

type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelPoor      Level = "poor"
	LevelUnknown   Level = "unknown"
)

type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Thresholds.
const (
	excellentRTT  = 150 * time.Millisecond
	excellentLoss = 2.0
	goodRTT       = 300 * time.Millisecond
	goodLoss      = 5.0
)

// Stats is one snapshot of transport counters.
// RTT <= 0 means no round-trip sample is available.
type Stats struct {
	State ConnectionState `json:"state"`
	RTT   time.Duration   `json:"rtt"`

	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	PacketsLost     uint64 `json:"packets_lost"`
}

// LossPercent is lost / (received + lost) as a percentage.
func (s Stats) LossPercent() float64 {
	total := s.PacketsReceived + s.PacketsLost
	if total == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(total) * 100
}

func (s Stats) Level() Level {
	return Classify(s.RTT, s.LossPercent(), s.State)
}

// Classify maps (rtt, packet loss %, connection state) to a quality level.
func Classify(rtt time.Duration, lossPercent float64, state ConnectionState) Level {
	if state != StateConnected {
		return LevelUnknown
	}
	if rtt <= 0 {
		return LevelGood
	}
	if rtt < excellentRTT && lossPercent < excellentLoss {
		return LevelExcellent
	}
	if rtt < goodRTT && lossPercent < goodLoss {
		return LevelGood
	}
	return LevelPoor
}

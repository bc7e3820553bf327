package quality

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerConnectionSource reads stats from a Pion peer connection.
type PeerConnectionSource struct {
	PC *webrtc.PeerConnection
}

func (p PeerConnectionSource) Stats(ctx context.Context) (Stats, error) {
	if p.PC == nil {
		return Stats{}, ErrTransportUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	return FromReport(p.PC.GetStats(), stateFromPeerConnection(p.PC.ConnectionState())), nil
}

// FromReport folds a WebRTC stats report into a Stats snapshot.
// RTT comes from the nominated, succeeded candidate pair.
func FromReport(report webrtc.StatsReport, state ConnectionState) Stats {
	out := Stats{State: state}
	for _, st := range report {
		switch v := st.(type) {
		case webrtc.InboundRTPStreamStats:
			out.PacketsReceived += uint64(v.PacketsReceived)
			if v.PacketsLost > 0 {
				out.PacketsLost += uint64(v.PacketsLost)
			}
		case webrtc.OutboundRTPStreamStats:
			out.PacketsSent += uint64(v.PacketsSent)
		case webrtc.ICECandidatePairStats:
			if !v.Nominated || v.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			if v.CurrentRoundTripTime > 0 {
				out.RTT = time.Duration(v.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}
	return out
}

func stateFromPeerConnection(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}

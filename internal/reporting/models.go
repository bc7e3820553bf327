package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one participant.
type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`
	VideoCalls    int `json:"video_calls"`
	VoiceCalls    int `json:"voice_calls"`

	CompletedCalls  int `json:"completed_calls"`
	CancelledCalls  int `json:"cancelled_calls"`
	DeclinedCalls   int `json:"declined_calls"`
	MissedCalls     int `json:"missed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalTalkSeconds   int     `json:"total_talk_seconds"`
	AverageTalkSeconds int     `json:"average_talk_seconds"`
	ConnectionRate     float64 `json:"connection_rate"`
}

// MissedCallsRequest lists incoming calls the user never answered.
type MissedCallsRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
	Limit  int       `json:"limit"`
}

type MissedCall struct {
	CallID    string    `json:"call_id"`
	CallerID  string    `json:"caller_id"`
	Type      string    `json:"type"`
	StartTime time.Time `json:"start_time"`
}

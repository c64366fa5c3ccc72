package dto

import "time"

// Realtime event types pushed to live sessions.
const (
	EventConnected           = "CONNECTED"
	EventPong                = "PONG"
	EventSubmissionFinalized = "SUBMISSION_FINALIZED"
	EventSubmissionGraded    = "SUBMISSION_GRADED"
	EventLevelUp             = "LEVEL_UP"
	EventCodeResult          = "CODE_RESULT"
	EventNotification        = "NOTIFICATION"
	EventAnnouncement        = "ANNOUNCEMENT"
)

// RealtimeEvent is the envelope written to websocket and SSE sessions.
type RealtimeEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

// RealtimeClientMessage is what live clients send upstream.
type RealtimeClientMessage struct {
	Type string `json:"type"`
}

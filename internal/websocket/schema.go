package websocket

import (
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer      Action = "answer"
	ActionFocusLost   Action = "focus_lost"
	ActionFocusGained Action = "focus_gained"
	ActionSubmit      Action = "submit"
	ActionState       Action = "state"
	ActionPing        Action = "ping"
)

// RequestPayload is every client message; only answer uses the question fields.
type RequestPayload struct {
	Action Action `json:"action"`
	QID    string `json:"q_id,omitempty"`
	Answer string `json:"ans,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventState   Event = "state"
	EventTick    Event = "tick"
	EventExpired Event = "expired"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

type SuccessResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type StateResponse struct {
	Event Event         `json:"event"`
	State attempt.State `json:"state"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

type ExpiredResponse struct {
	Event Event `json:"event"`
}

type GradedResponse struct {
	Event         Event              `json:"event"`
	Status        string             `json:"status"`
	Reason        model.SubmitReason `json:"reason"`
	Score         int                `json:"score"`
	TotalPossible int                `json:"total_possible"`
	Answered      int                `json:"answered"`
	// Persisted is false when some writes were queued for a retry.
	Persisted bool `json:"persisted"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

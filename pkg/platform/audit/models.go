// Package audit captures lifecycle events for the request broker. Events
// are emitted from services, buffered in-process, and drained by a worker
// to a store and optionally to Kafka. Auditing is best-effort: a full
// buffer or failing sink never fails the request that emitted the event.
package audit

import "time"

// Action identifies what happened.
type Action string

const (
	ActionRequestInitiated   Action = "request_initiated"
	ActionInitiationFailed   Action = "initiation_failed"
	ActionCallbackReceived   Action = "callback_received"
	ActionTransitionRejected Action = "transition_rejected"
	ActionUnknownCode        Action = "unknown_callback_code"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	Flow          string    `json:"flow,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Code          string    `json:"code,omitempty"`
	Status        string    `json:"status,omitempty"`
	// RequestID ties the event to the inbound HTTP request.
	RequestID string `json:"request_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

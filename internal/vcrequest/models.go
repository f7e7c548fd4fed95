// Package vcrequest holds the lifecycle model for one issuance or
// presentation attempt: the record tracked per correlation id and the
// callback events that move it forward.
package vcrequest

import (
	"fmt"
	"time"

	"vcgateway/pkg/platform/sentinel"
)

// Flow distinguishes the two request kinds the gateway brokers.
type Flow string

const (
	FlowIssuance     Flow = "issuance"
	FlowPresentation Flow = "presentation"
)

// Status is the lifecycle state of a tracked request.
type Status string

const (
	// StatusNotScanned: request created, QR code not yet scanned.
	StatusNotScanned Status = "notscanned"
	// StatusRequestRetrieved: the wallet app fetched the request.
	StatusRequestRetrieved Status = "request_retrieved"
	// StatusCredentialIssued: terminal, issuance flow succeeded.
	StatusCredentialIssued Status = "credential_issued"
	// StatusIssuanceFailed: terminal, issuance flow failed.
	StatusIssuanceFailed Status = "issuance_failed"
	// StatusPresentationVerified: terminal, presentation flow succeeded.
	StatusPresentationVerified Status = "presentation_verified"
)

// IsValid checks if the status is one of the supported lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotScanned, StatusRequestRetrieved, StatusCredentialIssued,
		StatusIssuanceFailed, StatusPresentationVerified:
		return true
	}
	return false
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCredentialIssued, StatusIssuanceFailed, StatusPresentationVerified:
		return true
	}
	return false
}

// rank orders states for forward-only transition validation. Both terminal
// outcome ranks are equal so one terminal state can never replace another.
func (s Status) rank() int {
	switch s {
	case StatusNotScanned:
		return 0
	case StatusRequestRetrieved:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next is a strictly
// forward transition. Callbacks may arrive out of order or duplicated; this
// is the rule the strict callback policy enforces.
func (s Status) CanTransitionTo(next Status) bool {
	return next.rank() > s.rank()
}

// Record is the state tracked per correlation id. The JSON shape is the
// polling response body, which is why the key fields carry no id: the
// caller already knows which id it asked about.
type Record struct {
	CorrelationID string `json:"-"`
	Flow          Flow   `json:"-"`
	Status        Status `json:"status"`
	Message       string `json:"message"`
	// Expiry is the upstream request expiry as Unix seconds, copied from
	// the VC API response at creation.
	Expiry int64 `json:"expiry,omitempty"`
	// PIN is present only when the issuance template requires one.
	PIN string `json:"pin,omitempty"`
	// Payload and Subject are attached by terminal callbacks: failure
	// details for issuance, issuer/subject claims for presentation.
	Payload string `json:"payload,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Advance moves the record to next, refusing regressions and terminal
// overwrites with sentinel.ErrInvalidState. Callbacks may arrive out of
// order or duplicated; every other field of the record is preserved.
func (r Record) Advance(next Status, message string) (Record, error) {
	if !r.Status.CanTransitionTo(next) {
		return Record{}, fmt.Errorf("transition %s to %s: %w", r.Status, next, sentinel.ErrInvalidState)
	}
	updated := r
	updated.Status = next
	updated.Message = message
	return updated, nil
}

// ExpiresAt converts the record expiry to a time, zero when unset.
func (r Record) ExpiresAt() time.Time {
	if r.Expiry == 0 {
		return time.Time{}
	}
	return time.Unix(r.Expiry, 0)
}

// CallbackEvent is the inbound notification from the VC API. State carries
// the correlation id; Code drives the transition. The remaining fields are
// only populated for terminal codes.
type CallbackEvent struct {
	State   string `json:"state"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	Issuers string `json:"issuers,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Recognized callback codes. The VC API added codes over time, so the
// spelling of the issuance-success code exists in two variants.
const (
	CodeRequestRetrieved     = "request_retrieved"
	CodeCredentialIssued     = "credential_issued"
	CodeIssuanceSuccessful   = "issuance_succesful"
	CodeIssuanceFailed       = "issuance_failed"
	CodePresentationVerified = "presentation_verified"
)

// Status messages shown to the polling UI, fixed per state and flow.
const (
	MsgRequestReady         = "Request ready, please scan with Authenticator"
	MsgScannedIssuance      = "QR Code is scanned. Waiting for issuance..."
	MsgScannedPresentation  = "QR Code is scanned. Waiting for validation..."
	MsgCredentialIssued     = "Credential successfully issued"
	MsgIssuanceFailed       = "Credential issuance failed"
	MsgPresentationReceived = "Presentation received"
)

// Transition maps a callback event onto the status and message it produces
// for the given flow. ok is false for unrecognized codes, which perform no
// transition.
func Transition(flow Flow, event CallbackEvent) (Status, string, bool) {
	switch event.Code {
	case CodeRequestRetrieved:
		if flow == FlowPresentation {
			return StatusRequestRetrieved, MsgScannedPresentation, true
		}
		return StatusRequestRetrieved, MsgScannedIssuance, true
	case CodeCredentialIssued, CodeIssuanceSuccessful:
		return StatusCredentialIssued, MsgCredentialIssued, true
	case CodeIssuanceFailed:
		return StatusIssuanceFailed, MsgIssuanceFailed, true
	case CodePresentationVerified:
		return StatusPresentationVerified, MsgPresentationReceived, true
	}
	return "", "", false
}

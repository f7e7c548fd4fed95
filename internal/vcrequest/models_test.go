package vcrequest

import (
	"errors"
	"testing"

	"vcgateway/pkg/platform/sentinel"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"notscanned to retrieved", StatusNotScanned, StatusRequestRetrieved, true},
		{"notscanned straight to terminal", StatusNotScanned, StatusCredentialIssued, true},
		{"retrieved to issued", StatusRequestRetrieved, StatusCredentialIssued, true},
		{"retrieved to failed", StatusRequestRetrieved, StatusIssuanceFailed, true},
		{"retrieved to verified", StatusRequestRetrieved, StatusPresentationVerified, true},
		{"no return to notscanned", StatusRequestRetrieved, StatusNotScanned, false},
		{"terminal cannot regress", StatusCredentialIssued, StatusRequestRetrieved, false},
		{"terminal cannot swap terminal", StatusCredentialIssued, StatusIssuanceFailed, false},
		{"duplicate retrieved refused", StatusRequestRetrieved, StatusRequestRetrieved, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTransitionMapping(t *testing.T) {
	t.Run("request_retrieved message differs per flow", func(t *testing.T) {
		status, msg, ok := Transition(FlowIssuance, CallbackEvent{Code: CodeRequestRetrieved})
		if !ok || status != StatusRequestRetrieved || msg != MsgScannedIssuance {
			t.Fatalf("issuance transition = (%s, %q, %v)", status, msg, ok)
		}
		status, msg, ok = Transition(FlowPresentation, CallbackEvent{Code: CodeRequestRetrieved})
		if !ok || status != StatusRequestRetrieved || msg != MsgScannedPresentation {
			t.Fatalf("presentation transition = (%s, %q, %v)", status, msg, ok)
		}
	})

	t.Run("both issuance success spellings map to credential_issued", func(t *testing.T) {
		for _, code := range []string{CodeCredentialIssued, CodeIssuanceSuccessful} {
			status, _, ok := Transition(FlowIssuance, CallbackEvent{Code: code})
			if !ok || status != StatusCredentialIssued {
				t.Fatalf("code %q mapped to (%s, %v)", code, status, ok)
			}
		}
	})

	t.Run("unrecognized code performs no transition", func(t *testing.T) {
		if _, _, ok := Transition(FlowIssuance, CallbackEvent{Code: "selfie_taken"}); ok {
			t.Fatal("expected unrecognized code to be ignored")
		}
	})
}

func TestRecordAdvance(t *testing.T) {
	record := Record{
		CorrelationID: "corr-1",
		Flow:          FlowIssuance,
		Status:        StatusNotScanned,
		Message:       MsgRequestReady,
		Expiry:        1700000000,
		PIN:           "1234",
	}

	updated, err := record.Advance(StatusRequestRetrieved, MsgScannedIssuance)
	if err != nil {
		t.Fatalf("forward advance failed: %v", err)
	}
	if updated.Status != StatusRequestRetrieved || updated.Message != MsgScannedIssuance {
		t.Fatalf("advance produced (%s, %q)", updated.Status, updated.Message)
	}
	if updated.Expiry != record.Expiry || updated.PIN != record.PIN {
		t.Fatal("advance must preserve the remaining record fields")
	}

	if _, err := updated.Advance(StatusNotScanned, MsgRequestReady); !errors.Is(err, sentinel.ErrInvalidState) {
		t.Fatalf("regression returned %v, want sentinel.ErrInvalidState", err)
	}
	terminal, _ := updated.Advance(StatusCredentialIssued, MsgCredentialIssued)
	if _, err := terminal.Advance(StatusIssuanceFailed, MsgIssuanceFailed); !errors.Is(err, sentinel.ErrInvalidState) {
		t.Fatalf("terminal overwrite returned %v, want sentinel.ErrInvalidState", err)
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusNotScanned.IsValid() || Status("bogus").IsValid() {
		t.Fatal("IsValid misclassifies")
	}
	if StatusNotScanned.Terminal() || StatusRequestRetrieved.Terminal() {
		t.Fatal("non-terminal state reported terminal")
	}
	for _, s := range []Status{StatusCredentialIssued, StatusIssuanceFailed, StatusPresentationVerified} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

// Package service orchestrates the request lifecycle: initiation against
// the VC API, callback-driven status transitions, and status polling.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"vcgateway/internal/platform/metrics"
	"vcgateway/internal/platform/middleware"
	"vcgateway/internal/template"
	"vcgateway/internal/token"
	"vcgateway/internal/vcapi"
	"vcgateway/internal/vcrequest"
	"vcgateway/internal/vcrequest/store"
	dErrors "vcgateway/pkg/domain-errors"
	"vcgateway/pkg/platform/audit"
	"vcgateway/pkg/platform/sentinel"
)

// TokenProvider yields a bearer token for the VC API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIClient creates requests against the VC API.
type APIClient interface {
	CreateRequest(ctx context.Context, bearer string, payload any) (*vcapi.CreatedRequest, error)
}

// Templates loads the request payload templates.
type Templates interface {
	LoadIssuance() (*template.IssuanceRequest, error)
	LoadPresentation() (*template.PresentationRequest, error)
}

// Publisher emits audit events; satisfied by audit.Publisher.
type Publisher interface {
	Publish(event audit.Event)
}

// Config holds the service policy knobs.
type Config struct {
	// PermissiveTransitions applies callbacks last-write-wins instead of
	// validating forward-only transitions.
	PermissiveTransitions bool
}

// Service brokers issuance/presentation requests. The correlation store is
// the only shared mutable state; every collaborator is stateless per call.
type Service struct {
	cfg       Config
	store     store.Store
	tokens    TokenProvider
	api       APIClient
	templates Templates
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   Publisher
}

func New(
	cfg Config,
	st store.Store,
	tokens TokenProvider,
	api APIClient,
	templates Templates,
	logger *slog.Logger,
	m *metrics.Metrics,
	auditor Publisher,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		tokens:    tokens,
		api:       api,
		templates: templates,
		logger:    logger,
		metrics:   m,
		auditor:   auditor,
	}
}

// InitiateResult carries the response body for the browser: everything the
// VC API returned plus the correlation id and, for issuance, the PIN.
type InitiateResult struct {
	CorrelationID string
	PIN           string
	Response      map[string]json.RawMessage
}

// InitiateIssuance prepares and submits an issuance request. On any
// failure nothing is written to the store.
func (s *Service) InitiateIssuance(ctx context.Context) (*InitiateResult, error) {
	bearer, err := s.acquireToken(ctx, vcrequest.FlowIssuance)
	if err != nil {
		return nil, err
	}

	payload, err := s.templates.LoadIssuance()
	if err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowIssuance, "template",
			dErrors.Wrap(dErrors.CodeBadRequest, err.Error(), err))
	}

	correlationID := uuid.NewString()
	pin, err := payload.Stamp(correlationID)
	if err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowIssuance, "template",
			dErrors.Wrap(dErrors.CodeInternal, "failed to prepare request payload", err))
	}

	created, err := s.api.CreateRequest(ctx, bearer, payload)
	if err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowIssuance, "api",
			dErrors.Wrap(dErrors.CodeBadRequest,
				"Something went wrong calling the API: "+err.Error(), err))
	}

	record := vcrequest.Record{
		CorrelationID: correlationID,
		Flow:          vcrequest.FlowIssuance,
		Status:        vcrequest.StatusNotScanned,
		Message:       vcrequest.MsgRequestReady,
		Expiry:        created.Expiry,
		PIN:           pin,
	}
	if err := s.store.Put(ctx, correlationID, record); err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowIssuance, "store",
			dErrors.Wrap(dErrors.CodeInternal, "failed to track request", err))
	}

	s.finishInitiation(ctx, vcrequest.FlowIssuance, correlationID)
	return buildResult(correlationID, pin, created), nil
}

// InitiatePresentation prepares and submits a presentation request.
func (s *Service) InitiatePresentation(ctx context.Context) (*InitiateResult, error) {
	bearer, err := s.acquireToken(ctx, vcrequest.FlowPresentation)
	if err != nil {
		return nil, err
	}

	payload, err := s.templates.LoadPresentation()
	if err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowPresentation, "template",
			dErrors.Wrap(dErrors.CodeBadRequest, err.Error(), err))
	}

	correlationID := uuid.NewString()
	payload.Stamp(correlationID)

	created, err := s.api.CreateRequest(ctx, bearer, payload)
	if err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowPresentation, "api",
			dErrors.Wrap(dErrors.CodeBadRequest,
				"Something went wrong calling the API: "+err.Error(), err))
	}

	record := vcrequest.Record{
		CorrelationID: correlationID,
		Flow:          vcrequest.FlowPresentation,
		Status:        vcrequest.StatusNotScanned,
		Message:       vcrequest.MsgRequestReady,
		Expiry:        created.Expiry,
	}
	if err := s.store.Put(ctx, correlationID, record); err != nil {
		return nil, s.initiationFailed(ctx, vcrequest.FlowPresentation, "store",
			dErrors.Wrap(dErrors.CodeInternal, "failed to track request", err))
	}

	s.finishInitiation(ctx, vcrequest.FlowPresentation, correlationID)
	return buildResult(correlationID, "", created), nil
}

// HandleCallback applies one inbound event to the tracked record. The VC
// API ignores response bodies, so every outcome except a store failure is
// reported as success; rejected and unrecognized events are logged,
// counted and audited instead.
func (s *Service) HandleCallback(ctx context.Context, flow vcrequest.Flow, event vcrequest.CallbackEvent) error {
	s.metrics.CallbacksTotal.WithLabelValues(string(flow), event.Code).Inc()

	next, message, ok := vcrequest.Transition(flow, event)
	if !ok {
		s.metrics.UnknownCallbackCode.Inc()
		s.logger.WarnContext(ctx, "unrecognized callback code",
			"flow", string(flow),
			"code", event.Code,
			"correlation_id", event.State,
		)
		s.auditor.Publish(audit.Event{
			Action:        audit.ActionUnknownCode,
			Flow:          string(flow),
			CorrelationID: event.State,
			Code:          event.Code,
			RequestID:     middleware.GetRequestID(ctx),
		})
		return nil
	}

	existing, err := s.store.Get(ctx, event.State)
	switch {
	case err == nil:
		updated, advanceErr := existing.Advance(next, message)
		if advanceErr != nil {
			if !s.cfg.PermissiveTransitions {
				s.rejectTransition(ctx, flow, event, existing.Status, next)
				return nil
			}
			// Permissive mode applies the event last-write-wins.
			updated = existing
			updated.Status = next
			updated.Message = message
		}
		applyTerminalExtras(&updated, event)
		if err := s.store.Put(ctx, event.State, updated); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "failed to update request status", err)
		}
	case errors.Is(err, sentinel.ErrNotFound):
		if !s.cfg.PermissiveTransitions {
			// Unknown or expired id: nothing to transition. Strict mode
			// refuses to track state this service never initiated.
			s.rejectTransition(ctx, flow, event, "", next)
			return nil
		}
		fresh := vcrequest.Record{
			CorrelationID: event.State,
			Flow:          flow,
			Status:        next,
			Message:       message,
		}
		applyTerminalExtras(&fresh, event)
		if err := s.store.Put(ctx, event.State, fresh); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "failed to update request status", err)
		}
	default:
		return dErrors.Wrap(dErrors.CodeInternal, "failed to read request status", err)
	}

	s.auditor.Publish(audit.Event{
		Action:        audit.ActionCallbackReceived,
		Flow:          string(flow),
		CorrelationID: event.State,
		Code:          event.Code,
		Status:        string(next),
		RequestID:     middleware.GetRequestID(ctx),
	})
	return nil
}

// Poll returns the current record for a correlation id. Absence surfaces
// as sentinel.ErrNotFound; the transport layer decides how to render it.
func (s *Service) Poll(ctx context.Context, correlationID string) (vcrequest.Record, error) {
	s.metrics.PollsTotal.Inc()
	record, err := s.store.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return vcrequest.Record{}, err
		}
		return vcrequest.Record{}, dErrors.Wrap(dErrors.CodeInternal, "failed to read request status", err)
	}
	return record, nil
}

func (s *Service) acquireToken(ctx context.Context, flow vcrequest.Flow) (string, error) {
	bearer, err := s.tokens.Token(ctx)
	if err == nil {
		return bearer, nil
	}
	if errors.Is(err, token.ErrUnsupportedScope) {
		return "", s.initiationFailed(ctx, flow, "token",
			dErrors.Wrap(dErrors.CodeBadRequest, "Scope provided is not supported", err))
	}
	return "", s.initiationFailed(ctx, flow, "token",
		dErrors.Wrap(dErrors.CodeBadRequest,
			"Something went wrong getting an access token for the client API: "+err.Error(), err))
}

func (s *Service) initiationFailed(ctx context.Context, flow vcrequest.Flow, stage string, err error) error {
	s.metrics.InitiationFailures.WithLabelValues(string(flow), stage).Inc()
	s.logger.ErrorContext(ctx, "initiation failed",
		"flow", string(flow),
		"stage", stage,
		"error", err.Error(),
	)
	s.auditor.Publish(audit.Event{
		Action:    audit.ActionInitiationFailed,
		Flow:      string(flow),
		Detail:    stage,
		RequestID: middleware.GetRequestID(ctx),
	})
	return err
}

func (s *Service) finishInitiation(ctx context.Context, flow vcrequest.Flow, correlationID string) {
	s.metrics.InitiationsTotal.WithLabelValues(string(flow)).Inc()
	s.logger.InfoContext(ctx, "request initiated",
		"flow", string(flow),
		"correlation_id", correlationID,
	)
	s.auditor.Publish(audit.Event{
		Action:        audit.ActionRequestInitiated,
		Flow:          string(flow),
		CorrelationID: correlationID,
		RequestID:     middleware.GetRequestID(ctx),
	})
}

func (s *Service) rejectTransition(ctx context.Context, flow vcrequest.Flow, event vcrequest.CallbackEvent, from, to vcrequest.Status) {
	s.metrics.RejectedTransitions.Inc()
	s.logger.WarnContext(ctx, "callback transition rejected",
		"flow", string(flow),
		"correlation_id", event.State,
		"code", event.Code,
		"from", string(from),
		"to", string(to),
	)
	s.auditor.Publish(audit.Event{
		Action:        audit.ActionTransitionRejected,
		Flow:          string(flow),
		CorrelationID: event.State,
		Code:          event.Code,
		Status:        string(from),
		RequestID:     middleware.GetRequestID(ctx),
	})
}

func applyTerminalExtras(record *vcrequest.Record, event vcrequest.CallbackEvent) {
	switch record.Status {
	case vcrequest.StatusIssuanceFailed:
		record.Payload = event.Details
	case vcrequest.StatusPresentationVerified:
		record.Payload = event.Issuers
		record.Subject = event.Subject
	}
}

func buildResult(correlationID, pin string, created *vcapi.CreatedRequest) *InitiateResult {
	response := make(map[string]json.RawMessage, len(created.Raw)+2)
	for k, v := range created.Raw {
		response[k] = v
	}
	response["id"], _ = json.Marshal(correlationID)
	if pin != "" {
		response["pin"], _ = json.Marshal(pin)
	}
	return &InitiateResult{
		CorrelationID: correlationID,
		PIN:           pin,
		Response:      response,
	}
}

var (
	_ TokenProvider = (*token.ClientCredentialsProvider)(nil)
	_ APIClient     = (*vcapi.HTTPClient)(nil)
	_ Templates     = (*template.Loader)(nil)
	_ Publisher     = (*audit.Publisher)(nil)
)

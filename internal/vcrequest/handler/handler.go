// Package handler exposes the issuance and presentation flows over HTTP.
// The paths and bodies match what the companion web frontend and the VC
// API callback delivery expect.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vcgateway/internal/platform/metrics"
	"vcgateway/internal/platform/middleware"
	"vcgateway/internal/vcrequest"
	"vcgateway/internal/vcrequest/service"
	dErrors "vcgateway/pkg/domain-errors"
	"vcgateway/pkg/platform/httputil"
	"vcgateway/pkg/platform/sentinel"
)

// Service is what the handler needs from the request broker.
type Service interface {
	InitiateIssuance(ctx context.Context) (*service.InitiateResult, error)
	InitiatePresentation(ctx context.Context) (*service.InitiateResult, error)
	HandleCallback(ctx context.Context, flow vcrequest.Flow, event vcrequest.CallbackEvent) error
	Poll(ctx context.Context, correlationID string) (vcrequest.Record, error)
}

// Config holds the handler policy knobs.
type Config struct {
	// StrictPoll answers 404 for unknown poll ids instead of the empty 200
	// the companion frontend was built against.
	StrictPoll bool
}

// Handler serves the issuer and verifier endpoints.
type Handler struct {
	cfg     Config
	svc     Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates the Handler.
func New(cfg Config, svc Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{cfg: cfg, svc: svc, logger: logger, metrics: m}
}

// Register mounts the flow routes with the standard middleware chain.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)

	router.Get("/api/issuer/issuance-request", h.handleIssuanceRequest)
	router.Post("/api/issuer/issuanceCallback", h.handleIssuanceCallback)
	router.Get("/api/issuer/issuance-response", h.handleIssuanceResponse)
	router.Get("/api/verifier/presentation-request", h.handlePresentationRequest)
	router.Post("/api/verifier/presentationCallback", h.handlePresentationCallback)
	router.Get("/api/verifier/presentation-response", h.handlePresentationResponse)

	r.Mount("/", router)
}

func (h *Handler) handleIssuanceRequest(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.InitiateIssuance(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result.Response)
}

func (h *Handler) handlePresentationRequest(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.InitiatePresentation(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result.Response)
}

func (h *Handler) handleIssuanceCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, vcrequest.FlowIssuance)
}

func (h *Handler) handlePresentationCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, vcrequest.FlowPresentation)
}

// handleCallback accepts the VC API's state notification. The API retries
// on non-2xx, so only an unreadable body or a store failure is an error.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, flow vcrequest.Flow) {
	var event vcrequest.CallbackEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed callback body"))
		return
	}
	if event.State == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "callback is missing state"))
		return
	}

	if err := h.svc.HandleCallback(r.Context(), flow, event); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleIssuanceResponse(w http.ResponseWriter, r *http.Request) {
	h.handlePoll(w, r)
}

func (h *Handler) handlePresentationResponse(w http.ResponseWriter, r *http.Request) {
	h.handlePoll(w, r)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Missing argument 'id'"))
		return
	}

	record, err := h.svc.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if h.cfg.StrictPoll {
				httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "request not found"))
				return
			}
			// Unknown or expired id. The frontend polls in a loop and treats
			// an empty body as "keep waiting", so answer 200 with no record.
			w.WriteHeader(http.StatusOK)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

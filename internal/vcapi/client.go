// Package vcapi is the outbound client for the Verifiable Credentials
// request service. It POSTs a prepared request payload with a bearer token
// and decodes the created-request metadata.
package vcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vcgateway/internal/platform/metrics"
)

// CreatedRequest is the VC API's answer to a request creation. Raw keeps
// every field the API returned so the browser response can echo it back
// without this package needing to track API additions.
type CreatedRequest struct {
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
	// Expiry of the upstream request as Unix seconds.
	Expiry int64 `json:"expiry"`
	QRCode string `json:"qrCode,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// UpstreamError is a non-success answer from the VC API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return e.Body
}

// Client creates requests against the VC API.
type Client interface {
	CreateRequest(ctx context.Context, bearer string, payload any) (*CreatedRequest, error)
}

// HTTPClient implements Client over plain HTTP with a bounded timeout.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// New constructs the client. metrics may be nil.
func New(endpoint string, timeout time.Duration, m *metrics.Metrics) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		tracer:     otel.Tracer("vcgateway/internal/vcapi"),
	}
}

func (c *HTTPClient) CreateRequest(ctx context.Context, bearer string, payload any) (*CreatedRequest, error) {
	ctx, span := c.tracer.Start(ctx, "vcapi.create_request",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.UpstreamLatency.WithLabelValues("vcapi").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read api response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var created CreatedRequest
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}
	if err := json.Unmarshal(respBody, &created.Raw); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}
	return &created, nil
}

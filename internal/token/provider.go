// Package token acquires bearer tokens for the VC API using the OAuth
// client-credentials grant. The gateway holds application permissions, so
// there is no user interaction anywhere in this flow.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vcgateway/internal/platform/metrics"
)

// ErrUnsupportedScope signals the identity service rejected the configured
// scope. Client-credentials scopes must be of the form "resource/.default".
var ErrUnsupportedScope = errors.New("scope provided is not supported")

// Provider yields a bearer token for outbound VC API calls.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Config for the client-credentials provider.
type Config struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

// ClientCredentialsProvider implements Provider against the identity
// service token endpoint. Tokens are cached until shortly before expiry so
// each initiation does not pay a token round trip.
type ClientCredentialsProvider struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	mu          sync.Mutex
	cached      string
	cachedUntil time.Time
}

// expiry skew so a token is never handed out right at its deadline.
const refreshSkew = time.Minute

// NewClientCredentials constructs the provider. metrics may be nil.
func NewClientCredentials(cfg Config, m *metrics.Metrics) *ClientCredentialsProvider {
	return &ClientCredentialsProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		tracer:     otel.Tracer("vcgateway/internal/token"),
	}
}

func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	if !strings.HasSuffix(p.cfg.Scope, "/.default") {
		return "", fmt.Errorf("scope %q: %w", p.cfg.Scope, ErrUnsupportedScope)
	}

	p.mu.Lock()
	if p.cached != "" && time.Now().Before(p.cachedUntil) {
		token := p.cached
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	token, validUntil, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cached = token
	p.cachedUntil = validUntil
	p.mu.Unlock()
	return token, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p *ClientCredentialsProvider) acquire(ctx context.Context) (string, time.Time, error) {
	ctx, span := p.tracer.Start(ctx, "token.acquire",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"scope":         {p.cfg.Scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if p.metrics != nil {
		p.metrics.UpstreamLatency.WithLabelValues("token").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return "", time.Time{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var terr tokenError
		if json.Unmarshal(body, &terr) == nil && terr.ErrorDescription != "" {
			// AADSTS70011: the scope is not of the "resource/.default" shape.
			if strings.Contains(terr.ErrorDescription, "AADSTS70011") {
				return "", time.Time{}, fmt.Errorf("%s: %w", terr.Error, ErrUnsupportedScope)
			}
			return "", time.Time{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, terr.ErrorDescription)
		}
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, errors.New("token endpoint returned no access_token")
	}

	return tr.AccessToken, validUntil(tr), nil
}

// validUntil derives the cache deadline from the token's exp claim,
// falling back to the advertised expires_in. The signature is not checked
// here; the VC API is the audience that verifies it.
func validUntil(tr tokenResponse) time.Time {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tr.AccessToken, &claims); err == nil &&
		claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time.Add(-refreshSkew)
	}
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - refreshSkew)
	}
	// No usable expiry; do not cache past the next call.
	return time.Time{}
}

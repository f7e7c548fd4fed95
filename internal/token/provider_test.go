package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"vcgateway/pkg/testutil/tracetest"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func newProvider(endpoint string) *ClientCredentialsProvider {
	return NewClientCredentials(Config{
		Endpoint:     endpoint,
		ClientID:     "client-123",
		ClientSecret: "secret",
		Scope:        "api://vcservice/.default",
		Timeout:      2 * time.Second,
	}, nil)
}

func TestTokenAcquisitionAndCaching(t *testing.T) {
	var calls atomic.Int32
	access := signedToken(t, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		require.Equal(t, "client-123", r.PostForm.Get("client_id"))
		require.Equal(t, "api://vcservice/.default", r.PostForm.Get("scope"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": access,
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	p := newProvider(srv.URL)

	got, err := p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, access, got)

	// Second call is served from cache.
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestExpiredCacheRefetches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Already inside the refresh skew, so it is never cached.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": signedToken(t, time.Now().Add(30*time.Second)),
			"expires_in":   30,
		})
	}))
	defer srv.Close()

	p := newProvider(srv.URL)
	_, err := p.Token(context.Background())
	require.NoError(t, err)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestAcquisitionTraced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": signedToken(t, time.Now().Add(time.Hour)),
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	provider := tracetest.NewProvider()
	p := newProvider(srv.URL)
	p.tracer = provider.Tracer("test")

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	// The cached path must not open a new span.
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"token.acquire"}, provider.SpanNames())
}

func TestMalformedScopeRejectedLocally(t *testing.T) {
	p := NewClientCredentials(Config{
		Endpoint: "http://127.0.0.1:0",
		Scope:    "api://vcservice/Read.All",
		Timeout:  time.Second,
	}, nil)

	_, err := p.Token(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedScope)
}

func TestUnsupportedScopeFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_scope",
			"error_description": "AADSTS70011: The provided value for scope is not valid.",
		})
	}))
	defer srv.Close()

	p := newProvider(srv.URL)
	_, err := p.Token(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedScope)
}

func TestTokenEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "server_error",
			"error_description": "transient failure",
		})
	}))
	defer srv.Close()

	p := newProvider(srv.URL)
	_, err := p.Token(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnsupportedScope))
	require.Contains(t, err.Error(), "transient failure")
}

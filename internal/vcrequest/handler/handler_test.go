package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vcgateway/internal/platform/metrics"
	"vcgateway/internal/template"
	"vcgateway/internal/vcapi"
	"vcgateway/internal/vcrequest"
	"vcgateway/internal/vcrequest/service"
	"vcgateway/internal/vcrequest/store"
	"vcgateway/pkg/platform/audit"
)

var testMetrics = metrics.New()

const issuanceTemplateJSON = `{
  "authority": "did:web:issuer.example.com",
  "includeQRCode": true,
  "registration": {"clientName": "Test Issuer"},
  "callback": {"url": "https://gateway.example.com/api/issuer/issuanceCallback"},
  "issuance": {
    "type": "VerifiedCredentialExpert",
    "manifest": "https://issuer.example.com/manifest",
    "pin": {"length": 4}
  }
}`

const presentationTemplateJSON = `{
  "authority": "did:web:verifier.example.com",
  "includeQRCode": true,
  "registration": {"clientName": "Test Verifier"},
  "callback": {"url": "https://gateway.example.com/api/verifier/presentationCallback"},
  "presentation": {
    "includeReceipt": false,
    "requestedCredentials": [{"type": "VerifiedCredentialExpert"}]
  }
}`

type staticTokenProvider struct{ token string }

func (p staticTokenProvider) Token(context.Context) (string, error) { return p.token, nil }

type HandlerSuite struct {
	suite.Suite

	upstream *httptest.Server
	server   *httptest.Server
	store    *store.InMemoryStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.setup(Config{}, service.Config{}, true)
}

// setup builds the full stack: real templates on disk, a fake VC API
// upstream, the in-memory store and the broker service behind the handler.
func (s *HandlerSuite) setup(handlerCfg Config, svcCfg service.Config, writeTemplates bool) {
	dir := s.T().TempDir()
	if writeTemplates {
		require.NoError(s.T(), os.WriteFile(
			filepath.Join(dir, template.IssuanceFile), []byte(issuanceTemplateJSON), 0o600))
		require.NoError(s.T(), os.WriteFile(
			filepath.Join(dir, template.PresentationFile), []byte(presentationTemplateJSON), 0o600))
	}

	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"requestId": "upstream-1",
			"url": "openid://vc/?request_uri=https://example.com/r/1",
			"expiry": 1700000000,
			"qrCode": "data:image/png;base64,AAAA"
		}`))
	}))
	s.T().Cleanup(s.upstream.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemoryStore(30 * time.Minute)

	svc := service.New(
		svcCfg,
		s.store,
		staticTokenProvider{token: "test-token"},
		vcapi.New(s.upstream.URL, 5*time.Second, nil),
		template.NewLoader(dir),
		logger,
		testMetrics,
		audit.NewPublisher(64, logger),
	)

	h := New(handlerCfg, svc, logger, testMetrics)
	r := chi.NewRouter()
	h.Register(r)
	s.server = httptest.NewServer(r)
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) get(path string) (*http.Response, map[string]json.RawMessage) {
	resp, err := http.Get(s.server.URL + path)
	require.NoError(s.T(), err)
	s.T().Cleanup(func() { resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	if len(body) == 0 {
		return resp, nil
	}
	var decoded map[string]json.RawMessage
	require.NoError(s.T(), json.Unmarshal(body, &decoded))
	return resp, decoded
}

func (s *HandlerSuite) postCallback(path string, event vcrequest.CallbackEvent) *http.Response {
	body, err := json.Marshal(event)
	require.NoError(s.T(), err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(s.T(), err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func str(s *HandlerSuite, raw json.RawMessage) string {
	var v string
	require.NoError(s.T(), json.Unmarshal(raw, &v))
	return v
}

func (s *HandlerSuite) TestIssuanceRequestCreatesTrackedRecord() {
	resp, body := s.get("/api/issuer/issuance-request")
	s.Equal(http.StatusOK, resp.StatusCode)

	// Upstream fields are passed through, id and pin are added.
	s.Contains(body, "url")
	s.Contains(body, "qrCode")
	id := str(s, body["id"])
	s.NotEmpty(id)
	s.Len(str(s, body["pin"]), 4)

	pollResp, poll := s.get("/api/issuer/issuance-response?id=" + id)
	s.Equal(http.StatusOK, pollResp.StatusCode)
	s.Equal(string(vcrequest.StatusNotScanned), str(s, poll["status"]))
	s.Equal(vcrequest.MsgRequestReady, str(s, poll["message"]))

	var expiry int64
	require.NoError(s.T(), json.Unmarshal(poll["expiry"], &expiry))
	s.Equal(int64(1700000000), expiry)
}

func (s *HandlerSuite) TestIssuanceCallbackAdvancesStatus() {
	_, body := s.get("/api/issuer/issuance-request")
	id := str(s, body["id"])

	resp := s.postCallback("/api/issuer/issuanceCallback", vcrequest.CallbackEvent{
		State: id,
		Code:  vcrequest.CodeRequestRetrieved,
	})
	s.Equal(http.StatusOK, resp.StatusCode)

	_, poll := s.get("/api/issuer/issuance-response?id=" + id)
	s.Equal(string(vcrequest.StatusRequestRetrieved), str(s, poll["status"]))
	s.Equal(vcrequest.MsgScannedIssuance, str(s, poll["message"]))
	// PIN and expiry from initiation survive the callback.
	s.Contains(poll, "pin")
	s.Contains(poll, "expiry")
}

func (s *HandlerSuite) TestUnrecognizedCallbackCodeIsAccepted() {
	_, body := s.get("/api/issuer/issuance-request")
	id := str(s, body["id"])

	resp := s.postCallback("/api/issuer/issuanceCallback", vcrequest.CallbackEvent{
		State: id,
		Code:  "request_created",
	})
	s.Equal(http.StatusOK, resp.StatusCode)

	_, poll := s.get("/api/issuer/issuance-response?id=" + id)
	s.Equal(string(vcrequest.StatusNotScanned), str(s, poll["status"]))
}

func (s *HandlerSuite) TestCallbackMalformedBody() {
	resp, err := http.Post(s.server.URL+"/api/issuer/issuanceCallback",
		"application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestPollMissingID() {
	resp, body := s.get("/api/issuer/issuance-response")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("Missing argument 'id'", str(s, body["error_description"]))
}

func (s *HandlerSuite) TestPollUnknownID() {
	resp, body := s.get("/api/issuer/issuance-response?id=never-issued")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Nil(body)
}

func (s *HandlerSuite) TestPollUnknownIDStrict() {
	s.setup(Config{StrictPoll: true}, service.Config{}, true)

	resp, body := s.get("/api/issuer/issuance-response?id=never-issued")
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("not_found", str(s, body["error"]))
}

func (s *HandlerSuite) TestMissingTemplate() {
	s.setup(Config{}, service.Config{}, false)

	resp, body := s.get("/api/issuer/issuance-request")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal(template.IssuanceFile+" not found", str(s, body["error_description"]))
}

func (s *HandlerSuite) TestPresentationFlowEndToEnd() {
	resp, body := s.get("/api/verifier/presentation-request")
	s.Equal(http.StatusOK, resp.StatusCode)
	id := str(s, body["id"])
	s.NotContains(body, "pin")

	cb := s.postCallback("/api/verifier/presentationCallback", vcrequest.CallbackEvent{
		State: id,
		Code:  vcrequest.CodeRequestRetrieved,
	})
	s.Equal(http.StatusOK, cb.StatusCode)

	_, poll := s.get("/api/verifier/presentation-response?id=" + id)
	s.Equal(vcrequest.MsgScannedPresentation, str(s, poll["message"]))

	cb = s.postCallback("/api/verifier/presentationCallback", vcrequest.CallbackEvent{
		State:   id,
		Code:    vcrequest.CodePresentationVerified,
		Issuers: `["did:web:issuer.example.com"]`,
		Subject: "did:ion:subject",
	})
	s.Equal(http.StatusOK, cb.StatusCode)

	_, poll = s.get("/api/verifier/presentation-response?id=" + id)
	s.Equal(string(vcrequest.StatusPresentationVerified), str(s, poll["status"]))
	s.Equal(vcrequest.MsgPresentationReceived, str(s, poll["message"]))
	s.Equal("did:ion:subject", str(s, poll["subject"]))
}

func (s *HandlerSuite) TestStaleCallbackDoesNotRegress() {
	_, body := s.get("/api/issuer/issuance-request")
	id := str(s, body["id"])

	s.postCallback("/api/issuer/issuanceCallback", vcrequest.CallbackEvent{
		State: id, Code: vcrequest.CodeIssuanceSuccessful,
	})
	s.postCallback("/api/issuer/issuanceCallback", vcrequest.CallbackEvent{
		State: id, Code: vcrequest.CodeRequestRetrieved,
	})

	_, poll := s.get("/api/issuer/issuance-response?id=" + id)
	s.Equal(string(vcrequest.StatusCredentialIssued), str(s, poll["status"]))
	s.Equal(vcrequest.MsgCredentialIssued, str(s, poll["message"]))
}

// Package template loads the static request payloads sent to the VC API
// and stamps the per-request fields (correlation state, PIN) into them.
package template

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// Template file names, fixed by convention next to the deployed binary.
const (
	IssuanceFile     = "issuance_request_config.json"
	PresentationFile = "presentation_request_config.json"
)

// ErrNotFound is returned when a template file is absent or empty.
var ErrNotFound = errors.New("not found")

// Registration names the requesting application to the wallet.
type Registration struct {
	ClientName string `json:"clientName"`
	LogoURL    string `json:"logoUrl,omitempty"`
}

// Callback tells the VC API where to report state changes. State carries
// the correlation id and comes back verbatim on every callback.
type Callback struct {
	URL     string            `json:"url"`
	State   string            `json:"state"`
	Headers map[string]string `json:"headers,omitempty"`
}

// PIN configures the out-of-band confirmation code for issuance. Length
// comes from the template; Value is generated fresh per request.
type PIN struct {
	Value  string `json:"value"`
	Length int    `json:"length"`
}

// Issuance describes which credential to issue and with which claims.
type Issuance struct {
	Type     string            `json:"type"`
	Manifest string            `json:"manifest"`
	PIN      *PIN              `json:"pin,omitempty"`
	Claims   map[string]string `json:"claims,omitempty"`
}

// RequestedCredential is one credential the verifier asks the wallet for.
type RequestedCredential struct {
	Type            string   `json:"type"`
	Purpose         string   `json:"purpose,omitempty"`
	AcceptedIssuers []string `json:"acceptedIssuers,omitempty"`
}

// Presentation describes what the verifier flow requests.
type Presentation struct {
	IncludeReceipt       bool                  `json:"includeReceipt"`
	RequestedCredentials []RequestedCredential `json:"requestedCredentials"`
}

// IssuanceRequest is the full issuance payload POSTed to the VC API.
type IssuanceRequest struct {
	Authority     string       `json:"authority"`
	IncludeQRCode bool         `json:"includeQRCode"`
	Registration  Registration `json:"registration"`
	Callback      Callback     `json:"callback"`
	Issuance      Issuance     `json:"issuance"`
}

// PresentationRequest is the full presentation payload POSTed to the VC API.
type PresentationRequest struct {
	Authority     string       `json:"authority"`
	IncludeQRCode bool         `json:"includeQRCode"`
	Registration  Registration `json:"registration"`
	Callback      Callback     `json:"callback"`
	Presentation  Presentation `json:"presentation"`
}

// Loader reads templates from a directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadIssuance reads and validates the issuance template.
func (l *Loader) LoadIssuance() (*IssuanceRequest, error) {
	var req IssuanceRequest
	if err := l.load(IssuanceFile, &req); err != nil {
		return nil, err
	}
	if req.Issuance.Type == "" || req.Issuance.Manifest == "" {
		return nil, fmt.Errorf("%s: issuance.type and issuance.manifest are required", IssuanceFile)
	}
	return &req, nil
}

// LoadPresentation reads and validates the presentation template.
func (l *Loader) LoadPresentation() (*PresentationRequest, error) {
	var req PresentationRequest
	if err := l.load(PresentationFile, &req); err != nil {
		return nil, err
	}
	if len(req.Presentation.RequestedCredentials) == 0 {
		return nil, fmt.Errorf("%s: presentation.requestedCredentials must not be empty", PresentationFile)
	}
	return &req, nil
}

func (l *Loader) load(name string, v any) error {
	buf, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		return fmt.Errorf("%s %w", name, ErrNotFound)
	}
	if len(buf) == 0 {
		return fmt.Errorf("%s %w", name, ErrNotFound)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// Stamp writes the correlation id into the callback and, when the template
// asks for a PIN, generates one. Returns the PIN, empty when not required.
func (r *IssuanceRequest) Stamp(state string) (string, error) {
	r.Callback.State = state
	if r.Issuance.PIN == nil || r.Issuance.PIN.Length <= 0 {
		return "", nil
	}
	pin, err := generatePIN(r.Issuance.PIN.Length)
	if err != nil {
		return "", err
	}
	r.Issuance.PIN.Value = pin
	return pin, nil
}

// Stamp writes the correlation id into the callback.
func (r *PresentationRequest) Stamp(state string) {
	r.Callback.State = state
}

// generatePIN draws a uniform random code in [1, 10^length) and zero-pads
// it to length digits.
func generatePIN(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	max.Sub(max, big.NewInt(1))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	n.Add(n, big.NewInt(1))
	return fmt.Sprintf("%0*d", length, n), nil
}

package template

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

const issuanceJSON = `{
	"authority": "did:ion:EiDXOZotz",
	"includeQRCode": false,
	"registration": {"clientName": "VC Gateway Test"},
	"callback": {"url": "https://example.com/api/issuer/issuanceCallback", "state": "", "headers": {"api-key": "k"}},
	"issuance": {
		"type": "VerifiedCredentialExpert",
		"manifest": "https://beta.did.msidentity.com/v1.0/abc/verifiableCredential/contracts/VerifiedCredentialExpert",
		"pin": {"value": "", "length": 4},
		"claims": {"given_name": "FIRSTNAME", "family_name": "LASTNAME"}
	}
}`

const presentationJSON = `{
	"authority": "did:ion:EiDXOZotz",
	"includeQRCode": false,
	"registration": {"clientName": "VC Gateway Test"},
	"callback": {"url": "https://example.com/api/verifier/presentationCallback", "state": ""},
	"presentation": {
		"includeReceipt": true,
		"requestedCredentials": [
			{"type": "VerifiedCredentialExpert", "purpose": "prove expertise", "acceptedIssuers": ["did:ion:EiDXOZotz"]}
		]
	}
}`

func writeTemplates(t *testing.T, issuance, presentation string) *Loader {
	t.Helper()
	dir := t.TempDir()
	if issuance != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, IssuanceFile), []byte(issuance), 0o600))
	}
	if presentation != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, PresentationFile), []byte(presentation), 0o600))
	}
	return NewLoader(dir)
}

func TestLoadIssuance(t *testing.T) {
	loader := writeTemplates(t, issuanceJSON, "")

	req, err := loader.LoadIssuance()
	require.NoError(t, err)
	require.Equal(t, "VerifiedCredentialExpert", req.Issuance.Type)
	require.NotNil(t, req.Issuance.PIN)
	require.Equal(t, 4, req.Issuance.PIN.Length)
}

func TestMissingTemplateError(t *testing.T) {
	loader := NewLoader(t.TempDir())

	_, err := loader.LoadIssuance()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, IssuanceFile+" not found", err.Error())

	_, err = loader.LoadPresentation()
	require.Equal(t, PresentationFile+" not found", err.Error())
}

func TestEmptyTemplateTreatedAsMissing(t *testing.T) {
	loader := writeTemplates(t, " ", "")
	// Whitespace-only still parses as invalid JSON, but a truly empty file
	// is reported as not found, matching the source behavior.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IssuanceFile), nil, 0o600))
	_, err := NewLoader(dir).LoadIssuance()
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = loader.LoadIssuance()
	require.Error(t, err)
}

func TestStampIssuanceSetsStateAndPIN(t *testing.T) {
	loader := writeTemplates(t, issuanceJSON, "")
	req, err := loader.LoadIssuance()
	require.NoError(t, err)

	pin, err := req.Stamp("correlation-123")
	require.NoError(t, err)
	require.Equal(t, "correlation-123", req.Callback.State)
	require.Len(t, pin, 4)
	require.Equal(t, pin, req.Issuance.PIN.Value)

	n, err := strconv.Atoi(pin)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestStampIssuanceWithoutPIN(t *testing.T) {
	noPin := `{
		"authority": "did:ion:x", "includeQRCode": false,
		"registration": {"clientName": "t"},
		"callback": {"url": "https://cb", "state": ""},
		"issuance": {"type": "T", "manifest": "https://m"}
	}`
	loader := writeTemplates(t, noPin, "")
	req, err := loader.LoadIssuance()
	require.NoError(t, err)

	pin, err := req.Stamp("state-1")
	require.NoError(t, err)
	require.Empty(t, pin)
}

func TestStampPresentation(t *testing.T) {
	loader := writeTemplates(t, "", presentationJSON)
	req, err := loader.LoadPresentation()
	require.NoError(t, err)

	req.Stamp("state-9")
	require.Equal(t, "state-9", req.Callback.State)
}

func TestPresentationRequiresCredentials(t *testing.T) {
	empty := `{
		"authority": "did:ion:x", "includeQRCode": false,
		"registration": {"clientName": "t"},
		"callback": {"url": "https://cb", "state": ""},
		"presentation": {"includeReceipt": true, "requestedCredentials": []}
	}`
	loader := writeTemplates(t, "", empty)
	_, err := loader.LoadPresentation()
	require.Error(t, err)
}

package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/regmirror/regmirror/types/errs"
)

const (
	defaultIMDSTokenEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"
	defaultIMDSAPIVersion    = "2018-02-01"
	defaultIMDSResource      = "https://management.azure.com/"
)

// IMDSProvider fetches a managed identity token from the instance metadata
// service. The endpoint can be redirected with the MSI_ENDPOINT environment
// variable, which is how hosted environments expose their local proxy.
type IMDSProvider struct {
	endpoint   string
	clientID   string
	resource   string
	apiVersion string
	client     *http.Client
}

type imdsTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresOn   string `json:"expires_on"`
	Resource    string `json:"resource"`
	TokenType   string `json:"token_type"`
}

// NewIMDSProvider returns a provider against the default or MSI_ENDPOINT
// configured metadata endpoint.
func NewIMDSProvider() *IMDSProvider {
	endpoint := defaultIMDSTokenEndpoint
	if env := os.Getenv("MSI_ENDPOINT"); env != "" {
		endpoint = env
	}
	return &IMDSProvider{
		endpoint:   endpoint,
		resource:   defaultIMDSResource,
		apiVersion: defaultIMDSAPIVersion,
		client:     &http.Client{},
	}
}

// WithClientID requests a token for a user assigned identity, chainable.
func (p *IMDSProvider) WithClientID(clientID string) *IMDSProvider {
	if clientID != "" {
		p.clientID = clientID
	}
	return p
}

// WithHTTPClient uses a specific http client with requests, chainable.
func (p *IMDSProvider) WithHTTPClient(c *http.Client) *IMDSProvider {
	if c != nil {
		p.client = c
	}
	return p
}

// TokenURI returns the metadata endpoint query for the current identity.
func (p *IMDSProvider) TokenURI() string {
	q := url.Values{}
	q.Set("api-version", p.apiVersion)
	q.Set("resource", p.resource)
	if p.clientID != "" {
		q.Set("client_id", p.clientID)
	}
	return p.endpoint + "?" + q.Encode()
}

// AccessToken calls the metadata service and returns the identity's token.
func (p *IMDSProvider) AccessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TokenURI(), nil)
	if err != nil {
		return "", fmt.Errorf("building IMDS request: %w: %v", errs.ErrInvalidOperation, err)
	}
	req.Header.Set("Metadata", "true")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("IMDS call failed: %w: %v", errs.ErrExternalDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IMDS: %w", errs.ExternalStatus(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading IMDS response: %w: %v", errs.ErrExternalDependency, err)
	}
	tok := imdsTokenResponse{}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decoding IMDS response: %w: %v", errs.ErrDataFormat, err)
	}
	return tok.AccessToken, nil
}

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/regmirror/regmirror/types/errs"
	"github.com/sirupsen/logrus"
)

// Credential is the material available for the exchange. Exactly one grant
// is selected from what is populated: username/password wins over a raw
// token.
type Credential struct {
	Username string
	Password string
	// Token is raw token material used for the refresh_token grant.
	Token string
}

// Authenticator performs the fixed two-round-trip challenge flow: probe the
// API without credentials, capture the bearer challenge, and exchange it for
// a token.
type Authenticator struct {
	client *http.Client
	log    *logrus.Logger
}

// Opt configures options for NewAuthenticator.
type Opt func(*Authenticator)

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(opts ...Opt) *Authenticator {
	a := &Authenticator{
		client: &http.Client{},
	}
	a.log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.WarnLevel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithHTTPClient uses a specific http client with requests.
func WithHTTPClient(c *http.Client) Opt {
	return func(a *Authenticator) {
		if c != nil {
			a.client = c
		}
	}
}

// WithLog injects a logrus Logger.
func WithLog(log *logrus.Logger) Opt {
	return func(a *Authenticator) {
		if log != nil {
			a.log = log
		}
	}
}

// Probe issues the method against apiURI with no credentials and returns the
// bearer challenge. ErrNoChallenge means the endpoint is open and
// authentication is unnecessary, which is distinct from failure. A client
// error without a Bearer WWW-Authenticate header violates the registry
// protocol contract and is reported as a code defect.
func (a *Authenticator) Probe(ctx context.Context, apiURI, method string) (BearerChallenge, error) {
	bc := BearerChallenge{}
	req, err := http.NewRequestWithContext(ctx, method, apiURI, nil)
	if err != nil {
		return bc, fmt.Errorf("building probe request: %w: %v", errs.ErrInvalidOperation, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return bc, fmt.Errorf("probe failed: %w: %v", errs.ErrExternalDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return bc, errs.ErrNoChallenge
	}
	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return bc, fmt.Errorf("%d response without a challenge header: %w", resp.StatusCode, errs.ErrCodeDefect)
	}
	bc, err = ParseBearerChallenge(header)
	if err != nil {
		return bc, fmt.Errorf("challenge %q: %w: %v", header, errs.ErrCodeDefect, err)
	}
	a.log.WithFields(logrus.Fields{
		"realm":   bc.Realm,
		"service": bc.Service,
		"scope":   bc.Scope,
	}).Debug("challenge parsed")
	return bc, nil
}

// Authenticate runs the full flow against apiURI and returns a token usable
// with the upstream registry. Any transport, exchange, or decode failure is
// an error the caller must treat as "cannot authenticate".
func (a *Authenticator) Authenticate(ctx context.Context, apiURI, method string, cred Credential) (*OAuthToken, error) {
	bc, err := a.Probe(ctx, apiURI, method)
	if err != nil {
		return nil, err
	}
	var oreq OAuthRequest
	switch {
	case cred.Username != "" && cred.Password != "":
		oreq = bc.ByPassword(cred.Username, cred.Password)
	case cred.Token != "":
		oreq = bc.ByRefreshToken(cred.Token)
	default:
		return nil, errs.ErrMissingCredentials
	}
	tok, err := oreq.Post(ctx, a.client, a.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrAuthentication, err)
	}
	tok.Host = hostOf(apiURI)
	return tok, nil
}

// ExchangeAccessToken trades a cloud identity access token for a registry
// refresh token via the tenant-scoped exchange endpoint. This is the first
// half of the two-step flow, Authenticate with the result completes it.
func (a *Authenticator) ExchangeAccessToken(ctx context.Context, apiURI, accessToken, tenant string) (*OAuthToken, error) {
	bc, err := a.Probe(ctx, apiURI, http.MethodGet)
	if err != nil {
		return nil, err
	}
	if tenant == "" {
		tenant = "common"
	}
	tok, err := bc.Exchange(accessToken, tenant).Post(ctx, a.client, a.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrAuthentication, err)
	}
	tok.Host = hostOf(apiURI)
	return tok, nil
}

func hostOf(apiURI string) string {
	u, err := url.Parse(apiURI)
	if err != nil {
		return ""
	}
	return u.Host
}

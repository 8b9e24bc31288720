package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/regmirror/regmirror/types/errs"
	"github.com/sirupsen/logrus"
)

// Grant types accepted by the registry token endpoint.
const (
	GrantRefreshToken = "refresh_token"
	GrantPassword     = "password"
	GrantAccessToken  = "access_token"
)

// OAuthRequest describes one token endpoint call. Exactly one grant shape is
// populated: refresh_token, password, or access_token (the tenant-scoped
// exchange, which moves the realm path from /token to /exchange).
type OAuthRequest struct {
	Realm        string
	GrantType    string
	Service      string
	Scope        string
	Tenant       string
	RefreshToken string
	AccessToken  string
	Username     string
	Password     string
	ClientID     string
}

// ByRefreshToken builds a refresh_token grant from the challenge.
func (bc BearerChallenge) ByRefreshToken(refreshToken string) OAuthRequest {
	return OAuthRequest{
		Realm:        bc.Realm,
		GrantType:    GrantRefreshToken,
		Service:      bc.Service,
		Scope:        bc.Scope,
		RefreshToken: refreshToken,
	}
}

// ByPassword builds a password grant from the challenge.
func (bc BearerChallenge) ByPassword(username, password string) OAuthRequest {
	return OAuthRequest{
		Realm:     bc.Realm,
		GrantType: GrantPassword,
		Service:   bc.Service,
		Scope:     bc.Scope,
		Username:  username,
		Password:  password,
	}
}

// Exchange builds the tenant-scoped access_token grant used to trade a cloud
// identity token for a registry refresh token. The scope is dropped, refresh
// tokens are not scope limited.
func (bc BearerChallenge) Exchange(accessToken, tenant string) OAuthRequest {
	return OAuthRequest{
		Realm:       bc.Realm,
		GrantType:   GrantAccessToken,
		Service:     bc.Service,
		Tenant:      tenant,
		AccessToken: accessToken,
	}
}

// Encode serializes the populated fields as a urlencoded form body. Field
// order is fixed so request bodies are deterministic, and the scope is
// escaped as a single value so a multi-action scope is never re-split.
func (r OAuthRequest) Encode() string {
	b := strings.Builder{}
	add := func(k, v string) {
		if v == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	add("grant_type", r.GrantType)
	add("service", r.Service)
	add("scope", r.Scope)
	add("tenant", r.Tenant)
	add("refresh_token", r.RefreshToken)
	add("access_token", r.AccessToken)
	add("username", r.Username)
	add("password", r.Password)
	add("client_id", r.ClientID)
	return b.String()
}

// endpoint returns the realm to POST to, switching /token to /exchange for
// the tenant-scoped grant.
func (r OAuthRequest) endpoint() string {
	if r.Tenant != "" {
		return strings.Replace(r.Realm, "token", "exchange", 1)
	}
	return r.Realm
}

// BuildRequest returns the token endpoint POST for this grant.
func (r OAuthRequest) BuildRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(), strings.NewReader(r.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// Post executes the exchange and decodes the credentials from the response.
func (r OAuthRequest) Post(ctx context.Context, client *http.Client, log *logrus.Logger) (*OAuthToken, error) {
	req, err := r.BuildRequest(ctx)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"realm":      r.endpoint(),
		"grant_type": r.GrantType,
		"service":    r.Service,
	}).Debug("posting token exchange")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w: %v", errs.ErrExternalDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token exchange: %w", errs.ExternalStatus(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w: %v", errs.ErrExternalDependency, err)
	}
	tok := OAuthToken{}
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decoding token response: %w: %v", errs.ErrDataFormat, err)
	}
	tok.parseClaims()
	return &tok, nil
}

package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/regmirror/regmirror/types/errs"
)

// Claims is the subset of the JWT payload the mirror cares about.
type Claims struct {
	// ExpiresOn is the exp claim, seconds since the unix epoch.
	ExpiresOn int64 `json:"exp"`
}

// OAuthToken is the product of one token exchange. Created fresh per
// exchange and never mutated after construction.
type OAuthToken struct {
	// Host is the registry this token is intended for.
	Host string `json:"-"`
	// AccessToken can be exchanged for a new refresh token.
	AccessToken string `json:"access_token,omitempty"`
	// RefreshToken can be exchanged for a resource access token.
	RefreshToken string `json:"refresh_token,omitempty"`
	// Claims decoded from the token's JWT payload segment.
	Claims *Claims `json:"claims,omitempty"`
}

// Token returns the token material, preferring the refresh token.
func (t OAuthToken) Token() string {
	if t.RefreshToken != "" {
		return t.RefreshToken
	}
	return t.AccessToken
}

// Expired compares the exp claim to wall-clock time. A token without claims
// is treated as expired so callers re-authenticate rather than present a
// token of unknown lifetime.
func (t OAuthToken) Expired() bool {
	if t.Claims == nil {
		return true
	}
	return time.Now().Unix() >= t.Claims.ExpiresOn
}

// parseClaims decodes the claims from the JWT payload segment of the token
// material. The signature is the issuer's concern, not the mirror's, so the
// token is parsed unverified.
func (t *OAuthToken) parseClaims() {
	if t.Claims != nil || t.Token() == "" {
		return
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.Token(), &claims); err != nil {
		return
	}
	if claims.ExpiresAt != nil {
		t.Claims = &Claims{ExpiresOn: claims.ExpiresAt.Unix()}
	}
}

// ReadTokenCache loads a cached token file written by the out-of-process
// login flow.
func ReadTokenCache(path string) (*OAuthToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token cache %s: %w: %v", path, errs.ErrSystemEnvironment, err)
	}
	tok := OAuthToken{}
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token cache %s: %w: %v", path, errs.ErrDataFormat, err)
	}
	tok.parseClaims()
	return &tok, nil
}

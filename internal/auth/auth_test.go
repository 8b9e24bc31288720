package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/regmirror/regmirror/types/errs"
)

func TestParseAuthHeader(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		name, in string
		wantC    []challenge
		wantE    error
	}{
		{
			name:  "Bearer to auth.docker.io",
			in:    `Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:docker/docker:pull"`,
			wantC: []challenge{{authType: "bearer", params: map[string]string{"realm": "https://auth.docker.io/token", "service": "registry.docker.io", "scope": "repository:docker/docker:pull"}}},
			wantE: nil,
		},
		{
			name:  "Basic to GitHub",
			in:    `Basic realm="GitHub Package Registry"`,
			wantC: []challenge{{authType: "basic", params: map[string]string{"realm": "GitHub Package Registry"}}},
			wantE: nil,
		},
		{
			name:  "Basic case insensitive type and key",
			in:    `BaSiC ReAlM="Case insensitive key"`,
			wantC: []challenge{{authType: "basic", params: map[string]string{"realm": "Case insensitive key"}}},
			wantE: nil,
		},
		{
			name:  "Basic unquoted realm",
			in:    `Basic realm=unquoted`,
			wantC: []challenge{{authType: "basic", params: map[string]string{"realm": "unquoted"}}},
			wantE: nil,
		},
		{
			name:  "Missing close quote",
			in:    `Basic realm="GitHub Package Registry`,
			wantC: []challenge{},
			wantE: errs.ErrParsingFailed,
		},
		{
			name:  "Missing value after escape",
			in:    `Basic realm="GitHub Package Registry\\`,
			wantC: []challenge{},
			wantE: errs.ErrParsingFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseAuthHeader(tt.in)
			if !errors.Is(err, tt.wantE) {
				t.Errorf("got error %v, want %v", err, tt.wantE)
			}
			if err != nil || tt.wantE != nil {
				return
			}
			if len(c) != len(tt.wantC) {
				t.Errorf("got number of challenges %d, want %d", len(c), len(tt.wantC))
			}
			for i := range tt.wantC {
				if c[i].authType != tt.wantC[i].authType {
					t.Errorf("c[%d] got authtype %s, want %s", i, c[i].authType, tt.wantC[i].authType)
				}
				for k := range tt.wantC[i].params {
					if c[i].params[k] != tt.wantC[i].params[k] {
						t.Errorf("c[%d] param %s got %s, want %s", i, k, c[i].params[k], tt.wantC[i].params[k])
					}
				}
			}
		})
	}
}

func TestParseBearerChallenge(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
		want   BearerChallenge
		wantE  error
	}{
		{
			name:   "single action scope",
			header: `Bearer realm="https://registry.example.com/oauth2/token",service="registry.example.com",scope="repository:hello-world:pull"`,
			want: BearerChallenge{
				Realm:   "https://registry.example.com/oauth2/token",
				Service: "registry.example.com",
				Scope:   "repository:hello-world:pull",
			},
		},
		{
			name:   "multi action scope survives quoting",
			header: `Bearer realm="https://registry.example.com/oauth2/token",service="registry.example.com",scope="repository:hello-world:pull,push"`,
			want: BearerChallenge{
				Realm:   "https://registry.example.com/oauth2/token",
				Service: "registry.example.com",
				Scope:   "repository:hello-world:pull,push",
			},
		},
		{
			name:   "basic is not a bearer challenge",
			header: `Basic realm="registry"`,
			wantE:  errs.ErrParsingFailed,
		},
		{
			name:   "missing realm",
			header: `Bearer service="registry.example.com"`,
			wantE:  errs.ErrParsingFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc, err := ParseBearerChallenge(tt.header)
			if !errors.Is(err, tt.wantE) {
				t.Fatalf("got error %v, want %v", err, tt.wantE)
			}
			if tt.wantE != nil {
				return
			}
			if bc != tt.want {
				t.Errorf("got %+v, want %+v", bc, tt.want)
			}
		})
	}
}

// A parsed challenge reassembled as a token query must preserve every field,
// including a multi-action scope.
func TestTokenQueryRoundTrip(t *testing.T) {
	t.Parallel()
	header := `Bearer realm="https://registry.example.com/oauth2/token",service="registry.example.com",scope="repository:hello-world:pull,push"`
	bc, err := ParseBearerChallenge(header)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := "https://registry.example.com/oauth2/token?service=registry.example.com&scope=repository:hello-world:pull,push"
	if q := bc.TokenQuery(); q != want {
		t.Errorf("got %s, want %s", q, want)
	}
}

// Request bodies must be byte-for-byte deterministic across runs, the field
// order is fixed rather than map ordered.
func TestOAuthEncode(t *testing.T) {
	t.Parallel()
	bc := BearerChallenge{
		Realm:   "https://registry.example.com/oauth2/token",
		Service: "registry.example.com",
		Scope:   "repository:hello-world:pull",
	}
	tests := []struct {
		name string
		req  OAuthRequest
		want string
	}{
		{
			name: "refresh token grant",
			req:  bc.ByRefreshToken("rt123"),
			want: "grant_type=refresh_token&service=registry.example.com&scope=repository%3Ahello-world%3Apull&refresh_token=rt123",
		},
		{
			name: "password grant",
			req:  bc.ByPassword("user", "pa:ss"),
			want: "grant_type=password&service=registry.example.com&scope=repository%3Ahello-world%3Apull&username=user&password=pa%3Ass",
		},
		{
			name: "access token exchange drops the scope",
			req:  bc.Exchange("aad123", "tenant1"),
			want: "grant_type=access_token&service=registry.example.com&tenant=tenant1&access_token=aad123",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Encode(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOAuthEndpoint(t *testing.T) {
	t.Parallel()
	bc := BearerChallenge{Realm: "https://registry.example.com/oauth2/token"}
	if e := bc.ByRefreshToken("rt").endpoint(); e != "https://registry.example.com/oauth2/token" {
		t.Errorf("refresh grant endpoint got %s", e)
	}
	if e := bc.Exchange("at", "tenant1").endpoint(); e != "https://registry.example.com/oauth2/exchange" {
		t.Errorf("exchange endpoint got %s", e)
	}
}

// testJWT builds an unsigned JWT carrying only an exp claim.
func testJWT(t *testing.T, exp int64) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]int64{"exp": exp})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()
	fresh := OAuthToken{RefreshToken: testJWT(t, 9999999999)}
	fresh.parseClaims()
	if fresh.Claims == nil {
		t.Fatal("claims not parsed from token")
	}
	if fresh.Expired() {
		t.Error("token with far future exp reported expired")
	}
	stale := OAuthToken{RefreshToken: testJWT(t, 1000000)}
	stale.parseClaims()
	if !stale.Expired() {
		t.Error("token with past exp reported valid")
	}
	if !(OAuthToken{AccessToken: "opaque"}).Expired() {
		t.Error("token without claims must be treated as expired")
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	tokenResp, _ := json.Marshal(OAuthToken{AccessToken: "acrtoken1"})
	exchResp, _ := json.Marshal(OAuthToken{RefreshToken: "acrrefresh1"})
	var tsURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/hello-world/manifests/latest":
			if r.Header.Get("Authorization") == "" {
				w.Header().Set("WWW-Authenticate",
					`Bearer realm="`+tsURL+`/oauth2/token",service="registry.example.com",scope="repository:hello-world:pull"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/v2/open/manifests/latest":
			w.WriteHeader(http.StatusOK)
		case "/oauth2/token":
			body, _ := io.ReadAll(r.Body)
			want := "grant_type=refresh_token&service=registry.example.com&scope=repository%3Ahello-world%3Apull&refresh_token=rt123"
			if string(body) != want {
				t.Errorf("token body got %s, want %s", body, want)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write(tokenResp)
		case "/oauth2/exchange":
			body, _ := io.ReadAll(r.Body)
			want := "grant_type=access_token&service=registry.example.com&tenant=tenant1&access_token=aad123"
			if string(body) != want {
				t.Errorf("exchange body got %s, want %s", body, want)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write(exchResp)
		default:
			t.Errorf("unhandled request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer ts.Close()
	tsURL = ts.URL

	ctx := context.Background()
	a := NewAuthenticator(WithHTTPClient(ts.Client()))

	t.Run("refresh token grant", func(t *testing.T) {
		tok, err := a.Authenticate(ctx, ts.URL+"/v2/hello-world/manifests/latest", http.MethodGet, Credential{Token: "rt123"})
		if err != nil {
			t.Fatalf("authenticate failed: %v", err)
		}
		if tok.AccessToken != "acrtoken1" {
			t.Errorf("got access token %s, want acrtoken1", tok.AccessToken)
		}
	})

	t.Run("open endpoint issues no challenge", func(t *testing.T) {
		_, err := a.Probe(ctx, ts.URL+"/v2/open/manifests/latest", http.MethodGet)
		if !errors.Is(err, errs.ErrNoChallenge) {
			t.Errorf("got %v, want ErrNoChallenge", err)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := a.Authenticate(ctx, ts.URL+"/v2/hello-world/manifests/latest", http.MethodGet, Credential{})
		if !errors.Is(err, errs.ErrMissingCredentials) {
			t.Errorf("got %v, want ErrMissingCredentials", err)
		}
	})

	t.Run("access token exchange", func(t *testing.T) {
		tok, err := a.ExchangeAccessToken(ctx, ts.URL+"/v2/hello-world/manifests/latest", "aad123", "tenant1")
		if err != nil {
			t.Fatalf("exchange failed: %v", err)
		}
		if tok.RefreshToken != "acrrefresh1" {
			t.Errorf("got refresh token %s, want acrrefresh1", tok.RefreshToken)
		}
	})
}

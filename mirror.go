// Package regmirror is a read-through mirror for OCI registries. It accepts
// distribution API requests, authenticates against the upstream on the
// client's behalf, verifies what the upstream serves, and can substitute a
// streamable image variant for the requested manifest. When the mirror itself
// cannot serve, it answers a bare 503 so the client's runtime falls back to
// the upstream registry directly.
package regmirror

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/regmirror/regmirror/config"
	"github.com/regmirror/regmirror/internal/auth"
	"github.com/regmirror/regmirror/internal/credential"
	"github.com/regmirror/regmirror/target"
	"github.com/regmirror/regmirror/teleport"
	"github.com/regmirror/regmirror/types/errs"
	"github.com/sirupsen/logrus"
)

// Mirror is the gateway handling inbound distribution API requests.
type Mirror struct {
	conf     *config.Config
	authn    *auth.Authenticator
	provider credential.Provider
	tele     *teleport.Resolver
	client   *http.Client
	scheme   string
	log      *logrus.Logger

	mu     sync.Mutex
	tokens map[string]*auth.OAuthToken
}

// Opt functions are used by New to create a *Mirror.
type Opt func(*Mirror)

// New returns a *Mirror with options applied.
func New(opts ...Opt) (*Mirror, error) {
	m := &Mirror{
		conf:   &config.Config{},
		client: &http.Client{},
		scheme: "https",
		tokens: map[string]*auth.OAuthToken{},
	}
	m.log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.WarnLevel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.conf.Insecure {
		m.scheme = "http"
	}
	if m.authn == nil {
		m.authn = auth.NewAuthenticator(auth.WithHTTPClient(m.client), auth.WithLog(m.log))
	}
	if m.provider == nil {
		m.provider = credential.Resolve(
			credential.WithCachedTokenPath(m.conf.Auth.AccessTokenPath),
			credential.WithLog(m.log),
		)
	}
	if m.tele == nil {
		tele, err := teleport.NewResolver(m.conf.Teleport, teleport.WithLog(m.log))
		if err != nil {
			return nil, err
		}
		m.tele = tele
	}
	return m, nil
}

// WithConfig applies a loaded configuration.
func WithConfig(conf *config.Config) Opt {
	return func(m *Mirror) {
		if conf != nil {
			m.conf = conf
		}
	}
}

// WithHTTPClient uses a specific http client for upstream requests.
func WithHTTPClient(c *http.Client) Opt {
	return func(m *Mirror) {
		if c != nil {
			m.client = c
		}
	}
}

// WithLog injects a logrus Logger.
func WithLog(log *logrus.Logger) Opt {
	return func(m *Mirror) {
		if log != nil {
			m.log = log
		}
	}
}

// WithCredentialProvider overrides the access token provider chain.
func WithCredentialProvider(p credential.Provider) Opt {
	return func(m *Mirror) {
		if p != nil {
			m.provider = p
		}
	}
}

// WithTeleportResolver overrides the teleport resolver.
func WithTeleportResolver(t *teleport.Resolver) Opt {
	return func(m *Mirror) {
		if t != nil {
			m.tele = t
		}
	}
}

// WithUpstreamScheme overrides the scheme used for upstream requests, https
// when unset.
func WithUpstreamScheme(scheme string) Opt {
	return func(m *Mirror) {
		if scheme != "" {
			m.scheme = scheme
		}
	}
}

// Handler returns the http handler serving the distribution API.
func (m *Mirror) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v2/", m.handlePing).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/v2/{repo:.+}/manifests/{object}", m.handleManifest).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/v2/{repo:.+}/blobs/uploads/", m.handlePassThrough).Methods(http.MethodPost)
	r.HandleFunc("/v2/{repo:.+}/blobs/uploads/{session}", m.handlePassThrough).Methods(http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodGet)
	r.HandleFunc("/v2/{repo:.+}/blobs/{digest}", m.handleBlob).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/v2/{repo:.+}/tags/list", m.handlePassThrough).Methods(http.MethodGet)
	return r
}

// handlePing answers the version check locally, clients use it to decide the
// endpoint speaks the distribution API at all.
func (m *Mirror) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte("{}"))
	}
}

// namespace returns the upstream host for a request, from the ns query
// parameter or the configured default.
func (m *Mirror) namespace(r *http.Request) string {
	if ns := r.URL.Query().Get("ns"); ns != "" {
		return ns
	}
	return m.conf.Namespace
}

// upstreamQuery strips the mirror control parameters from the inbound query.
func upstreamQuery(r *http.Request) string {
	q := r.URL.Query()
	q.Del("ns")
	return q.Encode()
}

func (m *Mirror) handleManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns := m.namespace(r)
	if ns == "" {
		m.softFail(w, errs.InvalidOperation("request names no upstream namespace"))
		return
	}
	obj, err := target.ParseObject(vars["object"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	t, err := target.New(
		target.WithNamespace(ns),
		target.WithRepo(vars["repo"]),
		target.WithAPI("manifests"),
		target.WithMethod(r.Method),
		target.WithObject(obj),
		target.WithAccept(r.Header.Get("Accept")),
		target.WithScheme(m.scheme),
		target.WithHTTPClient(m.client),
		target.WithLog(m.log),
	)
	if err != nil {
		m.softFail(w, err)
		return
	}
	t, err = m.authenticated(ctx, t)
	if err != nil {
		m.softFail(w, err)
		return
	}
	manifests, err := t.Resolve(ctx)
	if err != nil {
		m.relayOrFail(w, err)
		return
	}
	res := m.tele.Resolve(ctx, t, manifests)
	out := res.Manifest
	w.Header().Set("Content-Type", out.MediaType())
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Raw)))
	w.Header().Set("Docker-Content-Digest", out.Desc.Digest.String())
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(out.Raw)
	}
}

func (m *Mirror) handleBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	obj, err := target.ParseObject(vars["digest"])
	if err != nil || !obj.IsDigest() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.relay(w, r, "blobs", obj)
}

// handlePassThrough relays tags and upload requests without interpreting
// them, the object is already part of the api path.
func (m *Mirror) handlePassThrough(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	api := r.URL.Path[len("/v2/"+vars["repo"]+"/"):]
	m.relay(w, r, api, target.Object{})
}

func (m *Mirror) relay(w http.ResponseWriter, r *http.Request, api string, obj target.Object) {
	ns := m.namespace(r)
	if ns == "" {
		m.softFail(w, errs.InvalidOperation("request names no upstream namespace"))
		return
	}
	ctx := r.Context()
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			m.softFail(w, err)
			return
		}
		body = b
	}
	t, err := target.New(
		target.WithNamespace(ns),
		target.WithRepo(mux.Vars(r)["repo"]),
		target.WithAPI(api),
		target.WithMethod(r.Method),
		target.WithObject(obj),
		target.WithQuery(upstreamQuery(r)),
		target.WithAccept(r.Header.Get("Accept")),
		target.WithBody(r.Header.Get("Content-Type"), body),
		target.WithScheme(m.scheme),
		target.WithHTTPClient(m.client),
		target.WithLog(m.log),
	)
	if err != nil {
		m.softFail(w, err)
		return
	}
	t, err = m.authenticated(ctx, t)
	if err != nil {
		m.softFail(w, err)
		return
	}
	resp, err := t.ContinueRequest(ctx)
	if err != nil {
		m.softFail(w, err)
		return
	}
	for _, k := range []string{"Content-Type", "Content-Length", "Docker-Content-Digest", "Location", "Range", "Docker-Upload-UUID", "Link"} {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// authenticated returns a copy of the target carrying a bearer token for its
// upstream, acquiring one if the cache has none. An upstream that issues no
// challenge needs no token.
func (m *Mirror) authenticated(ctx context.Context, t *target.Target) (*target.Target, error) {
	tok, err := m.token(ctx, t)
	if err != nil {
		if errors.Is(err, errs.ErrNoChallenge) {
			return t, nil
		}
		return nil, err
	}
	return t.WithBearer(tok), nil
}

// token returns a registry access token for the target's upstream, reusing
// an unexpired cached exchange when one exists. Tokens are minted against the
// challenge scope of one repository, so the cache is keyed by host and
// repository rather than host alone.
func (m *Mirror) token(ctx context.Context, t *target.Target) (string, error) {
	key := t.Namespace() + "/" + t.Repo()
	m.mu.Lock()
	cached := m.tokens[key]
	m.mu.Unlock()
	if cached != nil && !cached.Expired() {
		return bearerOf(cached), nil
	}
	apiURI := t.APIURL()
	var tok *auth.OAuthToken
	var err error
	if m.conf.Auth.Username != "" && m.conf.Auth.Password != "" {
		tok, err = m.authn.Authenticate(ctx, apiURI, t.Method(), auth.Credential{
			Username: m.conf.Auth.Username,
			Password: m.conf.Auth.Password,
		})
	} else {
		tok, err = m.exchangedToken(ctx, apiURI, t.Method())
	}
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.tokens[key] = tok
	m.mu.Unlock()
	return bearerOf(tok), nil
}

// exchangedToken runs the two step identity flow: a cloud access token from
// the provider chain is traded for a registry refresh token, and the refresh
// token for a scoped registry access token.
func (m *Mirror) exchangedToken(ctx context.Context, apiURI, method string) (*auth.OAuthToken, error) {
	access, err := m.provider.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	tenant := m.conf.Auth.TenantID
	if tenant == "" {
		tenant = credential.TenantID(m.provider)
	}
	exchanged, err := m.authn.ExchangeAccessToken(ctx, apiURI, access, tenant)
	if err != nil {
		return nil, err
	}
	return m.authn.Authenticate(ctx, apiURI, method, auth.Credential{Token: exchanged.RefreshToken})
}

func bearerOf(tok *auth.OAuthToken) string {
	if tok.AccessToken != "" {
		return tok.AccessToken
	}
	return tok.Token()
}

// softFail answers a bare 503 with no body. The client runtime reads that as
// "mirror unavailable, talk to the upstream directly", so no internal error
// detail ever leaks into the response.
func (m *Mirror) softFail(w http.ResponseWriter, err error) {
	entry := m.log.WithFields(logrus.Fields{"err": err})
	switch {
	case errors.Is(err, errs.ErrDigestMismatch):
		entry.Error("integrity violation, refusing to serve content failing its digest check")
	case errors.Is(err, errs.ErrCodeDefect):
		entry.Error("protocol contract violated upstream")
	default:
		entry.Warn("soft failing request")
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// relayOrFail distinguishes the upstream's own answer for the content from
// the mirror's inability to ask: a status the upstream returned is relayed,
// everything else soft fails.
func (m *Mirror) relayOrFail(w http.ResponseWriter, err error) {
	if status := errs.Status(err); status != 0 && !errors.Is(err, errs.ErrAuthentication) {
		m.log.WithFields(logrus.Fields{"status": status}).Debug("relaying upstream status")
		w.WriteHeader(status)
		return
	}
	m.softFail(w, err)
}

// Serve runs the mirror on the configured listen address until the context
// is canceled.
func (m *Mirror) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    m.conf.Listen,
		Handler: m.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	m.log.WithFields(logrus.Fields{"listen": m.conf.Listen}).Info("mirror listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

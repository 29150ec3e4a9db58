package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	credMemory "github.com/quipper/poc/stockproxy/internal/repositories/credential/memory"
	"github.com/quipper/poc/stockproxy/internal/service/onboarding"
	"github.com/quipper/poc/stockproxy/internal/service/stock"
	"github.com/quipper/poc/stockproxy/pkg/common/levelcache"
	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	"github.com/quipper/poc/stockproxy/pkg/common/sessiontoken"
	"github.com/quipper/poc/stockproxy/pkg/common/signature"
	"github.com/quipper/poc/stockproxy/pkg/oauthstate"
	"github.com/quipper/poc/stockproxy/pkg/platform"
	credRepo "github.com/quipper/poc/stockproxy/pkg/repositories/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shop   = "demo.myshopify.com"
	secret = "hush"
	apiKey = "key"
)

type fakeResolver struct {
	mu     sync.Mutex
	calls  int
	levels []platform.InventoryLevel
	err    error
}

func (f *fakeResolver) ResolveLevels(ctx context.Context, s, token, variantID string) ([]platform.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.levels, f.err
}

func (f *fakeResolver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlatform struct {
	mu        sync.Mutex
	exchanges int
	lastState string
}

func (f *fakePlatform) AuthorizeURL(s, state, redirectURI string) string {
	f.mu.Lock()
	f.lastState = state
	f.mu.Unlock()
	return "https://" + s + "/admin/oauth/authorize?state=" + url.QueryEscape(state) + "&redirect_uri=" + url.QueryEscape(redirectURI)
}

func (f *fakePlatform) state() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastState
}

func (f *fakePlatform) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

func (f *fakePlatform) Exchange(ctx context.Context, s, code string) (credRepo.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	return credRepo.Credential{SubjectID: s, AccessToken: "shpat_" + code}, nil
}

type fixture struct {
	srv      *httptest.Server
	handler  *Handler
	resolver *fakeResolver
	platform *fakePlatform
	cache    *levelcache.Memory
}

type options struct {
	settings onboarding.Settings
	sessions bool
	appProxy bool
	health   func(context.Context) error
}

func newFixture(t *testing.T, o options) *fixture {
	t.Helper()
	if o.settings == (onboarding.Settings{}) {
		o.settings = onboarding.Settings{APIKey: apiKey, APISecret: secret, AppURL: "https://relay.example.com", Shop: shop}
	}
	codec, err := oauthstate.NewSignedCodec(secret)
	require.NoError(t, err)

	fx := &fixture{
		resolver: &fakeResolver{levels: []platform.InventoryLevel{{LocationID: "gid://shopify/Location/1", Location: "Main", Available: 4}}},
		platform: &fakePlatform{},
		cache:    levelcache.NewMemory(time.Minute),
	}
	creds := credMemory.NewRepo(&credRepo.Credential{SubjectID: shop, AccessToken: "shpat_seed"})
	flow := onboarding.NewFlow(o.settings, codec, signature.NewOAuthVerifier(secret, signature.EncodeDelimiters), fx.platform, creds)

	deps := Deps{
		Flow:   flow,
		Stock:  stock.NewService(shop, creds, fx.cache, fx.resolver),
		Health: o.health,
	}
	if o.sessions {
		deps.Sessions = sessiontoken.NewVerifier(secret, apiKey)
	}
	if o.appProxy {
		deps.AppProxy = signature.NewAppProxyVerifier(secret)
	}
	fx.handler = NewHandler(deps)
	fx.srv = httptest.NewServer(fx.handler.Router())
	t.Cleanup(fx.srv.Close)
	return fx
}

// noRedirect returns a client that surfaces 302 responses instead of following them.
func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func (fx *fixture) get(t *testing.T, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fx.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := noRedirect().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func shopHeader(s string) http.Header {
	return http.Header{ShopHeader: {s}}
}

func TestLiveness(t *testing.T) {
	fx := newFixture(t, options{})
	res, body := fx.get(t, "/", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "running")
	assert.NotEmpty(t, res.Header.Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	fx := newFixture(t, options{})
	res, _ := fx.get(t, "/", http.Header{RequestIDHeader: {"req-123"}})
	assert.Equal(t, "req-123", res.Header.Get(RequestIDHeader))
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, options{})
	res, body := fx.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	down := newFixture(t, options{health: func(context.Context) error { return errors.New("database is locked") }})
	res, body = down.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.JSONEq(t, `{"status":"unhealthy"}`, body)
	assert.NotContains(t, body, "database is locked")
}

func TestProxy_ReturnsLevels(t *testing.T) {
	fx := newFixture(t, options{})
	res, body := fx.get(t, "/proxy?variant_id=123", shopHeader(shop))
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"levels":[{"locationId":"gid://shopify/Location/1","location":"Main","available":4}]}`, body)

	// Served from cache the second time.
	res, _ = fx.get(t, "/proxy?variant_id=123", shopHeader(shop))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, fx.resolver.count())
}

func TestProxy_EmptyLevelsEncodeAsArray(t *testing.T) {
	fx := newFixture(t, options{})
	fx.resolver.levels = []platform.InventoryLevel{}
	res, body := fx.get(t, "/proxy?variant_id=9", shopHeader(shop))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"levels":[]}`, body)
}

func TestProxy_ForeignShopForbiddenWithoutSideEffects(t *testing.T) {
	fx := newFixture(t, options{})
	for _, h := range []http.Header{shopHeader("evil.myshopify.com"), nil} {
		res, body := fx.get(t, "/proxy?variant_id=123", h)
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
		assert.Equal(t, "Forbidden\n", body)
	}
	assert.Zero(t, fx.resolver.count())
	assert.Zero(t, fx.cache.Len())
}

func TestProxy_MissingVariant(t *testing.T) {
	fx := newFixture(t, options{})
	res, body := fx.get(t, "/proxy", shopHeader(shop))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body, "Missing variant_id")
	assert.Zero(t, fx.resolver.count())
}

func TestProxy_UpstreamFailureIsGeneric(t *testing.T) {
	fx := newFixture(t, options{})
	fx.resolver.err = &platform.UpstreamError{Op: "inventory_item_levels", Status: 502, Body: "secret upstream detail"}
	res, body := fx.get(t, "/proxy?variant_id=123", shopHeader(shop))
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.NotContains(t, body, "secret upstream detail")
	assert.Zero(t, fx.cache.Len())
}

func sessionToken(t *testing.T, dest string) string {
	t.Helper()
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(dest + "/admin").
		Audience([]string{apiKey}).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute)).
		Claim("dest", dest).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestProxy_SessionToken(t *testing.T) {
	fx := newFixture(t, options{sessions: true})

	res, _ := fx.get(t, "/proxy?variant_id=1", http.Header{"Authorization": {"Bearer " + sessionToken(t, "https://"+shop)}})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// The shop header is ignored in this mode.
	res, _ = fx.get(t, "/proxy?variant_id=1", shopHeader(shop))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = fx.get(t, "/proxy?variant_id=1", http.Header{"Authorization": {"Bearer " + sessionToken(t, "https://evil.myshopify.com")}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = fx.get(t, "/proxy?variant_id=1", http.Header{"Authorization": {"Bearer not-a-jwt"}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, 1, fx.resolver.count())
}

func appProxyQuery(ts time.Time, variant string) url.Values {
	q := url.Values{
		"shop":        {shop},
		"path_prefix": {"/apps/stock"},
		"timestamp":   {strconv.FormatInt(ts.Unix(), 10)},
		"variant_id":  {variant},
	}
	q.Set("signature", signature.NewAppProxyVerifier(secret).Sign(q))
	return q
}

func TestProxy_AppProxySignature(t *testing.T) {
	fx := newFixture(t, options{appProxy: true})
	now := time.Unix(1_700_000_000, 0)
	fx.handler.now = func() time.Time { return now }

	q := appProxyQuery(now, "7")
	res, body := fx.get(t, "/proxy?"+q.Encode(), nil)
	assert.Equal(t, http.StatusOK, res.StatusCode, body)

	tampered := appProxyQuery(now, "7")
	tampered.Set("variant_id", "8")
	res, body = fx.get(t, "/proxy?"+tampered.Encode(), nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Contains(t, body, "Invalid signature")

	stale := appProxyQuery(now.Add(-6*time.Minute), "7")
	res, _ = fx.get(t, "/proxy?"+stale.Encode(), nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = fx.get(t, "/proxy?variant_id=7", shopHeader(shop))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, 1, fx.resolver.count())
}

func TestInstall(t *testing.T) {
	fx := newFixture(t, options{})
	res, _ := fx.get(t, "/auth/install?shop="+shop, nil)
	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, shop, loc.Host)
	assert.Equal(t, "https://relay.example.com/auth/callback", loc.Query().Get("redirect_uri"))
	assert.NotEmpty(t, loc.Query().Get("state"))
}

func TestInstall_Errors(t *testing.T) {
	fx := newFixture(t, options{})
	res, body := fx.get(t, "/auth/install", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body, "Missing shop")

	unconfigured := newFixture(t, options{settings: onboarding.Settings{APIKey: apiKey, Shop: shop}})
	res, body = unconfigured.get(t, "/auth/install?shop="+shop, nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.NotContains(t, body, "OAuth")
}

func callbackQuery(state string) url.Values {
	q := url.Values{
		"shop":      {shop},
		"code":      {"abc"},
		"state":     {state},
		"timestamp": {strconv.FormatInt(time.Now().Unix(), 10)},
	}
	q.Set("hmac", signature.NewOAuthVerifier(secret, signature.EncodeDelimiters).Sign(q))
	return q
}

func TestCallback(t *testing.T) {
	fx := newFixture(t, options{})
	res, _ := fx.get(t, "/auth/install?shop="+shop, nil)
	require.Equal(t, http.StatusFound, res.StatusCode)

	res, body := fx.get(t, "/auth/callback?"+callbackQuery(fx.platform.state()).Encode(), nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, body, shop)
	assert.Equal(t, 1, fx.platform.exchangeCount())
}

func TestCallback_Rejections(t *testing.T) {
	fx := newFixture(t, options{})
	res, _ := fx.get(t, "/auth/install?shop="+shop, nil)
	require.Equal(t, http.StatusFound, res.StatusCode)
	state := fx.platform.state()

	tampered := callbackQuery(state)
	tampered.Set("code", "stolen")

	badState := callbackQuery(state + "x")

	missing := callbackQuery(state)
	missing.Del("code")

	for name, q := range map[string]url.Values{"tampered": tampered, "bad state": badState, "missing": missing} {
		t.Run(name, func(t *testing.T) {
			res, _ := fx.get(t, "/auth/callback?"+q.Encode(), nil)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}
	assert.Zero(t, fx.platform.exchangeCount())
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RegisterDefault()
	fx := newFixture(t, options{})
	fx.get(t, "/proxy?variant_id=1", shopHeader(shop))

	res, body := fx.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "stockproxy_http_requests_total")
	assert.Contains(t, body, `route="/proxy"`)
}

func TestWriteError_Shape(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	writeError(rec, req, &platform.ExchangeError{Status: 400, Reason: "bad code"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error\n", rec.Body.String())
}

package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/quipper/poc/stockproxy/pkg/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Shop = "demo.myshopify.com"
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.AppURL = "https://relay.example.com"
	require.NoError(t, cfg.Validate())
	return cfg
}

func serve(t *testing.T, h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuild_Defaults(t *testing.T) {
	a, err := build(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.close)

	assert.Equal(t, http.StatusOK, serve(t, a.router, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(t, a.router, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusFound, serve(t, a.router, http.MethodGet, "/auth/install?shop=demo.myshopify.com", nil).Code)

	// No admin token yet: the store check passes and the missing credential is a 500.
	rec := serve(t, a.router, http.MethodGet, "/proxy?variant_id=1", http.Header{"X-Shopify-Shop-Domain": {"demo.myshopify.com"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	rec = serve(t, a.router, http.MethodGet, "/proxy?variant_id=1", http.Header{"X-Shopify-Shop-Domain": {"other.myshopify.com"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBuild_StoreStrategyWithSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateStrategy = config.StateStrategyStore
	cfg.StateStore = "sqlite"
	cfg.StateSQLitePath = filepath.Join(t.TempDir(), "state.db")
	cfg.StateTTL = 0

	a, err := build(cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	assert.Equal(t, http.StatusFound, serve(t, a.router, http.MethodGet, "/auth/install?shop=demo.myshopify.com", nil).Code)
	_, err = os.Stat(cfg.StateSQLitePath)
	assert.NoError(t, err)
}

func TestBuild_SignedStrategyDoesNotOpenStateStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateStrategy = config.StateStrategySigned
	cfg.StateStore = "sqlite"
	cfg.StateSQLitePath = filepath.Join(t.TempDir(), "state.db")

	a, err := build(cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	assert.Equal(t, http.StatusOK, serve(t, a.router, http.MethodGet, "/healthz", nil).Code)
	_, err = os.Stat(cfg.StateSQLitePath)
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_BadEncoding(t *testing.T) {
	cfg := testConfig(t)
	cfg.HMACEncoding = "base64"
	_, err := build(cfg)
	assert.Error(t, err)
}

func TestWithCORS_Preflight(t *testing.T) {
	h := withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the router")
	}))
	rec := serve(t, h, http.MethodOptions, "/proxy", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

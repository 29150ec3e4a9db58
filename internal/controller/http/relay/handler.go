package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quipper/poc/stockproxy/internal/service/onboarding"
	"github.com/quipper/poc/stockproxy/pkg/common/apperr"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	"github.com/quipper/poc/stockproxy/pkg/common/sessiontoken"
	"github.com/quipper/poc/stockproxy/pkg/common/signature"
	"github.com/quipper/poc/stockproxy/pkg/platform"
)

// ShopHeader carries the requesting store domain on proxy calls.
const ShopHeader = "X-Shopify-Shop-Domain"

// InstallFlow is implemented by onboarding.Flow.
type InstallFlow interface {
	Install(ctx context.Context, shop string) (string, error)
	Callback(ctx context.Context, req onboarding.CallbackRequest) (string, error)
}

// StockService is implemented by stock.Service.
type StockService interface {
	Levels(ctx context.Context, requestShop, variantID string) ([]platform.InventoryLevel, error)
}

// Deps are the collaborators of Handler. Sessions and AppProxy are optional.
type Deps struct {
	Flow  InstallFlow
	Stock StockService
	// Sessions, when set, makes /proxy take the store from a verified session token
	// instead of the shop header.
	Sessions *sessiontoken.Verifier
	// AppProxy, when set, requires a valid app proxy "signature" on /proxy.
	AppProxy *signature.Verifier
	// Health reports backing store health for /healthz.
	Health func(ctx context.Context) error
}

type Handler struct {
	flow     InstallFlow
	stock    StockService
	sessions *sessiontoken.Verifier
	appProxy *signature.Verifier
	health   func(ctx context.Context) error
	now      func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		flow:     d.Flow,
		stock:    d.Stock,
		sessions: d.Sessions,
		appProxy: d.AppProxy,
		health:   d.Health,
		now:      time.Now,
	}
}

// Router returns the chi router with every relay endpoint.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(observe)

	r.Get("/", h.liveness)
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Get("/auth/install", h.install)
	r.Get(onboarding.CallbackPath, h.callback)

	r.With(h.requireAppProxySignature).Get("/proxy", h.proxy)
	return r
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("stockproxy is running"))
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			logger.Error("healthz [%s]: %v", RequestIDFrom(r.Context()), err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError maps err to a status. 5xx responses carry a generic text and the
// detail goes to the log only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s [%s]: %s: %v", r.Method, r.URL.Path, RequestIDFrom(r.Context()), apperr.KindOf(err), err)
	} else {
		logger.Debug("%s %s [%s]: %d %v", r.Method, r.URL.Path, RequestIDFrom(r.Context()), status, err)
	}
	http.Error(w, apperr.PublicMessage(err), status)
}

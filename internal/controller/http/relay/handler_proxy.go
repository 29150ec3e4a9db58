package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/apperr"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	"github.com/quipper/poc/stockproxy/pkg/common/sessiontoken"
	"github.com/quipper/poc/stockproxy/pkg/platform"
)

// appProxyMaxAge bounds the age of a signed app proxy request.
const appProxyMaxAge = 5 * time.Minute

type levelsResponse struct {
	Levels []platform.InventoryLevel `json:"levels"`
}

// proxy returns the per-location availability of ?variant_id= for the calling store.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request) {
	shop, err := h.requestShop(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	levels, err := h.stock.Levels(r.Context(), shop, r.URL.Query().Get("variant_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if levels == nil {
		levels = []platform.InventoryLevel{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(levelsResponse{Levels: levels})
}

// requestShop identifies the calling store. With session tokens configured the
// store comes from the verified token; otherwise from the shop header, or from the
// signed "shop" query parameter of an app proxy request.
func (h *Handler) requestShop(r *http.Request) (string, error) {
	if h.sessions != nil {
		raw, ok := sessiontoken.FromHeader(r.Header.Get("Authorization"))
		if !ok {
			metrics.AuthChecks.WithLabelValues("session_token", "missing").Inc()
			return "", apperr.Forbidden("Forbidden")
		}
		shop, err := h.sessions.Verify(raw)
		metrics.AuthChecks.WithLabelValues("session_token", metrics.Result(err == nil)).Inc()
		if err != nil {
			logger.Debug("proxy: %v", err)
			return "", apperr.Forbidden("Forbidden")
		}
		return shop, nil
	}
	shop := strings.TrimSpace(r.Header.Get(ShopHeader))
	if shop == "" && h.appProxy != nil {
		shop = r.URL.Query().Get("shop")
	}
	return shop, nil
}

// requireAppProxySignature rejects /proxy calls whose app proxy signature is
// missing, wrong or stale. It is a pass-through when no verifier is configured.
func (h *Handler) requireAppProxySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.appProxy == nil {
			next.ServeHTTP(w, r)
			return
		}
		q := r.URL.Query()
		ok := h.appProxy.Verify(q, q.Get("signature")) && h.freshTimestamp(q.Get("timestamp"))
		metrics.AuthChecks.WithLabelValues("app_proxy_signature", metrics.Result(ok)).Inc()
		if !ok {
			writeError(w, r, apperr.Forbidden("Invalid signature"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) freshTimestamp(v string) bool {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	age := h.now().Sub(time.Unix(sec, 0))
	return age <= appProxyMaxAge && age >= -appProxyMaxAge
}

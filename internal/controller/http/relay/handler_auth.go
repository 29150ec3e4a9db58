package relay

import (
	"net/http"
	"strings"

	"github.com/quipper/poc/stockproxy/internal/service/onboarding"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
)

// install starts the OAuth flow by redirecting the merchant to the platform's
// authorization page.
func (h *Handler) install(w http.ResponseWriter, r *http.Request) {
	shop := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("shop")))
	target, err := h.flow.Install(r.Context(), shop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
	logger.Debug("install: redirected shop=%s", shop)
}

// callback completes the OAuth flow. The signature covers the raw query exactly
// as received, so the shop is not normalized before verification.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg, err := h.flow.Callback(r.Context(), onboarding.CallbackRequest{
		Shop:  q.Get("shop"),
		HMAC:  q.Get("hmac"),
		Code:  q.Get("code"),
		State: q.Get("state"),
		Query: q,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(msg))
}

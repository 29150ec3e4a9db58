// Package onboarding runs the one-time OAuth install of the app on a store.
package onboarding

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/apperr"
	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	"github.com/quipper/poc/stockproxy/pkg/common/signature"
	"github.com/quipper/poc/stockproxy/pkg/oauthstate"
	credRepo "github.com/quipper/poc/stockproxy/pkg/repositories/credential"
)

// CallbackPath is where the platform redirects after the merchant approves the install.
const CallbackPath = "/auth/callback"

// MaxCallbackSkew bounds the age of the signed callback timestamp.
const MaxCallbackSkew = 24 * time.Hour

var shopPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*\.myshopify\.com$`)

// ValidShop reports whether shop looks like a platform store domain.
func ValidShop(shop string) bool { return shopPattern.MatchString(shop) }

// Platform is the subset of the platform client the flow needs.
type Platform interface {
	AuthorizeURL(shop, state, redirectURI string) string
	Exchange(ctx context.Context, shop, code string) (credRepo.Credential, error)
}

// Settings carries the OAuth client configuration.
type Settings struct {
	APIKey    string
	APISecret string
	AppURL    string
	// Shop is the configured store; installs for another store are logged.
	Shop string
}

func (s Settings) complete() bool {
	return s.APIKey != "" && s.APISecret != "" && s.AppURL != ""
}

// CallbackRequest is the query of an OAuth callback.
type CallbackRequest struct {
	Shop  string
	HMAC  string
	Code  string
	State string
	// Query is every query parameter as received, hmac included.
	Query map[string][]string
}

// Flow composes the signature verifier, state codec and token exchange.
type Flow struct {
	settings Settings
	codec    oauthstate.Codec
	verifier *signature.Verifier
	platform Platform
	creds    credRepo.Repository
	now      func() time.Time
}

func NewFlow(settings Settings, codec oauthstate.Codec, verifier *signature.Verifier, p Platform, creds credRepo.Repository) *Flow {
	return &Flow{settings: settings, codec: codec, verifier: verifier, platform: p, creds: creds, now: time.Now}
}

// WithClock replaces time.Now; intended for tests.
func (f *Flow) WithClock(now func() time.Time) *Flow {
	f.now = now
	return f
}

// Install returns the authorization URL the merchant must be redirected to.
func (f *Flow) Install(ctx context.Context, shop string) (string, error) {
	if shop == "" {
		return "", apperr.BadRequest("Missing shop parameter")
	}
	if !ValidShop(shop) {
		return "", apperr.BadRequest("Invalid shop parameter")
	}
	if !f.settings.complete() {
		return "", apperr.Unconfigured("OAuth is not configured")
	}
	state, err := f.codec.Issue(ctx, shop)
	if err != nil {
		return "", apperr.Internal("issue state", err)
	}
	return f.platform.AuthorizeURL(shop, state, f.settings.AppURL+CallbackPath), nil
}

// Callback validates the platform's redirect, exchanges the code and stores the
// resulting credential. No exchange is attempted unless both the HMAC and the
// state check pass.
func (f *Flow) Callback(ctx context.Context, req CallbackRequest) (string, error) {
	if req.Shop == "" || req.HMAC == "" || req.Code == "" || req.State == "" {
		return "", apperr.BadRequest("Missing required parameters")
	}
	if !f.settings.complete() {
		return "", apperr.Unconfigured("OAuth is not configured")
	}
	if !ValidShop(req.Shop) {
		return "", apperr.BadRequest("Invalid shop parameter")
	}

	hmacOK := f.verifier.Verify(req.Query, req.HMAC)
	metrics.AuthChecks.WithLabelValues("callback_hmac", metrics.Result(hmacOK)).Inc()
	if !hmacOK {
		logger.Info("callback: invalid hmac shop=%s", req.Shop)
		return "", apperr.BadRequest("Invalid HMAC")
	}
	if err := f.checkTimestamp(req.Query); err != nil {
		return "", err
	}

	stateOK, err := f.codec.Redeem(ctx, req.State, req.Shop)
	if err != nil {
		return "", apperr.Internal("redeem state", err)
	}
	metrics.AuthChecks.WithLabelValues("state", metrics.Result(stateOK)).Inc()
	if !stateOK {
		logger.Info("callback: invalid state shop=%s", req.Shop)
		return "", apperr.BadRequest("Invalid state")
	}

	cred, err := f.platform.Exchange(ctx, req.Shop, req.Code)
	if err != nil {
		return "", apperr.Internal("token exchange failed", err)
	}
	if err := f.creds.Set(ctx, cred); err != nil {
		return "", apperr.Internal("store credential", err)
	}
	if f.settings.Shop != "" && f.settings.Shop != req.Shop {
		logger.Warn("callback: installed for %s but proxy serves %s", req.Shop, f.settings.Shop)
	}
	logger.Info("callback: app installed shop=%s scope=%q", req.Shop, cred.Scope)
	return fmt.Sprintf("App installed for %s. The inventory proxy is ready; you can close this window.", req.Shop), nil
}

// checkTimestamp rejects callbacks whose signed timestamp is far from now. A
// callback without a timestamp is accepted.
func (f *Flow) checkTimestamp(query map[string][]string) error {
	vals := query["timestamp"]
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return nil
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(vals[0]), 10, 64)
	if err != nil {
		return apperr.BadRequest("Invalid timestamp")
	}
	skew := f.now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxCallbackSkew {
		return apperr.BadRequest("Expired request")
	}
	return nil
}

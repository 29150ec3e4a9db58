package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	credRepo "github.com/quipper/poc/stockproxy/pkg/repositories/credential"
)

type exchangeRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// Exchange trades an authorization code for an offline admin access token. It makes
// exactly one attempt; persisting the result is up to the caller.
func (c *Client) Exchange(ctx context.Context, shop, code string) (cred credRepo.Credential, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.UpstreamRequests.WithLabelValues("token_exchange", outcome).Inc()
	}()

	body, err := json.Marshal(exchangeRequest{ClientID: c.apiKey, ClientSecret: c.apiSecret, Code: code})
	if err != nil {
		return credRepo.Credential{}, fmt.Errorf("marshal exchange request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.shopURL(shop)+"/admin/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return credRepo.Credential{}, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return credRepo.Credential{}, &ExchangeError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return credRepo.Credential{}, &ExchangeError{Status: resp.StatusCode, Reason: "read body: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credRepo.Credential{}, &ExchangeError{Status: resp.StatusCode, Reason: truncate(string(raw), 512)}
	}
	var tok exchangeResponse
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return credRepo.Credential{}, &ExchangeError{Status: resp.StatusCode, Reason: "response has no access_token"}
	}
	return credRepo.Credential{
		SubjectID:   shop,
		AccessToken: tok.AccessToken,
		Scope:       tok.Scope,
		ObtainedAt:  time.Now(),
	}, nil
}

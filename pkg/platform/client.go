// Package platform talks to the commerce platform: the OAuth endpoints used during
// install and the GraphQL admin API used to read inventory.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/metrics"
	"golang.org/x/oauth2"
)

const maxResponseBody = 4 << 20

// Options configures a Client.
type Options struct {
	APIKey     string
	APISecret  string
	APIVersion string
	Scopes     string
	// LocationIDs restricts ResolveLevels to these locations when non-empty.
	// Numeric ids are accepted and compared as Location GIDs.
	LocationIDs []string
	// BaseURL replaces "https://{shop}" for every call. Used by tests.
	BaseURL string
	HTTP    *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	apiKey     string
	apiSecret  string
	apiVersion string
	scopes     string
	allow      map[string]struct{}
	baseURL    string
	http       *http.Client
}

func NewClient(o Options) *Client {
	c := &Client{
		apiKey:     o.APIKey,
		apiSecret:  o.APISecret,
		apiVersion: o.APIVersion,
		scopes:     o.Scopes,
		baseURL:    strings.TrimRight(o.BaseURL, "/"),
		http:       o.HTTP,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if len(o.LocationIDs) > 0 {
		c.allow = make(map[string]struct{}, len(o.LocationIDs))
		for _, id := range o.LocationIDs {
			c.allow[LocationGID(id)] = struct{}{}
		}
	}
	return c
}

func (c *Client) shopURL(shop string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + shop
}

// AuthorizeURL builds the authorization redirect for shop.
func (c *Client) AuthorizeURL(shop, state, redirectURI string) string {
	base := c.shopURL(shop)
	conf := &oauth2.Config{
		ClientID:    c.apiKey,
		Endpoint:    oauth2.Endpoint{AuthURL: base + "/admin/oauth/authorize", TokenURL: base + "/admin/oauth/access_token"},
		RedirectURL: redirectURI,
	}
	// The platform expects one comma separated scope value.
	if c.scopes != "" {
		conf.Scopes = []string{c.scopes}
	}
	return conf.AuthCodeURL(state)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// graphQL posts a query and decodes the "data" member into out.
func (c *Client) graphQL(ctx context.Context, op, shop, token, query string, vars map[string]any, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.UpstreamRequests.WithLabelValues(op, outcome).Inc()
	}()

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.shopURL(shop), c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: "invalid JSON: " + string(raw)}
	}
	if hasErrors(gr.Errors) {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Errors: gr.Errors}
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: "response without data"}
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: "unexpected data shape: " + err.Error()}
	}
	return nil
}

func hasErrors(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "[]"
}

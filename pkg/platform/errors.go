package platform

import (
	"encoding/json"
	"fmt"
)

// ExchangeError reports a failed authorization-code exchange.
type ExchangeError struct {
	Status int
	Reason string
}

func (e *ExchangeError) Error() string {
	if e.Status == 0 {
		return "token exchange: " + e.Reason
	}
	return fmt.Sprintf("token exchange: status %d: %s", e.Status, e.Reason)
}

// UpstreamError reports a non-success or error-bearing GraphQL response.
type UpstreamError struct {
	Op     string
	Status int
	// Errors is the raw GraphQL "errors" member when present.
	Errors json.RawMessage
	Body   string
}

func (e *UpstreamError) Error() string {
	detail := e.Body
	if len(e.Errors) > 0 {
		detail = string(e.Errors)
	}
	return fmt.Sprintf("platform %s: status %d: %s", e.Op, e.Status, truncate(detail, 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

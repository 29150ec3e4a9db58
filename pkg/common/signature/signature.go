// Package signature verifies HMAC-SHA256 signatures that the commerce platform attaches
// to query strings (OAuth callbacks, app proxy requests).
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Encoding selects how keys and values are escaped while building the signed message.
type Encoding int

const (
	// EncodeDelimiters escapes only the characters that would make the message
	// ambiguous: '%' and '&' in keys and values, '=' in keys.
	EncodeDelimiters Encoding = iota
	// EncodeNone writes keys and values verbatim.
	EncodeNone
	// EncodeQuery applies url.QueryEscape to values.
	EncodeQuery
)

// ParseEncoding maps a configuration value to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delimiters":
		return EncodeDelimiters, nil
	case "none", "raw":
		return EncodeNone, nil
	case "query", "percent":
		return EncodeQuery, nil
	}
	return 0, fmt.Errorf("unknown signature encoding %q", s)
}

// Reserved parameters never take part in the signed message.
var reserved = map[string]struct{}{"hmac": {}, "signature": {}}

// Verifier signs and verifies parameter sets with a shared secret.
type Verifier struct {
	Secret   []byte
	Encoding Encoding
	// Separator joins the key=value pairs.
	Separator string
}

// NewOAuthVerifier returns the verifier used for OAuth callback query strings.
func NewOAuthVerifier(secret string, enc Encoding) *Verifier {
	return &Verifier{Secret: []byte(secret), Encoding: enc, Separator: "&"}
}

// NewAppProxyVerifier returns the verifier for app proxy requests, whose pairs are
// concatenated without a separator and never escaped.
func NewAppProxyVerifier(secret string) *Verifier {
	return &Verifier{Secret: []byte(secret), Encoding: EncodeNone, Separator: ""}
}

// Message builds the canonical byte string for params.
func (v *Verifier) Message(params map[string][]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		if _, skip := reserved[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		val := strings.Join(params[k], ",")
		pairs = append(pairs, v.escapeKey(k)+"="+v.escapeValue(val))
	}
	return []byte(strings.Join(pairs, v.Separator))
}

func (v *Verifier) escapeKey(k string) string {
	if v.Encoding != EncodeDelimiters {
		return k
	}
	return strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D").Replace(k)
}

func (v *Verifier) escapeValue(s string) string {
	switch v.Encoding {
	case EncodeDelimiters:
		return strings.NewReplacer("%", "%25", "&", "%26").Replace(s)
	case EncodeQuery:
		return url.QueryEscape(s)
	default:
		return s
	}
}

// Sign returns the lowercase hex HMAC-SHA256 over the canonical message.
func (v *Verifier) Sign(params map[string][]string) string {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(v.Message(params))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of params. It fails closed on
// an empty secret or signature and never panics.
func (v *Verifier) Verify(params map[string][]string, provided string) bool {
	if v == nil || len(v.Secret) == 0 || provided == "" {
		return false
	}
	return Equal(v.Sign(params), strings.ToLower(strings.TrimSpace(provided)))
}

// Equal compares two hex signatures in constant time; differing lengths never match.
func Equal(expected, provided string) bool {
	if len(expected) != len(provided) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// HMACHex returns hex(HMAC-SHA256(secret, msg)).
func HMACHex(secret []byte, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Package identifier derives a fallback user identifier for requests that
// carry no authenticated user id.
package identifier

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// HeaderReader is the single capability the derivation needs from a request,
// so it stays testable without a real HTTP request object.
type HeaderReader interface {
	Get(name string) string
}

// HeaderMap adapts a plain map to HeaderReader for tests and non-HTTP callers.
type HeaderMap map[string]string

func (m HeaderMap) Get(name string) string { return m[strings.ToLower(name)] }

// ipHeaders in precedence order.
var ipHeaders = []string{"x-forwarded-for", "x-real-ip", "x-client-ip"}

// Fallback derives a non-reversible request-scoped identifier from the client
// IP, the current time, and fresh randomness. The result is stable in shape
// ("fallback_" + 16 hex chars), never stable in value.
func Fallback(headers HeaderReader) string {
	ip := clientIP(headers)

	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)

	sum := sha256.Sum256(fmt.Appendf(nil, "%s_%d_%s", ip, time.Now().UnixMilli(), hex.EncodeToString(nonce)))
	return "fallback_" + hex.EncodeToString(sum[:])[:16]
}

func clientIP(headers HeaderReader) string {
	if headers == nil {
		return "unknown"
	}
	for _, name := range ipHeaders {
		if v := headers.Get(name); v != "" {
			// x-forwarded-for may carry a proxy chain; the client is first.
			if first, _, found := strings.Cut(v, ","); found {
				return strings.TrimSpace(first)
			}
			return strings.TrimSpace(v)
		}
	}
	return "unknown"
}

// Package ratelimit implements fixed-window request budgets keyed by client.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marcelsud/webhook-relay/auth"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Rule is a named budget of Max requests per Window.
type Rule struct {
	Name   string
	Window time.Duration
	Max    int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// Remaining is how many requests are left in the current window.
func (d Decision) Remaining() int {
	if n := d.Limit - d.Count; n > 0 {
		return n
	}
	return 0
}

// Limiter counts a request against rule for key.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Rules holds the named budgets used by the HTTP layer.
type Rules struct {
	Webhook        Rule
	Admin          Rule
	ProcessEvents  Rule
	BackgroundJobs Rule
	Signature      Rule
}

// DefaultRules returns the per-minute budgets for each surface.
func DefaultRules() Rules {
	return Rules{
		Webhook:        Rule{Name: "webhook", Window: time.Minute, Max: 100},
		Admin:          Rule{Name: "admin", Window: time.Minute, Max: 50},
		ProcessEvents:  Rule{Name: "process-events", Window: time.Minute, Max: 10},
		BackgroundJobs: Rule{Name: "background-jobs", Window: time.Minute, Max: 20},
		Signature:      Rule{Name: "signature", Window: time.Minute, Max: 200},
	}
}

// ClientKey identifies the caller: the hashed API key when one is given,
// otherwise the client IP.
func ClientKey(r *http.Request, apiKey string) string {
	if apiKey != "" {
		return "key:" + auth.HashKey(apiKey)
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetHeaders writes the X-RateLimit-* headers for d.
func SetHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining()))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

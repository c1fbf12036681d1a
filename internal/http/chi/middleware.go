package chi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/marcelsud/webhook-relay/internal/apperr"
	"github.com/marcelsud/webhook-relay/internal/logger"
	"github.com/marcelsud/webhook-relay/ratelimit"
	"github.com/marcelsud/webhook-relay/webhook/signature"
)

const (
	headerAPIKey   = "X-API-Key"
	headerAdminKey = "X-Admin-Key"
	queryAPIKey    = "api_key"
)

type ctxKey int

const credentialKey ctxKey = iota

// credential returns the API key the request authenticated with.
func credential(r *http.Request) string {
	key, _ := r.Context().Value(credentialKey).(string)
	return key
}

// clientFunc derives the rate-limit key for a request.
type clientFunc func(r *http.Request) string

func apiKeyClient(r *http.Request) string {
	return ratelimit.ClientKey(r, credential(r))
}

func ipClient(r *http.Request) string {
	return ratelimit.ClientKey(r, "")
}

func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects requests without a usable API key.
// allowQuery also accepts ?api_key= for callers that cannot set headers.
func requireAPIKey(d Deps, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerAPIKey)
			if key == "" && allowQuery {
				key = r.URL.Query().Get(queryAPIKey)
			}
			if key == "" {
				apperr.Write(w, apperr.Authentication("API key required"))
				return
			}
			if _, ok := d.Auth.ValidateAPIKey(r.Context(), key); !ok {
				d.Logger.Warn().
					Str("api_key", logger.MaskKey(key)).
					Str("path", r.URL.Path).
					Interface("headers", logger.SafeHeaders(requestHeaders(r))).
					Msg("rejected api key")
				apperr.Write(w, apperr.Authentication("Invalid or expired API key"))
				return
			}
			ctx := context.WithValue(r.Context(), credentialKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireAdminKey(d Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !d.Auth.ValidateAdminKey(r.Header.Get(headerAdminKey)) {
				apperr.Write(w, apperr.Authorization("Admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit counts the request against rule. Limiter failures let the request through.
func rateLimit(d Deps, rule ratelimit.Rule, client clientFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d.Limiter == nil || rule.Max <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := d.Limiter.Allow(r.Context(), client(r), rule)
			if err != nil {
				d.Logger.Error().Err(err).Str("rule", rule.Name).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			ratelimit.SetHeaders(w, decision)
			if !decision.Allowed {
				d.Recorder.RateLimited(r.Context(), rule.Name)
				apperr.Write(w, apperr.RateLimited(decision.Limit, decision.ResetAt))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// verifySignature checks the raw body against the shared webhook secret.
// The body is buffered and handed on unchanged.
func verifySignature(d Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !d.Signature.enabled() {
			return next
		}
		limited := rateLimit(d, d.Rules.Signature, ipClient)

		return limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readBody(w, r)
			if err != nil {
				apperr.Write(w, err)
				return
			}

			provided := r.Header.Get(signature.HeaderName)
			if provided == "" {
				provided = r.Header.Get(signature.GitHubHeaderName)
			}

			if err := signature.Verify(body, provided, d.Signature.Secret); err != nil {
				msg := "invalid signature"
				if errors.Is(err, signature.ErrSignatureRequired) {
					msg = "signature required"
				}
				d.Logger.Warn().Str("path", r.URL.Path).Msg(msg)
				apperr.Write(w, apperr.Authentication(msg))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		}))
	}
}

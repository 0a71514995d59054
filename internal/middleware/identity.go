package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/sirupsen/logrus"
)

type contextKey int

const (
	identityKey contextKey = iota
	requestIDKey
)

// Headers carrying the externally-parsed identity assertion. An upstream
// auth proxy is trusted to have validated the account cookie.
const (
	headerRegistered = "X-Auth-Registered"
	headerUser       = "X-Auth-User"
)

// IdentityFrom returns the resolved caller identity from the request context
func IdentityFrom(ctx context.Context) models.Identity {
	if id, ok := ctx.Value(identityKey).(models.Identity); ok {
		return id
	}
	return models.Identity{}
}

// RequestIDFrom returns the request id from the request context
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ResolveIdentity classifies the caller as registered (by account identity)
// or anonymous (by network address) and attaches the result plus a request
// id to the context
func ResolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := models.Identity{Address: clientAddress(r)}
		if strings.EqualFold(r.Header.Get(headerRegistered), "true") {
			if email := strings.TrimSpace(r.Header.Get(headerUser)); email != "" {
				id.Registered = true
				id.Email = email
			}
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		ctx = context.WithValue(ctx, requestIDKey, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientAddress resolves the caller's network address, preferring
// proxy-forwarded headers over the socket peer
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestLogging logs each request with timing and identity fields
func RequestLogging(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			id := IdentityFrom(r.Context())
			logger.WithFields(logrus.Fields{
				"request_id": RequestIDFrom(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"identity":   id.Key(),
				"registered": id.Registered,
				"elapsed":    time.Since(start),
			}).Info("Request handled")
		})
	}
}

// CORS attaches cross-origin headers for the configured origin
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Registered, X-Auth-User")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/legal-qa-backend-go/internal/models"
	"github.com/stretchr/testify/assert"
)

func resolveFor(t *testing.T, prepare func(r *http.Request)) models.Identity {
	t.Helper()
	var got models.Identity
	handler := ResolveIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFrom(r.Context())
	}))

	req := httptest.NewRequest("POST", "/api/ask", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	prepare(req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestResolveAnonymousByRemoteAddr(t *testing.T) {
	id := resolveFor(t, func(r *http.Request) {})
	assert.False(t, id.Registered)
	assert.Equal(t, "192.0.2.10", id.Address)
	assert.Equal(t, "192.0.2.10", id.Key())
}

func TestResolvePrefersForwardedFor(t *testing.T) {
	id := resolveFor(t, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	})
	assert.Equal(t, "203.0.113.7", id.Address)
}

func TestResolveRegisteredIdentity(t *testing.T) {
	id := resolveFor(t, func(r *http.Request) {
		r.Header.Set("X-Auth-Registered", "true")
		r.Header.Set("X-Auth-User", "a@example.com")
	})
	assert.True(t, id.Registered)
	assert.Equal(t, "a@example.com", id.Email)
	assert.Equal(t, "a@example.com", id.Key())
}

func TestRegisteredFlagWithoutUserIsAnonymous(t *testing.T) {
	id := resolveFor(t, func(r *http.Request) {
		r.Header.Set("X-Auth-Registered", "true")
	})
	assert.False(t, id.Registered)
	assert.Equal(t, "192.0.2.10", id.Key())
}

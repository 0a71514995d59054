package quota

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/legal-qa-backend-go/internal/services/counter"
	"github.com/sirupsen/logrus"
)

// Decision is the outcome of the anonymous free-quota gate
type Decision struct {
	Blocked   bool
	Unlimited bool
	// Used is the counter value including the slot reserved for this
	// request. Only meaningful for anonymous callers.
	Used      int64
	Remaining int64
	// Reserved reports whether a slot was taken in the counter store and
	// must be released if the request fails before producing an answer.
	Reserved bool
}

type tokenClaims struct {
	Count int64 `json:"cnt"`
	jwt.RegisteredClaims
}

// Tracker meters anonymous free-question consumption. The durable counter is
// a server-signed token held by the client and refreshed on every successful
// anonymous response; a shared counter store guards against concurrent
// double-spend of the last slot within the token window.
type Tracker struct {
	store      counter.Store
	secret     []byte
	freeLimit  int64
	tokenTTL   time.Duration
	cookieName string
	logger     *logrus.Logger
}

// NewTracker creates a quota tracker
func NewTracker(cfg *config.QuotaConfig, store counter.Store, logger *logrus.Logger) *Tracker {
	return &Tracker{
		store:      store,
		secret:     []byte(cfg.SigningSecret),
		freeLimit:  cfg.FreeLimit,
		tokenTTL:   cfg.TokenTTL,
		cookieName: cfg.CookieName,
		logger:     logger,
	}
}

// FreeLimit returns the configured anonymous question allowance
func (t *Tracker) FreeLimit() int64 {
	return t.freeLimit
}

// CookieName returns the name of the client-held counter cookie
func (t *Tracker) CookieName() string {
	return t.cookieName
}

// IssueToken signs a counter token carrying the given consumed count
func (t *Tracker) IssueToken(count int64) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Count: count,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ParseToken extracts the consumed count from a counter token. Invalid,
// tampered or expired tokens count as zero, which implicitly resets the
// allowance after the token window.
func (t *Tracker) ParseToken(raw string) int64 {
	if raw == "" {
		return 0
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		t.logger.WithError(err).Debug("Rejected quota token")
		return 0
	}

	if claims.Count < 0 {
		return 0
	}
	return claims.Count
}

// ReadCount extracts the client-held counter from the request, zero if absent
func (t *Tracker) ReadCount(r *http.Request) int64 {
	cookie, err := r.Cookie(t.cookieName)
	if err != nil {
		return 0
	}
	return t.ParseToken(cookie.Value)
}

// SetCookie refreshes the client-held counter token on a response
func (t *Tracker) SetCookie(w http.ResponseWriter, count int64) error {
	token, err := t.IssueToken(count)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     t.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(t.tokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (t *Tracker) storeKey(id models.Identity) string {
	return "freeq:" + id.Address
}

// Gate decides whether the caller may consume a free question. For anonymous
// callers it atomically reserves a slot in the counter store; the reservation
// must be released with Release if the request fails before an answer is
// produced, so the counter only advances on billable answers.
func (t *Tracker) Gate(ctx context.Context, id models.Identity, clientCount int64) Decision {
	if id.Registered {
		return Decision{Unlimited: true}
	}

	key := t.storeKey(id)

	// Fold the client-reported floor in first so a fresh store (or a
	// caller returning after a store restart) cannot regain spent slots.
	if err := t.store.SetMax(ctx, key, clientCount, t.tokenTTL); err != nil {
		t.logger.WithError(err).Warn("Failed to merge client quota count")
	}

	n, err := t.store.Incr(ctx, key, t.tokenTTL)
	if err != nil {
		// Counter store unavailable: fall back to the client-held count
		// alone. Concurrent double-spend protection is lost until the
		// store recovers.
		t.logger.WithError(err).Error("Quota counter store unavailable")
		if clientCount >= t.freeLimit {
			return Decision{Blocked: true, Used: t.freeLimit}
		}
		return Decision{Used: clientCount + 1, Remaining: t.freeLimit - clientCount - 1}
	}

	if n > t.freeLimit {
		// Over the limit: hand the reserved slot back so the counter
		// stays pinned at the limit.
		if _, err := t.store.Decr(ctx, key); err != nil {
			t.logger.WithError(err).Warn("Failed to release over-limit reservation")
		}
		return Decision{Blocked: true, Used: t.freeLimit}
	}

	return Decision{Used: n, Remaining: t.freeLimit - n, Reserved: true}
}

// Release hands back a reserved slot after a failed request
func (t *Tracker) Release(ctx context.Context, id models.Identity) {
	if id.Registered {
		return
	}
	if _, err := t.store.Decr(ctx, t.storeKey(id)); err != nil {
		t.logger.WithError(err).Warn("Failed to release quota reservation")
	}
}

package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/legal-qa-backend-go/internal/services/counter"
	"github.com/sirupsen/logrus"
)

// Tier names used in counter keys and metrics
const (
	TierAnonymous  = "anon"
	TierRegistered = "reg"
)

// RateLimiter is admission control for incoming requests. It is evaluated
// before any cost-incurring work.
type RateLimiter interface {
	Admit(ctx context.Context, id models.Identity) models.RateLimitDecision
}

type tier struct {
	name     string
	requests int
	window   time.Duration
}

// WindowLimiter implements fixed-window rate limiting on the shared counter
// store, with independent budgets for anonymous callers (keyed by network
// address) and registered callers (keyed by account identity)
type WindowLimiter struct {
	enabled    bool
	store      counter.Store
	anonymous  tier
	registered tier
	metrics    *Metrics
	logger     *logrus.Logger
}

// NewRateLimiter creates a two-tier rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, store counter.Store, metrics *Metrics, logger *logrus.Logger) RateLimiter {
	if !cfg.Enabled {
		return &WindowLimiter{enabled: false}
	}
	return &WindowLimiter{
		enabled:    true,
		store:      store,
		anonymous:  tier{name: TierAnonymous, requests: cfg.Anonymous.Requests, window: cfg.Anonymous.Window},
		registered: tier{name: TierRegistered, requests: cfg.Registered.Requests, window: cfg.Registered.Window},
		metrics:    metrics,
		logger:     logger,
	}
}

// Admit decides whether a request may proceed and with what budget left
func (l *WindowLimiter) Admit(ctx context.Context, id models.Identity) models.RateLimitDecision {
	if !l.enabled {
		return models.RateLimitDecision{Allowed: true, Remaining: 1}
	}

	t := l.anonymous
	if id.Registered {
		t = l.registered
	}

	now := time.Now()
	windowStart := now.Truncate(t.window)
	resetAt := windowStart.Add(t.window)
	key := fmt.Sprintf("rl:%s:%s:%d", t.name, id.Key(), windowStart.Unix())

	n, err := l.store.Incr(ctx, key, t.window+time.Second)
	if err != nil {
		// Fail open: an unavailable counter store should not take the
		// service down with it.
		l.logger.WithError(err).Error("Rate limit counter store unavailable")
		return models.RateLimitDecision{Allowed: true, Limit: t.requests, Remaining: t.requests, ResetAt: resetAt}
	}

	remaining := t.requests - int(n)
	if remaining < 0 {
		remaining = 0
	}

	decision := models.RateLimitDecision{
		Allowed:   n <= int64(t.requests),
		Limit:     t.requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !decision.Allowed {
		l.logger.WithFields(logrus.Fields{
			"tier":     t.name,
			"identity": id.Key(),
		}).Warn("Rate limit exceeded")
		if l.metrics != nil {
			l.metrics.RecordRateLimitDenied(t.name)
		}
	}

	return decision
}

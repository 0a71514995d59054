package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/i18n"
	"github.com/legal-qa-backend-go/internal/middleware"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/legal-qa-backend-go/internal/services/cache"
	"github.com/legal-qa-backend-go/internal/services/conversation"
	"github.com/legal-qa-backend-go/internal/services/provider"
	"github.com/legal-qa-backend-go/internal/services/quota"
	"github.com/legal-qa-backend-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

const remainingUnlimited = "unlimited"

// AnswerHandler orchestrates the answer-resolution pipeline: admission
// control, quota gating, cache lookup, provider invocation, conversation
// recording and response assembly
type AnswerHandler struct {
	config      *config.Config
	provider    provider.Service
	cache       cache.Service
	quota       *quota.Tracker
	recorder    *conversation.Recorder
	rateLimiter middleware.RateLimiter
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

// NewAnswerHandler creates the answer endpoint handler
func NewAnswerHandler(
	cfg *config.Config,
	providerService provider.Service,
	cacheService cache.Service,
	quotaTracker *quota.Tracker,
	recorder *conversation.Recorder,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *AnswerHandler {
	return &AnswerHandler{
		config:      cfg,
		provider:    providerService,
		cache:       cacheService,
		quota:       quotaTracker,
		recorder:    recorder,
		rateLimiter: rateLimiter,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleAsk processes an answer request
func (h *AnswerHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := middleware.IdentityFrom(ctx)
	lang := requestLanguage(r)
	log := logger.WithRequest(h.logger, middleware.RequestIDFrom(ctx), id.Key())

	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: h.localizer.Get(lang, i18n.MsgEmptyQuestion, nil),
		})
		return
	}
	question := strings.TrimSpace(req.Message)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: h.localizer.Get(lang, i18n.MsgEmptyQuestion, nil),
		})
		return
	}

	// Admission control runs ahead of all cost-incurring work. A denied
	// request never reads or advances the free-question counter.
	decision := h.rateLimiter.Admit(ctx, id)
	if decision.Limit > 0 {
		writeRateLimitHeaders(w, decision)
	}
	if !decision.Allowed {
		h.metrics.RecordAnswerRequest("rate_limited")
		w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(decision.ResetAt).Seconds())+1, 10))
		writeJSON(w, http.StatusTooManyRequests, models.RateLimitedResponse{
			Error:     "rate_limited",
			Message:   h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil),
			Limit:     decision.Limit,
			Remaining: decision.Remaining,
			ResetAt:   decision.ResetAt.Unix(),
		})
		return
	}

	// Anonymous free-quota gate, before cache and provider
	clientCount := h.quota.ReadCount(r)
	gate := h.quota.Gate(ctx, id, clientCount)
	if gate.Blocked {
		h.metrics.RecordQuotaBlocked()
		h.metrics.RecordAnswerRequest("quota_blocked")
		log.WithField("q_used", gate.Used).Info("Free quota exhausted")
		writeJSON(w, http.StatusOK, models.SignupRequiredResponse{
			NeedSignup: true,
			Message:    h.localizer.Get(lang, i18n.MsgNeedSignup, nil),
			QUsed:      gate.Used,
			Remaining:  0,
		})
		return
	}

	start := time.Now()
	answer, tokensUsed, cached, err := h.resolveAnswer(r, question)
	if err != nil {
		if gate.Reserved {
			h.quota.Release(ctx, id)
		}
		h.metrics.RecordAnswerRequest("error")
		log.WithError(err).Error("Failed to resolve answer")
		// No upstream detail crosses this boundary
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: h.localizer.Get(lang, i18n.MsgInternalError, nil),
		})
		return
	}
	elapsed := time.Since(start)
	h.metrics.RecordAnswerDuration(cached, elapsed)

	// Recording is best-effort and must never change the outcome
	var sessionID int64
	if id.Registered {
		sid, err := h.recorder.EnsureSession(ctx, id.Email, req.SessionID, question)
		if err != nil {
			log.WithError(err).Error("Failed to ensure conversation session")
			h.metrics.RecordRecordingFailure()
		} else {
			sessionID = sid
			h.recorder.RecordAsync(id.Email, sessionID, question, answer, models.MessageMeta{
				TokensUsed:     tokensUsed,
				ResponseTimeMs: elapsed.Milliseconds(),
				WasCached:      cached,
			})
		}
	}

	resp := models.AskResponse{
		Success:   true,
		Response:  answer,
		Cached:    cached,
		SessionID: sessionID,
		Remaining: remainingUnlimited,
	}
	if !id.Registered {
		resp.QUsed = gate.Used
		resp.Remaining = gate.Remaining
		if err := h.quota.SetCookie(w, gate.Used); err != nil {
			log.WithError(err).Error("Failed to refresh quota token")
		}
	}

	h.metrics.RecordAnswerRequest("success")
	writeJSON(w, http.StatusOK, resp)
}

// resolveAnswer serves from cache or invokes the provider on a miss
func (h *AnswerHandler) resolveAnswer(r *http.Request, question string) (string, int, bool, error) {
	ctx := r.Context()

	if entry, hit := h.cache.Lookup(ctx, question); hit {
		h.metrics.RecordCacheHit()
		return entry.Answer, 0, true, nil
	}
	h.metrics.RecordCacheMiss()

	start := time.Now()
	completion, err := h.provider.Complete(ctx, question)
	if err != nil {
		status := "error"
		if errors.Is(err, provider.ErrMissingCredentials) {
			status = "unconfigured"
		}
		h.metrics.RecordProviderRequest(status, time.Since(start))
		return "", 0, false, fmt.Errorf("completion failed: %w", err)
	}
	h.metrics.RecordProviderRequest("success", time.Since(start))

	if err := h.cache.Store(ctx, question, completion.Answer); err != nil {
		// The answer is already in hand; a failed store only costs the
		// next caller a provider call.
		h.logger.WithError(err).Warn("Failed to store answer in cache")
	}

	return completion.Answer, completion.TokensUsed, false, nil
}

func writeRateLimitHeaders(w http.ResponseWriter, d models.RateLimitDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

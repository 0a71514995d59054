package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/legal-qa-backend-go/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	titleMaxRunes = 50
	fallbackTitle = "New conversation"
)

// FailureObserver is notified when a best-effort recording fails
type FailureObserver interface {
	RecordRecordingFailure()
}

// Recorder folds exchanges into conversation sessions. Recording is
// best-effort: failures are logged and counted, never surfaced to the
// request that triggered them.
type Recorder struct {
	store    *Store
	timeout  time.Duration
	observer FailureObserver
	logger   *logrus.Logger
	pending  sync.WaitGroup
}

// NewRecorder creates a conversation recorder
func NewRecorder(store *Store, timeout time.Duration, observer FailureObserver, logger *logrus.Logger) *Recorder {
	return &Recorder{
		store:    store,
		timeout:  timeout,
		observer: observer,
		logger:   logger,
	}
}

// TitleFromSeed derives a session title from the first user message
func TitleFromSeed(seed string) string {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return fallbackTitle
	}
	runes := []rune(seed)
	if len(runes) <= titleMaxRunes {
		return seed
	}
	return string(runes[:titleMaxRunes]) + "…"
}

// EnsureSession returns the session to record into, creating one titled from
// the seed when no existing id is supplied. A supplied id is used as-is;
// ownership is enforced by the store on append.
func (r *Recorder) EnsureSession(ctx context.Context, ownerID string, existingID int64, seed string) (int64, error) {
	if existingID > 0 {
		return existingID, nil
	}
	sess, err := r.store.CreateSession(ctx, ownerID, TitleFromSeed(seed))
	if err != nil {
		return 0, err
	}
	return sess.ID, nil
}

// RecordAsync appends the user question and assistant answer to the session
// in a detached task. It returns immediately; failures are absorbed.
func (r *Recorder) RecordAsync(ownerID string, sessionID int64, question, answer string, meta models.MessageMeta) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.store.AppendMessage(ctx, ownerID, sessionID, models.RoleUser, question, models.MessageMeta{}); err != nil {
			r.fail(ownerID, sessionID, err)
			return
		}
		if err := r.store.AppendMessage(ctx, ownerID, sessionID, models.RoleAssistant, answer, meta); err != nil {
			r.fail(ownerID, sessionID, err)
		}
	}()
}

// Wait blocks until all dispatched recordings have finished. Used on
// shutdown and in tests.
func (r *Recorder) Wait() {
	r.pending.Wait()
}

func (r *Recorder) fail(ownerID string, sessionID int64, err error) {
	r.logger.WithError(err).WithFields(logrus.Fields{
		"owner_id":   ownerID,
		"session_id": sessionID,
	}).Error("Failed to record conversation exchange")
	if r.observer != nil {
		r.observer.RecordRecordingFailure()
	}
}

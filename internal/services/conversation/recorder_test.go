package conversation

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legal-qa-backend-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	failures int32
}

func (o *countingObserver) RecordRecordingFailure() {
	atomic.AddInt32(&o.failures, 1)
}

func newTestRecorder(t *testing.T) (*Recorder, *Store, *countingObserver) {
	t.Helper()
	store := newTestStore(t)
	observer := &countingObserver{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewRecorder(store, 5*time.Second, observer, log), store, observer
}

func TestEnsureSessionCreatesWhenMissing(t *testing.T) {
	r, store, _ := newTestRecorder(t)
	ctx := context.Background()

	id, err := r.EnsureSession(ctx, "a@example.com", 0, "What is adverse possession in property law, explained simply?")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "What is adverse possession in property law, expla…", sess.Title)
}

func TestEnsureSessionReusesSuppliedID(t *testing.T) {
	r, _, _ := newTestRecorder(t)

	id, err := r.EnsureSession(context.Background(), "a@example.com", 7, "seed")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestRecordAsyncAppendsBothMessages(t *testing.T) {
	r, store, observer := newTestRecorder(t)
	ctx := context.Background()

	id, err := r.EnsureSession(ctx, "a@example.com", 0, "q")
	require.NoError(t, err)

	r.RecordAsync("a@example.com", id, "the question", "the answer", models.MessageMeta{
		TokensUsed: 10, ResponseTimeMs: 50, WasCached: false,
	})
	r.Wait()

	messages, err := store.ListMessages(ctx, "a@example.com", id)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "the question", messages[0].Content)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, 10, messages[1].TokensUsed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&observer.failures))
}

func TestRecordAsyncAbsorbsFailures(t *testing.T) {
	r, _, observer := newTestRecorder(t)

	// Unknown session: the append fails, is counted and goes no further
	r.RecordAsync("a@example.com", 999, "q", "a", models.MessageMeta{})
	r.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&observer.failures))
}

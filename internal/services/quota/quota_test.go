package quota

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/legal-qa-backend-go/internal/services/counter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.QuotaConfig{
		FreeLimit:     2,
		TokenTTL:      24 * time.Hour,
		SigningSecret: "test-secret",
		CookieName:    "lq_quota",
	}
	return NewTracker(cfg, counter.NewMemoryStore(), log)
}

func anon(addr string) models.Identity {
	return models.Identity{Address: addr}
}

func TestTokenRoundTrip(t *testing.T) {
	tr := newTestTracker(t)

	token, err := tr.IssueToken(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tr.ParseToken(token))
}

func TestTokenTampering(t *testing.T) {
	tr := newTestTracker(t)

	token, err := tr.IssueToken(1)
	require.NoError(t, err)

	assert.Equal(t, int64(0), tr.ParseToken(token+"x"))
	assert.Equal(t, int64(0), tr.ParseToken("not-a-token"))
	assert.Equal(t, int64(0), tr.ParseToken(""))

	// A token signed with a different secret must be rejected
	other := newTestTracker(t)
	other.secret = []byte("other-secret")
	foreign, err := other.IssueToken(2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tr.ParseToken(foreign))
}

func TestTokenExpiry(t *testing.T) {
	tr := newTestTracker(t)
	tr.tokenTTL = -time.Hour

	expired, err := tr.IssueToken(2)
	require.NoError(t, err)

	tr.tokenTTL = 24 * time.Hour
	assert.Equal(t, int64(0), tr.ParseToken(expired))
}

func TestGateRegisteredIsUnlimited(t *testing.T) {
	tr := newTestTracker(t)

	d := tr.Gate(context.Background(), models.Identity{Registered: true, Email: "a@example.com"}, 99)
	assert.False(t, d.Blocked)
	assert.True(t, d.Unlimited)
	assert.False(t, d.Reserved)
}

func TestGateSequence(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	id := anon("10.0.0.1")

	d := tr.Gate(ctx, id, 0)
	assert.False(t, d.Blocked)
	assert.Equal(t, int64(1), d.Used)
	assert.Equal(t, int64(1), d.Remaining)

	d = tr.Gate(ctx, id, 1)
	assert.False(t, d.Blocked)
	assert.Equal(t, int64(2), d.Used)
	assert.Equal(t, int64(0), d.Remaining)

	d = tr.Gate(ctx, id, 2)
	assert.True(t, d.Blocked)
	assert.Equal(t, int64(2), d.Used)

	// Counter stays pinned at the limit after repeated blocked attempts
	d = tr.Gate(ctx, id, 2)
	assert.True(t, d.Blocked)
	assert.Equal(t, int64(2), d.Used)
}

func TestGateClientFloor(t *testing.T) {
	tr := newTestTracker(t)

	// A caller presenting an exhausted token is blocked even when the
	// counter store has never seen them
	d := tr.Gate(context.Background(), anon("10.0.0.2"), 2)
	assert.True(t, d.Blocked)
}

// assertNoDoubleSpendOfLastSlot hammers the gate with concurrent requests
// that each present one slot left; exactly one may be admitted.
func assertNoDoubleSpendOfLastSlot(t *testing.T, tr *Tracker, id models.Identity) {
	t.Helper()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			d := tr.Gate(ctx, id, 1)
			if !d.Blocked {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
}

func TestGateNoDoubleSpendOfLastSlot(t *testing.T) {
	tr := newTestTracker(t)
	assertNoDoubleSpendOfLastSlot(t, tr, anon("10.0.0.3"))
}

func TestGateNoDoubleSpendOfLastSlotRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tr := newTestTracker(t)
	tr.store = counter.NewRedisStore(client)

	// The floor merge racing the reservation increments must not hand
	// back a spent slot on the shared backend either
	for trial := 0; trial < 20; trial++ {
		assertNoDoubleSpendOfLastSlot(t, tr, anon(fmt.Sprintf("10.1.0.%d", trial)))
	}
}

func TestReleaseReturnsSlot(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	id := anon("10.0.0.4")

	d := tr.Gate(ctx, id, 0)
	require.True(t, d.Reserved)
	assert.Equal(t, int64(1), d.Used)

	// A failed request hands its slot back
	tr.Release(ctx, id)

	d = tr.Gate(ctx, id, 0)
	assert.False(t, d.Blocked)
	assert.Equal(t, int64(1), d.Used)
}

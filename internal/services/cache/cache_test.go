package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "what is a tort?", NormalizeQuestion("  What is a TORT?  "))
	assert.Equal(t, NormalizeQuestion("what is x?"), NormalizeQuestion("\tWHAT IS X?\n"))
}

func TestLookupFoldsCaseAndWhitespace(t *testing.T) {
	c := NewMemoryCache(time.Hour, testLogger())
	ctx := context.Background()

	_, hit := c.Lookup(ctx, "What is X?")
	require.False(t, hit)

	require.NoError(t, c.Store(ctx, "What is X?", "X is a variable."))

	entry, hit := c.Lookup(ctx, "  what is x?  ")
	require.True(t, hit)
	assert.Equal(t, "X is a variable.", entry.Answer)
}

func TestHitIncrementsCounterWithoutMutatingAnswer(t *testing.T) {
	c := NewMemoryCache(time.Hour, testLogger())
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "q", "original answer"))

	first, hit := c.Lookup(ctx, "q")
	require.True(t, hit)
	assert.Equal(t, int64(1), first.Hits)

	// Mutating the returned entry must not affect the stored answer
	first.Answer = "tampered"

	second, hit := c.Lookup(ctx, "q")
	require.True(t, hit)
	assert.Equal(t, "original answer", second.Answer)
	assert.Equal(t, int64(2), second.Hits)
	assert.False(t, second.LastHitAt.IsZero())
}

func TestDistinctQuestionsDoNotCollide(t *testing.T) {
	c := NewMemoryCache(time.Hour, testLogger())
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "what is a lease?", "a lease is..."))

	_, hit := c.Lookup(ctx, "what is a sublease?")
	assert.False(t, hit)
}

func TestDisabledCache(t *testing.T) {
	c := &disabledCache{}
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "q", "a"))
	_, hit := c.Lookup(ctx, "q")
	assert.False(t, hit)
}

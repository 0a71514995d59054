package conversation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/legal-qa-backend-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "a@example.com", "Lease questions")
	require.NoError(t, err)
	assert.Greater(t, sess.ID, int64(0))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.OwnerID)
	assert.Equal(t, "Lease questions", got.Title)
	assert.Equal(t, 0, got.MessageCount)
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), 999)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendBumpsCountAndPreservesID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "a@example.com", "t")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, "a@example.com", sess.ID, models.RoleUser, "question", models.MessageMeta{}))
	require.NoError(t, s.AppendMessage(ctx, "a@example.com", sess.ID, models.RoleAssistant, "answer", models.MessageMeta{
		TokensUsed: 42, ResponseTimeMs: 120, WasCached: true,
	}))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, 2, got.MessageCount)
	assert.False(t, got.LastMessageAt.Before(got.StartedAt))

	messages, err := s.ListMessages(ctx, "a@example.com", sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, 0, messages[0].TokensUsed)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, 42, messages[1].TokensUsed)
	assert.Equal(t, int64(120), messages[1].ResponseTimeMs)
	assert.True(t, messages[1].WasCached)
}

func TestAppendEnforcesOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "owner@example.com", "t")
	require.NoError(t, err)

	err = s.AppendMessage(ctx, "intruder@example.com", sess.ID, models.RoleUser, "q", models.MessageMeta{})
	assert.ErrorIs(t, err, ErrNotOwner)

	err = s.AppendMessage(ctx, "owner@example.com", 999, models.RoleUser, "q", models.MessageMeta{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "a@example.com", "first")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "b@example.com", "other")
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "first", sessions[0].Title)
}

func TestRenameAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "a@example.com", "old")
	require.NoError(t, err)

	assert.ErrorIs(t, s.RenameSession(ctx, "b@example.com", sess.ID, "hijack"), ErrNotOwner)
	require.NoError(t, s.RenameSession(ctx, "a@example.com", sess.ID, "new"))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)

	require.NoError(t, s.AppendMessage(ctx, "a@example.com", sess.ID, models.RoleUser, "q", models.MessageMeta{}))

	assert.ErrorIs(t, s.DeleteSession(ctx, "b@example.com", sess.ID), ErrNotOwner)
	require.NoError(t, s.DeleteSession(ctx, "a@example.com", sess.ID))

	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListMessagesEnforcesOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "a@example.com", "t")
	require.NoError(t, err)

	_, err = s.ListMessages(ctx, "b@example.com", sess.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestTitleFromSeed(t *testing.T) {
	assert.Equal(t, "What is a tort?", TitleFromSeed("  What is a tort?  "))
	assert.Equal(t, fallbackTitle, TitleFromSeed("   "))

	long := strings.Repeat("a", 80)
	title := TitleFromSeed(long)
	assert.Equal(t, strings.Repeat("a", 50)+"…", title)

	// Truncation counts runes, not bytes
	cjk := strings.Repeat("法", 60)
	assert.Equal(t, strings.Repeat("法", 50)+"…", TitleFromSeed(cjk))
}

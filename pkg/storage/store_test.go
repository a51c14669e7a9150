package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/herald/pkg/automation/selectors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "herald.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMentionDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exists, err := s.MentionExists(ctx, "100")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.InsertMention(ctx, MentionRecord{
		PlatformID:     "100",
		AuthorUsername: "alice",
		Content:        "hi there",
		URL:            "https://x.com/alice/status/100",
	})
	require.NoError(t, err)

	exists, err = s.MentionExists(ctx, "100")
	require.NoError(t, err)
	assert.True(t, exists)

	// Duplicate platform ids are rejected by the unique constraint.
	_, err = s.InsertMention(ctx, MentionRecord{PlatformID: "100", AuthorUsername: "alice", Content: "again"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
}

func TestDraftLifecyclePosted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMention(ctx, MentionRecord{PlatformID: "7", AuthorUsername: "bob", Content: "question"})
	require.NoError(t, err)

	draftID, err := s.InsertDraft(ctx, PostRecord{Content: "an answer", GenerationPrompt: "Reply to @bob"})
	require.NoError(t, err)

	post, err := s.GetPost(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, PostStatusDraft, post.Status)
	assert.Nil(t, post.PostedAt)

	require.NoError(t, s.MarkPosted(ctx, draftID, "7", "900"))

	post, err = s.GetPost(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, PostStatusPosted, post.Status)
	assert.Equal(t, "900", post.PlatformID)
	assert.NotNil(t, post.PostedAt)

	mention, err := s.GetMention(ctx, "7")
	require.NoError(t, err)
	assert.True(t, mention.Responded)
	assert.True(t, mention.Processed)
}

func TestDraftLifecycleFailedLeavesMentionUntouched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMention(ctx, MentionRecord{PlatformID: "8", AuthorUsername: "carol", Content: "hello"})
	require.NoError(t, err)

	draftID, err := s.InsertDraft(ctx, PostRecord{Content: "draft reply"})
	require.NoError(t, err)
	require.NoError(t, s.MarkPostFailed(ctx, draftID))

	post, err := s.GetPost(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, PostStatusFailed, post.Status)

	mention, err := s.GetMention(ctx, "8")
	require.NoError(t, err)
	assert.False(t, mention.Responded)
	assert.False(t, mention.Processed)
}

func TestSelectorFailureInvalidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSelector(ctx, "compose_box", `[data-testid="custom"]`))

	for i := 1; i <= 3; i++ {
		count, err := s.RecordSelectorFailure(ctx, "compose_box", 3)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	list, err := s.ListSelectors(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, selectors.StatusInvalid, list[0].Status)
	assert.Equal(t, 3, list[0].FailureCount)

	// Re-saving resets failure state.
	require.NoError(t, s.SaveSelector(ctx, "compose_box", `[data-testid="repaired"]`))
	list, err = s.ListSelectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, selectors.StatusUnknown, list[0].Status)
	assert.Equal(t, 0, list[0].FailureCount)
}

func TestSeedSelectors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, reset, err := s.SeedSelectors(ctx, selectors.Defaults)
	require.NoError(t, err)
	assert.Equal(t, len(selectors.Defaults), added)
	assert.Zero(t, reset)

	// Invalidate one entry, then re-seed: only that entry is reset.
	for i := 0; i < 3; i++ {
		_, err := s.RecordSelectorFailure(ctx, "post_button", 3)
		require.NoError(t, err)
	}
	added, reset, err = s.SeedSelectors(ctx, selectors.Defaults)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 1, reset)

	list, err := s.ListSelectors(ctx)
	require.NoError(t, err)
	for _, p := range list {
		if p.Name == "post_button" {
			assert.Equal(t, selectors.StatusUnknown, p.Status)
			assert.Equal(t, selectors.Defaults["post_button"], p.Locator)
		}
	}
}

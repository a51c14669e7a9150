package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/herald/pkg/automation/driver"
	"github.com/entrhq/herald/pkg/storage"
)

type fakeDriver struct {
	mentions  []driver.Mention
	fetchErr  error
	loginErr  error
	postErr   error
	postCalls []driver.PostRequest
	closed    bool
}

func (f *fakeDriver) Login(ctx context.Context, force bool) (bool, error) {
	if f.loginErr != nil {
		return false, f.loginErr
	}
	return true, nil
}

func (f *fakeDriver) FetchMentions(ctx context.Context, limit int) ([]driver.Mention, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.mentions) > limit {
		return f.mentions[:limit], nil
	}
	return f.mentions, nil
}

func (f *fakeDriver) FetchSearch(ctx context.Context, query string, limit int) ([]driver.Mention, error) {
	return f.FetchMentions(ctx, limit)
}

func (f *fakeDriver) PostContent(ctx context.Context, req driver.PostRequest) (*driver.PostResult, error) {
	f.postCalls = append(f.postCalls, req)
	if f.postErr != nil {
		return nil, f.postErr
	}
	return &driver.PostResult{}, nil
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

type postState struct {
	record storage.PostRecord
	status string
}

type fakeStore struct {
	mentions   map[string]storage.MentionRecord
	handled    map[string]bool
	posts      map[int64]*postState
	nextID     int64
	existsErr  error
	insertErr  error
	draftErr   error
	markPosted []int64
	markFailed []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mentions: make(map[string]storage.MentionRecord),
		handled:  make(map[string]bool),
		posts:    make(map[int64]*postState),
	}
}

func (f *fakeStore) MentionExists(ctx context.Context, platformID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.mentions[platformID]
	return ok, nil
}

func (f *fakeStore) InsertMention(ctx context.Context, m storage.MentionRecord) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.mentions[m.PlatformID] = m
	return int64(len(f.mentions)), nil
}

func (f *fakeStore) InsertDraft(ctx context.Context, p storage.PostRecord) (int64, error) {
	if f.draftErr != nil {
		return 0, f.draftErr
	}
	f.nextID++
	f.posts[f.nextID] = &postState{record: p, status: storage.PostStatusDraft}
	return f.nextID, nil
}

func (f *fakeStore) MarkPosted(ctx context.Context, postID int64, mentionPlatformID, postedPlatformID string) error {
	f.posts[postID].status = storage.PostStatusPosted
	if mentionPlatformID != "" {
		f.handled[mentionPlatformID] = true
	}
	f.markPosted = append(f.markPosted, postID)
	return nil
}

func (f *fakeStore) MarkPostFailed(ctx context.Context, postID int64) error {
	f.posts[postID].status = storage.PostStatusFailed
	f.markFailed = append(f.markFailed, postID)
	return nil
}

type fakeGenerator struct {
	reply    string
	replyErr error
	tweet    string
	tweetErr error
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, originalText, author string) (string, error) {
	return f.reply, f.replyErr
}

func (f *fakeGenerator) GenerateTweet(ctx context.Context, topic string) (string, error) {
	return f.tweet, f.tweetErr
}

type fakeImages struct {
	path string
	err  error
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return f.path, f.err
}

func testOrchestrator(d *fakeDriver, s *fakeStore, g *fakeGenerator, policy Policy) *Orchestrator {
	if policy.Username == "" {
		policy.Username = "thisbot"
	}
	o := New(func() (Driver, error) { return d, nil }, s, g, nil, policy, slog.New(slog.DiscardHandler))
	o.delay = func(ctx context.Context, min, max time.Duration) error { return nil }
	return o
}

func TestRunFiltersMentions(t *testing.T) {
	d := &fakeDriver{mentions: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi", URL: "https://x.com/alice/status/1"},
		{ID: "", AuthorUsername: "bob", Text: "hey"},
		{ID: "2", AuthorUsername: "thisbot", Text: "ignore"},
		{ID: "3", AuthorUsername: "carol", Text: "   "},
	}}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{reply: "hello alice"}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Equal(t, 1, res.Mentions)
	assert.Equal(t, 1, res.Responses)
	assert.Empty(t, res.Errors)

	_, persisted := s.mentions["1"]
	assert.True(t, persisted)
	assert.Len(t, s.mentions, 1)
	assert.True(t, d.closed)
}

func TestRunDeduplicatesKnownMentions(t *testing.T) {
	d := &fakeDriver{mentions: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi"},
	}}
	s := newFakeStore()
	s.mentions["1"] = storage.MentionRecord{PlatformID: "1"}
	o := testOrchestrator(d, s, &fakeGenerator{reply: "hello"}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Zero(t, res.Mentions)
	assert.Zero(t, res.Responses)
	assert.Len(t, s.mentions, 1)
}

func TestRunListenFailureShortCircuits(t *testing.T) {
	d := &fakeDriver{fetchErr: errors.New("surface unreachable")}
	s := newFakeStore()
	gen := &fakeGenerator{reply: "never used"}
	o := testOrchestrator(d, s, gen, Policy{})

	res := o.Run(context.Background())

	assert.True(t, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, d.postCalls)
	assert.Empty(t, s.posts)
	assert.True(t, d.closed)
}

func TestRunEmptyMentionsSucceeds(t *testing.T) {
	d := &fakeDriver{}
	o := testOrchestrator(d, newFakeStore(), &fakeGenerator{}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Zero(t, res.Mentions)
	assert.Zero(t, res.Responses)
	assert.Empty(t, res.Errors)
}

func TestRunEmptyGenerationSkipsItem(t *testing.T) {
	d := &fakeDriver{mentions: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi"},
	}}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{reply: "  "}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Equal(t, 1, res.Mentions)
	assert.Zero(t, res.Responses)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, s.posts)
	assert.Empty(t, d.postCalls)
}

func TestRunDraftPersistFailureSkipsItem(t *testing.T) {
	d := &fakeDriver{mentions: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi"},
	}}
	s := newFakeStore()
	s.draftErr = errors.New("disk full")
	o := testOrchestrator(d, s, &fakeGenerator{reply: "hello"}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Zero(t, res.Responses)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, d.postCalls)
}

func TestRunHumanReviewLeavesDrafts(t *testing.T) {
	d := &fakeDriver{mentions: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi"},
	}}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{reply: "hello"}, Policy{RequireHumanReview: true})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Equal(t, 1, res.Responses)
	assert.Empty(t, d.postCalls)
	assert.Equal(t, storage.PostStatusDraft, s.posts[1].status)
	assert.False(t, s.handled["1"])
}

func TestRunPostedTransitions(t *testing.T) {
	d := &fakeDriver{mentions: []driver.Mention{
		{ID: "1", AuthorUsername: "alice", Text: "hi", URL: "https://x.com/alice/status/1"},
	}}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{reply: "hello"}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	require.Len(t, d.postCalls, 1)
	assert.Equal(t, "https://x.com/alice/status/1", d.postCalls[0].ReplyToURL)
	assert.Equal(t, storage.PostStatusPosted, s.posts[1].status)
	assert.True(t, s.handled["1"])
}

func TestRunFailedPostLeavesMentionUntouched(t *testing.T) {
	d := &fakeDriver{
		mentions: []driver.Mention{{ID: "1", AuthorUsername: "alice", Text: "hi"}},
		postErr:  errors.New("compose box gone"),
	}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{reply: "hello"}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, storage.PostStatusFailed, s.posts[1].status)
	assert.False(t, s.handled["1"])
}

func TestRunCapsReportedErrors(t *testing.T) {
	var mentions []driver.Mention
	for i := 1; i <= 8; i++ {
		mentions = append(mentions, driver.Mention{
			ID: fmt.Sprintf("%d", i), AuthorUsername: "alice", Text: "hi",
		})
	}
	d := &fakeDriver{mentions: mentions}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{replyErr: errors.New("model down")}, Policy{})

	res := o.Run(context.Background())

	assert.False(t, res.Failed)
	assert.Equal(t, 8, res.Mentions)
	assert.Len(t, res.Errors, maxReportedErrors)
}

func TestCreateContentImageFailureDegradesToText(t *testing.T) {
	s := newFakeStore()
	o := testOrchestrator(&fakeDriver{}, s, &fakeGenerator{tweet: "a thought"}, Policy{})
	o.images = &fakeImages{err: errors.New("render timeout")}

	content, err := o.CreateContent(context.Background(), "go testing", true)
	require.NoError(t, err)

	assert.Equal(t, "a thought", content.Text)
	assert.Empty(t, content.MediaPaths)
	assert.Equal(t, storage.PostStatusDraft, s.posts[content.DraftID].status)
	assert.False(t, s.posts[content.DraftID].record.HasImage)
}

func TestCreateContentWithImage(t *testing.T) {
	s := newFakeStore()
	o := testOrchestrator(&fakeDriver{}, s, &fakeGenerator{tweet: "a thought"}, Policy{})
	o.images = &fakeImages{path: "/tmp/img.png"}

	content, err := o.CreateContent(context.Background(), "go testing", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"/tmp/img.png"}, content.MediaPaths)
	assert.True(t, s.posts[content.DraftID].record.HasImage)
}

func TestPostContentHumanReviewIsNoOp(t *testing.T) {
	d := &fakeDriver{}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{tweet: "a thought"}, Policy{RequireHumanReview: true})

	content, err := o.CreateContent(context.Background(), "go testing", false)
	require.NoError(t, err)

	require.NoError(t, o.PostContent(context.Background(), content))
	assert.Empty(t, d.postCalls)
	assert.Equal(t, storage.PostStatusDraft, s.posts[content.DraftID].status)
}

func TestPostContentMarksFailedOnDriverError(t *testing.T) {
	d := &fakeDriver{postErr: errors.New("throttled")}
	s := newFakeStore()
	o := testOrchestrator(d, s, &fakeGenerator{tweet: "a thought"}, Policy{})

	content, err := o.CreateContent(context.Background(), "go testing", false)
	require.NoError(t, err)

	require.Error(t, o.PostContent(context.Background(), content))
	assert.Equal(t, storage.PostStatusFailed, s.posts[content.DraftID].status)
}

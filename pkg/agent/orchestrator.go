package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/herald/pkg/automation/driver"
	"github.com/entrhq/herald/pkg/storage"
)

// Driver is the browser session surface the workflow needs. One Driver is
// acquired per run and closed when the run ends.
type Driver interface {
	Login(ctx context.Context, force bool) (bool, error)
	FetchMentions(ctx context.Context, limit int) ([]driver.Mention, error)
	FetchSearch(ctx context.Context, query string, limit int) ([]driver.Mention, error)
	PostContent(ctx context.Context, req driver.PostRequest) (*driver.PostResult, error)
	Close() error
}

// DriverFactory opens a fresh session for a run.
type DriverFactory func() (Driver, error)

// Generator produces reply and topical post text.
type Generator interface {
	GenerateReply(ctx context.Context, originalText, author string) (string, error)
	GenerateTweet(ctx context.Context, topic string) (string, error)
}

// ImageGenerator renders an image for a prompt and returns a local file
// path. Optional; a nil ImageGenerator disables image attachment.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Store is the persistence surface the workflow writes through.
type Store interface {
	MentionExists(ctx context.Context, platformID string) (bool, error)
	InsertMention(ctx context.Context, m storage.MentionRecord) (int64, error)
	InsertDraft(ctx context.Context, p storage.PostRecord) (int64, error)
	MarkPosted(ctx context.Context, postID int64, mentionPlatformID, postedPlatformID string) error
	MarkPostFailed(ctx context.Context, postID int64) error
}

// Policy carries the run-shaping knobs.
type Policy struct {
	// Username is the agent's own handle; self-mentions are filtered out
	// case-insensitively.
	Username string

	FetchLimit int

	// RequireHumanReview turns the execute step into a no-op so drafts
	// stay drafts until an operator posts them.
	RequireHumanReview bool

	// Inter-item pacing bounds for the execute loop. This is the outbound
	// rate-limiting contract, independent of the driver's 429 cooldown.
	MinActionDelay time.Duration
	MaxActionDelay time.Duration
}

func (p *Policy) withDefaults() Policy {
	out := *p
	if out.FetchLimit <= 0 {
		out.FetchLimit = 10
	}
	if out.MinActionDelay <= 0 {
		out.MinActionDelay = 30 * time.Second
	}
	if out.MaxActionDelay < out.MinActionDelay {
		out.MaxActionDelay = out.MinActionDelay
	}
	return out
}

// Orchestrator runs the listen/respond/execute workflow and the secondary
// topic-driven content path.
type Orchestrator struct {
	newSession DriverFactory
	store      Store
	generator  Generator
	images     ImageGenerator
	policy     Policy
	logger     *slog.Logger

	// delay is the inter-item sleep, injectable for tests.
	delay func(ctx context.Context, min, max time.Duration) error
}

// New builds an Orchestrator. images may be nil.
func New(factory DriverFactory, store Store, generator Generator, images ImageGenerator, policy Policy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		newSession: factory,
		store:      store,
		generator:  generator,
		images:     images,
		policy:     policy.withDefaults(),
		logger:     logger.With("component", "agent"),
		delay:      sleepJitter,
	}
}

func sleepJitter(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += rand.N(max - min)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run executes one full mention-driven workflow: acquire a session, log in,
// listen, respond, execute. It never raises accumulated step errors; the
// Result carries counts, capped errors, and the failed flag.
func (o *Orchestrator) Run(ctx context.Context) Result {
	state := &State{}
	log := o.logger.With("run_id", uuid.NewString())
	log.Info("workflow run starting")

	session, err := o.newSession()
	if err != nil {
		state.fail("acquire session: %v", err)
		log.Error("workflow run aborted", "error", err)
		return state.result()
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("session close", "error", err)
		}
	}()

	if _, err := session.Login(ctx, false); err != nil {
		state.fail("login: %v", err)
		log.Error("workflow run aborted", "error", err)
		return state.result()
	}

	o.listen(ctx, session, state)
	if state.Failed {
		log.Error("listen failed, short-circuiting run", "errors", len(state.Errors))
		return state.result()
	}
	if len(state.Mentions) == 0 {
		log.Info("no new mentions, run complete")
		return state.result()
	}

	o.respond(ctx, state)
	o.execute(ctx, session, state)

	res := state.result()
	log.Info("workflow run complete",
		"mentions", res.Mentions, "responses", res.Responses, "errors", len(state.Errors), "failed", res.Failed)
	return res
}

// listen fetches raw mentions, filters them, and persists the accepted
// ones. Any failure here is fatal to the run.
func (o *Orchestrator) listen(ctx context.Context, session Driver, state *State) {
	raw, err := session.FetchMentions(ctx, o.policy.FetchLimit)
	if err != nil {
		state.fail("fetch mentions: %v", err)
		return
	}

	for _, m := range raw {
		accepted, err := o.acceptMention(ctx, m)
		if err != nil {
			state.fail("persist mention %s: %v", m.ID, err)
			return
		}
		if !accepted {
			continue
		}
		state.Mentions = append(state.Mentions, Mention{
			PlatformID:     m.ID,
			AuthorUsername: m.AuthorUsername,
			Text:           strings.TrimSpace(m.Text),
			URL:            m.URL,
		})
	}
	o.logger.Info("listen complete", "raw", len(raw), "accepted", len(state.Mentions))
}

// acceptMention applies the filter invariants and persists a passing
// mention. It reports false for filtered and already-known items.
func (o *Orchestrator) acceptMention(ctx context.Context, m driver.Mention) (bool, error) {
	if m.ID == "" {
		return false, nil
	}
	if strings.EqualFold(m.AuthorUsername, o.policy.Username) {
		return false, nil
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return false, nil
	}
	exists, err := o.store.MentionExists(ctx, m.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := o.store.InsertMention(ctx, storage.MentionRecord{
		PlatformID:     m.ID,
		AuthorUsername: m.AuthorUsername,
		Content:        text,
		URL:            m.URL,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// respond generates a reply per mention and persists each as a draft. One
// item's failure never aborts the loop.
func (o *Orchestrator) respond(ctx context.Context, state *State) {
	for _, m := range state.Mentions {
		if err := ctx.Err(); err != nil {
			state.recordError("respond canceled: %v", err)
			return
		}

		text, err := o.generator.GenerateReply(ctx, m.Text, m.AuthorUsername)
		if err != nil {
			state.recordError("generate reply for %s: %v", m.PlatformID, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			state.recordError("generate reply for %s: empty content", m.PlatformID)
			continue
		}

		draftID, err := o.store.InsertDraft(ctx, storage.PostRecord{
			Content:          text,
			GenerationPrompt: m.Text,
		})
		if err != nil {
			state.recordError("persist draft for %s: %v", m.PlatformID, err)
			continue
		}

		state.Responses = append(state.Responses, Response{
			SourceMentionID:  m.PlatformID,
			SourceMentionURL: m.URL,
			AuthorUsername:   m.AuthorUsername,
			GeneratedText:    text,
			DraftID:          draftID,
		})
	}
	o.logger.Info("respond complete", "responses", len(state.Responses))
}

// execute posts each drafted response through the session. Under human
// review it is a deliberate no-op and drafts stay drafts.
func (o *Orchestrator) execute(ctx context.Context, session Driver, state *State) {
	if o.policy.RequireHumanReview {
		o.logger.Info("human review required, leaving drafts unposted", "drafts", len(state.Responses))
		return
	}

	for i, r := range state.Responses {
		if err := ctx.Err(); err != nil {
			state.recordError("execute canceled: %v", err)
			return
		}

		result, err := session.PostContent(ctx, driver.PostRequest{
			Text:       r.GeneratedText,
			ReplyToURL: r.SourceMentionURL,
		})
		if err != nil {
			state.recordError("post reply to %s: %v", r.SourceMentionID, err)
			if markErr := o.store.MarkPostFailed(ctx, r.DraftID); markErr != nil {
				state.recordError("mark draft %d failed: %v", r.DraftID, markErr)
			}
		} else {
			if markErr := o.store.MarkPosted(ctx, r.DraftID, r.SourceMentionID, result.PostedID); markErr != nil {
				state.recordError("mark draft %d posted: %v", r.DraftID, markErr)
			} else {
				o.logger.Info("reply posted", "mention", r.SourceMentionID, "author", r.AuthorUsername)
			}
		}

		if i < len(state.Responses)-1 {
			if err := o.delay(ctx, o.policy.MinActionDelay, o.policy.MaxActionDelay); err != nil {
				state.recordError("execute canceled: %v", err)
				return
			}
		}
	}
}

// CreateContent generates a topic-driven draft, optionally with an image.
// Image generation failure degrades to text-only rather than aborting.
func (o *Orchestrator) CreateContent(ctx context.Context, topic string, withImage bool) (*Content, error) {
	text, err := o.generator.GenerateTweet(ctx, topic)
	if err != nil {
		return nil, err
	}

	content := &Content{Text: text, Topic: topic}
	if withImage && o.images != nil {
		path, err := o.images.GenerateImage(ctx, topic)
		if err != nil {
			o.logger.Warn("image generation failed, continuing text-only", "topic", topic, "error", err)
		} else {
			content.MediaPaths = []string{path}
		}
	}

	draftID, err := o.store.InsertDraft(ctx, storage.PostRecord{
		Content:          text,
		HasImage:         len(content.MediaPaths) > 0,
		MediaPaths:       content.MediaPaths,
		GenerationPrompt: topic,
	})
	if err != nil {
		return nil, err
	}
	content.DraftID = draftID

	o.logger.Info("content drafted", "topic", topic, "image", len(content.MediaPaths) > 0)
	return content, nil
}

// PostContent posts a previously drafted content item. The human-review
// gate applies here exactly as it does to the execute step.
func (o *Orchestrator) PostContent(ctx context.Context, content *Content) error {
	if o.policy.RequireHumanReview {
		o.logger.Info("human review required, draft left unposted", "draft", content.DraftID)
		return nil
	}

	session, err := o.newSession()
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Warn("session close", "error", err)
		}
	}()

	if _, err := session.Login(ctx, false); err != nil {
		return err
	}

	result, err := session.PostContent(ctx, driver.PostRequest{
		Text:       content.Text,
		MediaPaths: content.MediaPaths,
	})
	if err != nil {
		if markErr := o.store.MarkPostFailed(ctx, content.DraftID); markErr != nil {
			o.logger.Error("mark draft failed", "draft", content.DraftID, "error", markErr)
		}
		return err
	}
	if err := o.store.MarkPosted(ctx, content.DraftID, "", result.PostedID); err != nil {
		return err
	}

	o.logger.Info("content posted", "draft", content.DraftID, "topic", content.Topic)
	return nil
}

// Search runs a one-off authenticated search against the live surface and
// returns the raw items. Nothing is persisted.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) ([]driver.Mention, error) {
	if limit <= 0 {
		limit = o.policy.FetchLimit
	}

	session, err := o.newSession()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Warn("session close", "error", err)
		}
	}()

	if _, err := session.Login(ctx, false); err != nil {
		return nil, err
	}
	return session.FetchSearch(ctx, query, limit)
}

// Package scheduler runs the agent's two entry points on cron schedules:
// the mention-check workflow and topic-driven content creation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/entrhq/herald/pkg/agent"
)

// Workflow is the slice of the orchestrator the scheduler drives.
type Workflow interface {
	Run(ctx context.Context) agent.Result
	CreateContent(ctx context.Context, topic string, withImage bool) (*agent.Content, error)
	PostContent(ctx context.Context, content *agent.Content) error
}

// Alerter receives failure notifications. May be a no-op.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Config holds the cron specs and the content rotation.
type Config struct {
	// MentionCheckSpec and ContentCreationSpec are standard five-field
	// cron expressions. Empty disables the job.
	MentionCheckSpec    string
	ContentCreationSpec string

	Topics    []string
	WithImage bool
}

// Scheduler owns the cron runner. Jobs execute sequentially on cron's
// goroutines; overlapping runs against the same session file are prevented
// by cron's per-entry serial execution plus the single-entry setup here.
type Scheduler struct {
	cron     *cron.Cron
	workflow Workflow
	alerts   Alerter
	cfg      Config
	logger   *slog.Logger
}

// New builds a Scheduler. alerts may be nil.
func New(workflow Workflow, alerts Alerter, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		workflow: workflow,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start registers the configured jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	if s.cfg.MentionCheckSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.MentionCheckSpec, s.runMentionCheck); err != nil {
			return fmt.Errorf("schedule mention check %q: %w", s.cfg.MentionCheckSpec, err)
		}
		s.logger.Info("mention check scheduled", "spec", s.cfg.MentionCheckSpec)
	}

	if s.cfg.ContentCreationSpec != "" {
		if len(s.cfg.Topics) == 0 {
			s.logger.Warn("content creation scheduled without topics, job disabled")
		} else {
			if _, err := s.cron.AddFunc(s.cfg.ContentCreationSpec, s.runContentCreation); err != nil {
				return fmt.Errorf("schedule content creation %q: %w", s.cfg.ContentCreationSpec, err)
			}
			s.logger.Info("content creation scheduled", "spec", s.cfg.ContentCreationSpec, "topics", len(s.cfg.Topics))
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runMentionCheck() {
	ctx := context.Background()
	s.logger.Info("scheduled mention check starting")

	res := s.workflow.Run(ctx)
	if res.Failed {
		s.alert(ctx, fmt.Sprintf("mention check failed: %s", strings.Join(res.Errors, "; ")))
		return
	}
	s.logger.Info("scheduled mention check complete",
		"mentions", res.Mentions, "responses", res.Responses, "errors", len(res.Errors))
}

func (s *Scheduler) runContentCreation() {
	ctx := context.Background()
	topic := s.cfg.Topics[rand.IntN(len(s.cfg.Topics))]
	s.logger.Info("scheduled content creation starting", "topic", topic)

	content, err := s.workflow.CreateContent(ctx, topic, s.cfg.WithImage)
	if err != nil {
		s.alert(ctx, fmt.Sprintf("content creation failed for %q: %v", topic, err))
		return
	}
	if err := s.workflow.PostContent(ctx, content); err != nil {
		s.alert(ctx, fmt.Sprintf("content posting failed for %q: %v", topic, err))
		return
	}
	s.logger.Info("scheduled content creation complete", "topic", topic, "draft", content.DraftID)
}

func (s *Scheduler) alert(ctx context.Context, message string) {
	s.logger.Error(message)
	if s.alerts != nil {
		s.alerts.Alert(ctx, message)
	}
}

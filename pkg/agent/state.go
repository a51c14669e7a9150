// Package agent implements the workflow that turns inbound mentions into
// posted replies: listen, respond, execute, with short-circuit and
// human-review gating.
package agent

import "fmt"

// Mention is an accepted inbound item for this run, post-filtering.
type Mention struct {
	PlatformID     string
	AuthorUsername string
	Text           string
	URL            string
}

// Response is a generated reply that has been persisted as a draft and is
// awaiting posting.
type Response struct {
	SourceMentionID  string
	SourceMentionURL string
	AuthorUsername   string
	GeneratedText    string
	DraftID          int64
}

// Content is a topic-driven item produced by CreateContent.
type Content struct {
	DraftID    int64
	Text       string
	MediaPaths []string
	Topic      string
}

// State is the mutable record threaded through one workflow run. It is not
// persisted; the draft and mention tables carry the durable side.
type State struct {
	Mentions  []Mention
	Responses []Response

	// Errors is append-only. Steps accumulate into it, never overwrite.
	Errors []string

	// Failed marks a critical-step failure. Once set, downstream steps
	// must not run.
	Failed bool
}

func (s *State) recordError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

func (s *State) fail(format string, args ...any) {
	s.recordError(format, args...)
	s.Failed = true
}

// maxReportedErrors caps how many error messages a Result carries. The full
// list still lands in the logs.
const maxReportedErrors = 5

// Result is the terminal outcome reported to the caller. A run never raises
// its accumulated errors; it reports them here.
type Result struct {
	Mentions  int
	Responses int
	Errors    []string
	Failed    bool
}

func (s *State) result() Result {
	errs := s.Errors
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
	}
	return Result{
		Mentions:  len(s.Mentions),
		Responses: len(s.Responses),
		Errors:    errs,
		Failed:    s.Failed,
	}
}

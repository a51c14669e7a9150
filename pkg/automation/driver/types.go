package driver

import "time"

// Mention is a raw inbound item extracted from the mentions surface, before
// any workflow filtering.
type Mention struct {
	// ID is the platform-native status id. Empty when extraction could not
	// find a permalink; the workflow filters those out.
	ID             string
	AuthorUsername string
	Text           string
	URL            string
}

// PostRequest describes a single outbound post.
type PostRequest struct {
	Text string

	// MediaPaths are local files to attach. A missing file fails the whole
	// call.
	MediaPaths []string

	// ReplyToURL targets a specific item to reply to. Empty posts to the
	// home timeline.
	ReplyToURL string
}

// PostResult reports a completed post. PostedID carries whatever identifier
// the automation surface exposed, which may be empty.
type PostResult struct {
	PostedID string
}

// Config holds everything a session needs to drive the target surface.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Email    string

	Headless       bool
	DisableSandbox bool
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string

	// SessionFile is where authenticated storage state is persisted and
	// restored from.
	SessionFile   string
	ScreenshotDir string

	RateLimitCooldown time.Duration
	ScrollSteps       int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = "https://x.com"
	}
	if out.RateLimitCooldown <= 0 {
		out.RateLimitCooldown = 15 * time.Minute
	}
	if out.ScrollSteps <= 0 {
		out.ScrollSteps = 3
	}
	return out
}

// userAgent presented by the automated browser.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

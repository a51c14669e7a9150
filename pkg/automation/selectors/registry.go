// Package selectors resolves symbolic UI element names to locator strings.
// Locators are seeded from hardcoded defaults, overridden by persisted
// entries, and invalidated after repeated failures so a broken override
// falls back to the default instead of wedging every run.
package selectors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/herald/pkg/automation"
)

// Validation states for a selector entry.
const (
	StatusUnknown = "unknown"
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// Defaults are the hardcoded locators for the target surface. They are the
// fallback of last resort when no persisted override is usable.
var Defaults = map[string]string{
	"login_username_input":     `input[autocomplete="username"]`,
	"login_next_button":        `[role="button"]:has-text("Next")`,
	"login_password_input":     `input[autocomplete="current-password"]`,
	"login_button":             `[data-testid="LoginForm_Login_Button"]`,
	"verification_input":       `input[data-testid="ocfEnterTextTextInput"]`,
	"verification_next_button": `[data-testid="ocfEnterTextNextButton"]`,
	"compose_box":              `[data-testid="tweetTextarea_0"]`,
	"post_button":              `[data-testid="tweetButtonInline"]`,
	"media_upload_input":       `input[data-testid="fileInput"]`,
	"reply_button":             `[data-testid="reply"]`,
	"reply_send_button":        `[data-testid="tweetButton"]`,
	"item_article":             `article[data-testid="tweet"]`,
	"item_text":                `[data-testid="tweetText"]`,
	"item_user":                `[data-testid="User-Name"]`,
}

// PersistedSelector is a selector entry as stored by the persistence layer.
type PersistedSelector struct {
	Name         string
	Locator      string
	FailureCount int
	Status       string
}

// Store is the persistence surface the registry needs. A nil Store gives a
// purely in-memory registry.
type Store interface {
	ListSelectors(ctx context.Context) ([]PersistedSelector, error)
	SaveSelector(ctx context.Context, name, locator string) error
	RecordSelectorFailure(ctx context.Context, name string, threshold int) (int, error)
}

type entry struct {
	locator  string
	failures int
	status   string
}

// Registry is the two-tier selector lookup: in-memory cache over persisted
// overrides, with hardcoded defaults underneath.
type Registry struct {
	mu        sync.RWMutex
	overrides map[string]entry

	store            Store
	failureThreshold int
	validateTimeout  time.Duration
	logger           *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFailureThreshold overrides the failure count at which an override is
// invalidated.
func WithFailureThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.failureThreshold = n
		}
	}
}

// WithValidateTimeout overrides the bounded wait used by Validate.
func WithValidateTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.validateTimeout = d
		}
	}
}

// New builds a Registry and warms its cache from the store. Warm-up happens
// here, once, so the hot Resolve path never touches the persistence layer.
func New(ctx context.Context, store Store, logger *slog.Logger, opts ...Option) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		overrides:        make(map[string]entry),
		store:            store,
		failureThreshold: 3,
		validateTimeout:  5 * time.Second,
		logger:           logger.With("component", "selectors"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if store != nil {
		persisted, err := store.ListSelectors(ctx)
		if err != nil {
			return nil, fmt.Errorf("selector warm-up: %w", err)
		}
		for _, p := range persisted {
			if p.Status == StatusInvalid || p.FailureCount >= r.failureThreshold {
				r.logger.Warn("skipping invalid persisted selector", "name", p.Name, "failures", p.FailureCount)
				continue
			}
			r.overrides[p.Name] = entry{locator: p.Locator, failures: p.FailureCount, status: p.Status}
		}
	}
	return r, nil
}

// Resolve returns the locator for a symbolic element name. Unknown names
// resolve to the empty string; callers must treat that as a hard
// selector-not-found condition.
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// An entry without a locator only tracks failures for a default-backed
	// name; resolution stays on the default.
	if e, ok := r.overrides[name]; ok && e.status != StatusInvalid && e.locator != "" {
		return e.locator
	}
	if def, ok := Defaults[name]; ok {
		return def
	}
	r.logger.Warn("unknown selector name", "name", name)
	return ""
}

// Update replaces the locator for an element. With persist=true the new
// locator is written through to the store before the cache changes; a store
// failure leaves the cache untouched.
func (r *Registry) Update(ctx context.Context, name, locator string, persist bool) error {
	if persist && r.store != nil {
		if err := r.store.SaveSelector(ctx, name, locator); err != nil {
			return fmt.Errorf("persist selector %q: %w", name, err)
		}
	}

	r.mu.Lock()
	r.overrides[name] = entry{locator: locator, status: StatusUnknown}
	r.mu.Unlock()

	r.logger.Info("selector updated", "name", name, "persisted", persist)
	return nil
}

// MarkFailed records a use-failure for an element. Once the failure count
// reaches the threshold the override is invalidated and lookups revert to
// the hardcoded default until the entry is re-seeded.
func (r *Registry) MarkFailed(ctx context.Context, name string) {
	count := 0
	if r.store != nil {
		var err error
		count, err = r.store.RecordSelectorFailure(ctx, name, r.failureThreshold)
		if err != nil {
			r.logger.Error("failed to persist selector failure", "name", name, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.overrides[name]
	e.failures++
	if count > e.failures {
		e.failures = count
	}
	if e.failures >= r.failureThreshold {
		e.status = StatusInvalid
		r.logger.Warn("selector invalidated, reverting to default", "name", name, "failures", e.failures)
	}
	r.overrides[name] = e
}

// Status reports the validation status of an element's override entry.
func (r *Registry) Status(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.overrides[name]; ok && e.status != "" {
		return e.status
	}
	return StatusUnknown
}

// Validate checks that the element can be located on a live page within the
// bounded timeout. On failure it records the failure and returns false; this
// is the self-healing hook callers use before re-updating a broken selector.
func (r *Registry) Validate(ctx context.Context, page playwright.Page, name string) bool {
	locator := r.Resolve(name)
	if locator == "" {
		return false
	}
	if err := ctx.Err(); err != nil {
		return false
	}

	_, err := page.WaitForSelector(locator, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(r.validateTimeout.Milliseconds())),
	})
	if err != nil {
		r.MarkFailed(ctx, name)
		return false
	}

	r.mu.Lock()
	if e, ok := r.overrides[name]; ok && e.status != StatusInvalid {
		e.status = StatusValid
		r.overrides[name] = e
	}
	r.mu.Unlock()
	return true
}

// ResolveStrict is Resolve with the empty-locator case turned into a
// SelectorError, for call sites that cannot proceed without one.
func (r *Registry) ResolveStrict(name string) (string, error) {
	locator := r.Resolve(name)
	if locator == "" {
		return "", &automation.SelectorError{Name: name}
	}
	return locator, nil
}

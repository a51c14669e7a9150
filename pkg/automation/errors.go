// Package automation defines the error taxonomy shared by the session
// driver and the selector registry. Callers distinguish failure classes
// with errors.As rather than string matching.
package automation

import (
	"fmt"
	"time"
)

// Error wraps a navigation, element, or timeout failure against the target
// surface. Context cancellation is never wrapped into an Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("automation: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimitError reports that the driver refused an action because a
// throttling cooldown is still active.
type RateLimitError struct {
	Until time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Until.Format(time.RFC3339))
}

// LoginError reports a failure in the authentication flow.
type LoginError struct {
	Step string
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login: %s: %v", e.Step, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// SelectorError reports a named locator that could not be resolved or
// located on the page.
type SelectorError struct {
	Name string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q unresolved", e.Name)
}

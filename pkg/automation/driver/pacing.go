package driver

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Per-character typing bounds. Keystrokes land 50-150ms apart with an
// occasional longer pause, which is enough to stay under the duplicate-
// keystroke heuristics the target surface is known to run.
const (
	typeDelayMinMs = 50
	typeDelayMaxMs = 150
	pauseChance    = 0.1
	pauseMin       = 200 * time.Millisecond
	pauseMax       = 500 * time.Millisecond
)

// jitter sleeps a random duration in [min, max], honoring cancellation.
func jitter(ctx context.Context, min, max time.Duration) error {
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

// humanType enters text one character at a time with randomized delays.
// Cancellation is checked between characters and returned unwrapped.
func humanType(ctx context.Context, el playwright.ElementHandle, text string) error {
	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := float64(typeDelayMinMs + rand.IntN(typeDelayMaxMs-typeDelayMinMs+1))
		if err := el.Type(string(r), playwright.ElementHandleTypeOptions{
			Delay: playwright.Float(delay),
		}); err != nil {
			return err
		}
		if rand.Float64() < pauseChance {
			if err := jitter(ctx, pauseMin, pauseMax); err != nil {
				return err
			}
		}
	}
	return nil
}

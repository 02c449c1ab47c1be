package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// Policy decides what happens when a realtime channel fails.
type Policy int

const (
	// ResubscribeNever logs the failure and keeps the last snapshot until the
	// next session start.
	ResubscribeNever Policy = iota
	// ResubscribeBackoff re-opens the channel with exponential backoff until it
	// succeeds or the session changes.
	ResubscribeBackoff
)

// Default backoff bounds for ResubscribeBackoff.
const (
	DefaultBackoffMin = time.Second
	DefaultBackoffMax = 30 * time.Second
)

func (p Policy) String() string {
	switch p {
	case ResubscribeBackoff:
		return "backoff"
	default:
		return "never"
	}
}

// ParsePolicy parses "never" or "backoff". An empty string means never.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never":
		return ResubscribeNever, nil
	case "backoff":
		return ResubscribeBackoff, nil
	default:
		return ResubscribeNever, fmt.Errorf("unknown resubscribe policy %q (use never or backoff)", s)
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithResubscribe sets the realtime recovery policy.
func WithResubscribe(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithBackoff overrides the resubscribe backoff bounds.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Controller) {
		if initial > 0 {
			c.backoffMin = initial
		}
		if limit >= c.backoffMin {
			c.backoffMax = limit
		}
	}
}

// WithClock overrides the clock used for placeholder ids and default dates.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// nextDelay doubles d up to limit.
func nextDelay(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

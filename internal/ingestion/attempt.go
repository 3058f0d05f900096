package ingestion

import (
	"context"
	"time"
)

// AttemptState is the lifecycle of a bounded retry loop.
type AttemptState int

const (
	Attempting AttemptState = iota
	Succeeded
	Exhausted
)

func (s AttemptState) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Attempt counts consecutive failures of one operation against a ceiling.
// Any success resets the counter; reaching the ceiling moves it to Exhausted.
// Terminal states are sticky.
type Attempt struct {
	ceiling  int
	failures int
	total    int
	state    AttemptState
	last     error
}

// NewAttempt returns an Attempt in the Attempting state. A ceiling below 1 is treated as 1.
func NewAttempt(ceiling int) *Attempt {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Attempt{ceiling: ceiling}
}

// Fail records a transient failure.
func (a *Attempt) Fail(err error) AttemptState {
	if a.state != Attempting {
		return a.state
	}
	a.failures++
	a.total++
	a.last = err
	if a.failures >= a.ceiling {
		a.state = Exhausted
	}
	return a.state
}

// Progress records a success that does not end the operation (a page with rows).
func (a *Attempt) Progress() {
	if a.state == Attempting {
		a.failures = 0
		a.total++
	}
}

// Succeed records the final success.
func (a *Attempt) Succeed() AttemptState {
	if a.state == Attempting {
		a.failures = 0
		a.total++
		a.state = Succeeded
	}
	return a.state
}

func (a *Attempt) State() AttemptState { return a.state }

// Done reports whether the attempt reached a terminal state.
func (a *Attempt) Done() bool { return a.state != Attempting }

// Failures is the current consecutive-failure count.
func (a *Attempt) Failures() int { return a.failures }

// Total counts every recorded outcome.
func (a *Attempt) Total() int { return a.total }

// Last is the most recent failure, if any.
func (a *Attempt) Last() error { return a.last }

// pause waits d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

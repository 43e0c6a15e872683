package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config configures retry behavior with backoff.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 2
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	// Default: 300ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	// Default: 2s
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry. 1 gives linear spacing.
	// Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the wait (0-1).
	// Default: 0.2
	JitterFactor float64
}

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid retry config")

// DefaultConfig returns the defaults used for feed API calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 300 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.MaxRetries < 0 || c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff || c.BackoffFactor < 1.0 {
		return ErrInvalidConfig
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Policy describes how an action may be retried.
type Policy struct {
	Name string
	// Idempotent actions can be repeated without changing the outcome.
	Idempotent bool
	// Safe actions are reads.
	Safe bool
	// Toggle actions flip server state; a blind retry could flip it back.
	Toggle bool
}

// Verdict is the decision taken for a failed attempt.
type Verdict struct {
	Retry bool
	// Rollback restores the pre-mutation value.
	Rollback bool
	// KeepUnconfirmed leaves the optimistic value in place, flagged unconfirmed.
	KeepUnconfirmed bool
	// InvalidateSession escalates to session handling.
	InvalidateSession bool
}

// Decide returns the verdict for an error of class after attempt attempts.
func (p Policy) Decide(class Class, attempt int, cfg Config) Verdict {
	canRetry := attempt <= cfg.MaxRetries
	switch class {
	case ClassNone:
		return Verdict{}
	case ClassTransient:
		if p.Idempotent && canRetry {
			return Verdict{Retry: true}
		}
		return Verdict{Rollback: true}
	case ClassServerFault:
		if p.Safe && canRetry {
			return Verdict{Retry: true}
		}
		if p.Toggle {
			return Verdict{KeepUnconfirmed: true}
		}
		return Verdict{Rollback: true}
	case ClassAuth:
		return Verdict{Rollback: true, InvalidateSession: true}
	default:
		return Verdict{Rollback: true}
	}
}

// State is the lifecycle of one request.
type State int

const (
	StateIssued State = iota
	StateRetrying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "issued"
	}
}

// Result contains the outcome of a retried call.
type Result struct {
	State         State
	Attempts      int
	TotalDuration time.Duration
	// Err is the classified error of the last attempt; nil on success.
	Err     error
	Class   Class
	Verdict Verdict
}

// Func is a call that may be retried.
type Func func(ctx context.Context, attempt int) error

// Observer is notified on every state transition.
type Observer func(state State, attempt int, err error)

// Do runs fn under policy, retrying while the policy allows it.
//
// Example:
//
//	res := retry.Do(ctx, cfg, retry.Policy{Name: "edit", Idempotent: true}, func(ctx context.Context, attempt int) error {
//	    _, err := client.EditComment(ctx, postID, commentID, body)
//	    return err
//	}, nil)
func Do(ctx context.Context, cfg Config, policy Policy, fn Func, observe Observer) Result {
	start := time.Now()
	res := Result{State: StateIssued}
	emit := func(s State, attempt int, err error) {
		res.State = s
		if observe != nil {
			observe(s, attempt, err)
		}
	}
	emit(StateIssued, 1, nil)

	backoff := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			res.TotalDuration = time.Since(start)
			emit(StateSucceeded, attempt, nil)
			return res
		}

		res.Err = Classify(err)
		res.Class = ClassOf(res.Err)
		res.Verdict = policy.Decide(res.Class, attempt, cfg)
		if !res.Verdict.Retry || ctx.Err() != nil {
			res.Verdict.Retry = false
			if !res.Verdict.KeepUnconfirmed {
				res.Verdict.Rollback = true
			}
			res.TotalDuration = time.Since(start)
			emit(StateFailed, attempt, res.Err)
			return res
		}

		emit(StateRetrying, attempt, res.Err)
		select {
		case <-ctx.Done():
			res.Err = Classify(ctx.Err())
			res.Class = ClassOf(res.Err)
			res.Verdict = Verdict{Rollback: true}
			res.TotalDuration = time.Since(start)
			emit(StateFailed, attempt, res.Err)
			return res
		case <-time.After(withJitter(backoff, cfg.JitterFactor)):
		}
		backoff = nextBackoff(backoff, cfg.BackoffFactor, cfg.MaxBackoff)
	}
}

func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}

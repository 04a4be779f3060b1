// Package retry runs flaky network calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts is the total number of tries, not the number of retries.
	DefaultMaxAttempts = 3
	// DefaultUnit is the backoff base: waits are 1, 2, 4... units.
	DefaultUnit = time.Second
)

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Policy configures Do. The zero value retries errors marked with Transient
// three times with 1s/2s waits.
type Policy struct {
	// Name identifies the operation in errors and in OnRetry.
	Name        string
	MaxAttempts int
	Unit        time.Duration
	IsTransient Classifier
	// Timer drives the waits between attempts; nil uses a real timer.
	Timer backoff.Timer
	// OnRetry is called before every wait with the 0-indexed failed attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	name := e.Name
	if name == "" {
		name = "operation"
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Backoff returns the wait after the given 0-indexed attempt: unit * 2^attempt.
func Backoff(unit time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return unit << uint(attempt)
}

// Do calls op until it succeeds, fails with a non-transient error, or runs out
// of attempts. Non-transient errors are returned unwrapped and immediately.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var (
		zero     T
		result   T
		attempts int
		fatal    error
		lastErr  error
	)
	operation := func() error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		if !p.IsTransient(err) {
			fatal = err
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts-1, wait, err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.schedule(), uint64(p.MaxAttempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.Timer)
	switch {
	case err == nil:
		return result, nil
	case fatal != nil:
		return zero, fatal
	case attempts < p.MaxAttempts && ctx.Err() != nil:
		return zero, fmt.Errorf("%s: interrupted while backing off: %w", p.name(), ctx.Err())
	default:
		return zero, &ExhaustedError{Name: p.Name, Attempts: attempts, Err: lastErr}
	}
}

// schedule waits exactly unit, 2*unit, 4*unit... with no jitter and no
// overall deadline; the attempt cap lives in WithMaxRetries.
func (p Policy) schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Unit
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = Backoff(p.Unit, p.MaxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Unit <= 0 {
		p.Unit = DefaultUnit
	}
	if p.IsTransient == nil {
		p.IsTransient = IsMarkedTransient
	}
	return p
}

func (p Policy) name() string {
	if p.Name == "" {
		return "operation"
	}
	return p.Name
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsMarkedTransient reports whether err (or anything it wraps) went through Transient.
func IsMarkedTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

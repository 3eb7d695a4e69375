// Package retry runs fallible calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultAttempts = 5
	DefaultBase     = 3
	DefaultUnit     = time.Second
)

// ErrExhausted is returned once every attempt has failed.
var ErrExhausted = errors.New("maximum retries reached")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The executor returns it
// immediately, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor holds the retry policy. The zero value uses the defaults:
// 5 attempts, sleeping 1s, 3s, 9s, 27s between them.
type Executor struct {
	Attempts int
	Base     float64
	Unit     time.Duration
	Sleep    SleepFunc
	Logger   logrus.FieldLogger
}

// Delay is the pause after failed attempt i (0-based): Unit * Base^i.
func (e *Executor) Delay(i int) time.Duration {
	base, unit := e.Base, e.Unit
	if base <= 0 {
		base = DefaultBase
	}
	if unit <= 0 {
		unit = DefaultUnit
	}
	return time.Duration(float64(unit) * math.Pow(base, float64(i)))
}

func (e *Executor) attempts() int {
	if e == nil || e.Attempts <= 0 {
		return DefaultAttempts
	}
	return e.Attempts
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls op until it succeeds, returns a Permanent error, the context is
// cancelled or the attempts run out. args only describe the call in logs.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), args ...any) (T, error) {
	if e == nil {
		e = &Executor{}
	}
	var (
		zero T
		err  error
	)
	n := e.attempts()
	for i := 0; i < n; i++ {
		var res T
		res, err = op(ctx)
		if err == nil {
			return res, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		e.logger().WithFields(logrus.Fields{
			"attempt": i,
			"args":    args,
		}).Warnf("retry attempt %d/%d failed: %v", i+1, n, err)

		if i < n-1 {
			if sErr := e.sleep(ctx, e.Delay(i)); sErr != nil {
				return zero, sErr
			}
		}
	}

	e.logger().WithField("args", args).Errorf("maximum retries (%d) reached", n)
	return zero, fmt.Errorf("%w (%d attempts): %w", ErrExhausted, n, err)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, op func(context.Context) error, args ...any) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, args...)
	return err
}

package sink

import (
	"context"

	"bridge-etl/internal/retry"
)

// RetrySink decorates another Sink, retrying failed writes with the given
// executor's backoff. The error of the last attempt is returned, wrapped in
// retry.ErrExhausted.
type RetrySink struct {
	inner Sink
	retry *retry.Executor
}

// NewRetrySink wraps inner. A nil executor uses the default policy.
func NewRetrySink(inner Sink, ex *retry.Executor) *RetrySink {
	return &RetrySink{inner: inner, retry: ex}
}

func (r *RetrySink) Write(ctx context.Context, evt Event) error {
	return retry.Run(ctx, r.retry, func(ctx context.Context) error {
		return r.inner.Write(ctx, evt)
	}, "sink write", evt[ColChain], evt[ColTxHash], evt[ColLogIndex])
}

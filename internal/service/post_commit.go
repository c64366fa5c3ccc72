package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

const defaultPostCommitTimeout = 10 * time.Second

// AsyncRunner executes side effects after a transaction committed. Hook failures
// are logged and counted but never reach the caller that scheduled them.
type AsyncRunner struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAsyncRunner constructs a runner whose hooks are bounded by timeout.
func NewAsyncRunner(timeout time.Duration, logger zerolog.Logger) *AsyncRunner {
	if timeout <= 0 {
		timeout = defaultPostCommitTimeout
	}
	return &AsyncRunner{
		timeout: timeout,
		logger:  logger.With().Str("component", "post_commit").Logger(),
	}
}

// Go schedules fn on a tracked goroutine. The context keeps the caller's values
// but not its cancellation, so hooks outlive the request that triggered them.
func (r *AsyncRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.run(hookCtx, fn); err != nil {
			observability.PostCommitFailures().WithLabelValues(name).Inc()
			r.logger.Error().Err(err).Str("hook", name).Msg("post-commit hook failed")
		}
	}()
}

func (r *AsyncRunner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled hook returned.
func (r *AsyncRunner) Wait() {
	r.wg.Wait()
}

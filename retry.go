package objectstore

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryOnLockDenied runs task, retrying with Fibonacci backoff while it fails with a
// LockDenied error, until ctx is done, maxRetries is exhausted, or maxWait has elapsed
// since the first attempt (maxWait <= 0 means no additional bound beyond ctx and
// maxRetries). It is the building block behind the queued ReadWriteLockBlobStore
// variant (spec.md §9): the fail-fast per-key Lockable never retries on its own, but a
// caller that wants queued semantics can wrap negotiation attempts with this helper.
// Between denied attempts it jitters with RandomSleep, the same way the teacher staggers
// contending retriers in two_phase_commit_transaction.go and fs/hashmap.fileregion.go.
func RetryOnLockDenied(ctx context.Context, maxRetries uint64, maxWait time.Duration, task func(ctx context.Context) error) error {
	start := time.Now()
	b := retry.NewFibonacci(5 * time.Millisecond)
	err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), func(ctx context.Context) error {
		if maxWait > 0 {
			if err := TimedOut(ctx, "queued lock retry", start, maxWait); err != nil {
				return err
			}
		}
		err := task(ctx)
		if err == nil {
			return nil
		}
		if ShouldRetry(err) {
			RandomSleep(ctx)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		log.Debug("retry on lock denied gave up", "error", err)
	}
	return err
}

// ShouldRetry reports whether err represents transient lock contention worth retrying.
// Any other error (transaction expired, backend failure, ...) is permanent from the
// retrying caller's point of view.
func ShouldRetry(err error) bool {
	return Is(err, LockDenied)
}

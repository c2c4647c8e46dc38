package objectstore

import (
	"context"
	"fmt"
	log "log/slog"
	"math/rand"
	"time"
)

// jitterRNG is the random source used for sleep jitter. It is seeded once at init time.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the RNG used for sleep jitter. Useful for deterministic tests.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// TimedOut returns an error if ctx is done or the elapsed time since startTime exceeds maxTime.
func TimedOut(ctx context.Context, name string, startTime time.Time, maxTime time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if time.Since(startTime) > maxTime {
		return fmt.Errorf("%s timed out (maxTime=%v)", name, maxTime)
	}
	return nil
}

// RandomSleepWithUnit sleeps for a random multiple (1..4) of the provided unit duration,
// used to stagger the queued lock variant's retries and reduce contention.
func RandomSleepWithUnit(ctx context.Context, unit time.Duration) {
	multiplier := time.Duration(jitterRNG.Intn(4) + 1)
	st := multiplier * unit
	log.Debug("sleep jitter", "multiplier", multiplier, "unit", unit, "duration", st)
	Sleep(ctx, st)
}

// RandomSleep sleeps for a random duration between 5ms and 20ms.
func RandomSleep(ctx context.Context) {
	RandomSleepWithUnit(ctx, 5*time.Millisecond)
}

// Sleep blocks for sleepTime or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, sleepTime time.Duration) {
	if sleepTime <= 0 {
		return
	}
	t, cancel := context.WithTimeout(ctx, sleepTime)
	defer cancel()
	<-t.Done()
}

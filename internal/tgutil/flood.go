package tgutil

import (
	"context"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/worker"
)

const (
	floodWaitType        = "FLOOD_WAIT"
	floodPremiumWaitType = "FLOOD_PREMIUM_WAIT"
)

// AsFloodWait reports whether err is a server-demanded wait and for how long.
// A zero duration means the server did not name one.
func AsFloodWait(err error) (time.Duration, bool) {
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return 0, false
	}

	if rpcErr.Type != floodWaitType && rpcErr.Type != floodPremiumWaitType {
		return 0, false
	}

	return time.Duration(rpcErr.Argument) * time.Second, true
}

// FloodSleeper sleeps through server-demanded waits.
type FloodSleeper struct {
	// Fallback is used when the server gives no duration.
	Fallback time.Duration
	// Sleep defaults to worker.Wait; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// WaitFor sleeps for the demanded duration if err is a flood wait and reports
// whether it did. Context cancellation during the sleep is returned.
func (s FloodSleeper) WaitFor(ctx context.Context, stage string, err error) (bool, error) {
	d, ok := AsFloodWait(err)
	if !ok {
		return false, nil
	}

	if d <= 0 {
		d = s.Fallback
	}

	observability.FloodWaits.WithLabelValues(stage).Inc()
	observability.FloodWaitSeconds.Observe(d.Seconds())

	sleep := s.Sleep
	if sleep == nil {
		sleep = worker.Wait
	}

	if err := sleep(ctx, d); err != nil {
		return true, err
	}

	return true, nil
}

// Retry runs fn until it returns something other than a flood wait. Waits
// are unbounded; only context cancellation stops the loop.
func (s FloodSleeper) Retry(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		waited, waitErr := s.WaitFor(ctx, stage, err)
		if waitErr != nil {
			return waitErr
		}

		if !waited {
			return err
		}
	}
}

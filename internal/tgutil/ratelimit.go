package tgutil

import (
	"context"
	"fmt"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

// RateLimit returns a client middleware that takes one token per RPC.
func RateLimit(limiter *rate.Limiter) telegram.Middleware {
	return telegram.MiddlewareFunc(func(next tg.Invoker) telegram.InvokeFunc {
		return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rpc rate limit: %w", err)
			}

			return next.Invoke(ctx, input, output)
		}
	})
}

// Package fallback runs an ordered list of alternative strategies for the
// same goal and stops at the first one that succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned when every stage failed.
var ErrExhausted = errors.New("all fallback stages failed")

// Stage is a single named strategy.
type Stage[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result describes which stage produced the value.
type Result[T any] struct {
	Value T
	Stage string
	Index int
}

// Observer is notified after each attempted stage.
type Observer func(stage string, err error)

// Chain is an ordered list of stages.
type Chain[T any] struct {
	name     string
	stages   []Stage[T]
	logger   *zerolog.Logger
	observer Observer
}

func New[T any](name string, logger *zerolog.Logger, stages ...Stage[T]) *Chain[T] {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Chain[T]{name: name, stages: stages, logger: logger}
}

// Observe registers a callback invoked after every attempted stage.
func (c *Chain[T]) Observe(o Observer) *Chain[T] {
	c.observer = o
	return c
}

// Run tries each stage in order. Stage failures are logged and swallowed;
// only exhaustion of all stages returns an error wrapping ErrExhausted and
// the last stage failure. Context cancellation aborts the chain.
func (c *Chain[T]) Run(ctx context.Context) (Result[T], error) {
	var lastErr error

	for i, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return Result[T]{}, fmt.Errorf("%s: %w", c.name, err)
		}

		value, err := runStage(ctx, stage)

		if c.observer != nil {
			c.observer(stage.Name, err)
		}

		if err == nil {
			return Result[T]{Value: value, Stage: stage.Name, Index: i}, nil
		}

		lastErr = err

		c.logger.Debug().Err(err).Str("chain", c.name).Str("stage", stage.Name).Msg("fallback stage failed")
	}

	if lastErr == nil {
		return Result[T]{}, fmt.Errorf("%s: %w", c.name, ErrExhausted)
	}

	return Result[T]{}, fmt.Errorf("%s: %w: %w", c.name, ErrExhausted, lastErr)
}

func runStage[T any](ctx context.Context, stage Stage[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()

	return stage.Run(ctx)
}

package tokenizers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/errors"
)

type outcome[T any] struct {
	value T
	err   error
}

// marshaledCall runs one boundary crossing under ctx.
//
// Native calls cannot be interrupted. When ctx ends first the caller gets a
// canceled error at once while fn keeps running on its own goroutine; if fn
// then succeeds, discard receives the orphaned result so engine objects are
// freed rather than leaked. A background context runs fn inline.
func marshaledCall[T any](ctx context.Context, logger *zap.Logger, timeout time.Duration, op string, fn func() (T, error), discard func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, errors.Canceled(op, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if ctx.Done() == nil {
		return fn()
	}

	var (
		mu        sync.Mutex
		abandoned bool
	)
	ch := make(chan outcome[T], 1)

	go func() {
		v, err := fn()
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if err == nil && discard != nil {
				discard(v)
			}
			logger.Debug("abandoned call finished", zap.String("op", op), zap.Error(err))
			return
		}
		ch <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		select {
		case out := <-ch:
			return out.value, out.err
		default:
		}
		abandoned = true
		return zero, errors.Canceled(op, ctx.Err())
	}
}

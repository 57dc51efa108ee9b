package tokenizers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
)

// HandleResource owns one engine handle and frees it exactly once.
//
// Calls on the handle are serialized. Release waits for an in-flight call to
// return before freeing, and every later call fails with ErrReleased instead
// of touching freed memory. A resource that becomes unreachable without being
// released is freed by a GC cleanup, which logs a warning. Handles owned by a
// Runtime also fail with ErrReleased once that runtime is closed.
type HandleResource struct {
	mu       sync.Mutex
	handle   native.Handle
	kind     string
	free     func(native.Handle)
	logger   *zap.Logger
	released atomic.Bool
	cleanup  runtime.Cleanup
	gate     gate
	after    func()
}

// gate admits calls into the engine that owns a handle.
type gate interface {
	enter() error
	exit()
}

// leak is the state the GC cleanup needs. It must not reference the
// resource itself.
type leak struct {
	handle native.Handle
	kind   string
	free   func(native.Handle)
	logger *zap.Logger
	after  func()
}

func freeLeaked(l leak) {
	l.logger.Warn("handle leaked, freed by cleanup",
		zap.String("kind", l.kind),
		zap.Uint64("handle", uint64(l.handle)))
	l.free(l.handle)
	if l.after != nil {
		l.after()
	}
}

// NewHandleResource takes ownership of h. A zero handle is the engine's
// failure sentinel and yields a construction error; free is not called.
func NewHandleResource(kind string, h native.Handle, free func(native.Handle), logger *zap.Logger) (*HandleResource, error) {
	return newHandleResource(kind, h, free, logger, nil, nil)
}

func newHandleResource(kind string, h native.Handle, free func(native.Handle), logger *zap.Logger, g gate, after func()) (*HandleResource, error) {
	if h == 0 {
		return nil, errors.Construction("wrap", kind)
	}
	if logger == nil {
		logger = Logger()
	}
	r := &HandleResource{
		handle: h,
		kind:   kind,
		free:   free,
		logger: logger,
		gate:   g,
		after:  after,
	}
	r.cleanup = runtime.AddCleanup(r, freeLeaked, leak{
		handle: h,
		kind:   kind,
		free:   free,
		logger: logger,
		after:  after,
	})
	logger.Debug("handle acquired", zap.String("kind", kind), zap.Uint64("handle", uint64(h)))
	return r, nil
}

// Kind names what the handle refers to.
func (r *HandleResource) Kind() string {
	return r.kind
}

// Handle returns the raw handle. It stays readable after release but must not
// be passed to the engine then.
func (r *HandleResource) Handle() native.Handle {
	return r.handle
}

// Released reports whether Release has been called.
func (r *HandleResource) Released() bool {
	return r.released.Load()
}

// Release frees the handle. Only the first call has an effect.
func (r *HandleResource) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cleanup.Stop()
	r.free(r.handle)
	if r.after != nil {
		r.after()
	}
	r.logger.Debug("handle released", zap.String("kind", r.kind), zap.Uint64("handle", uint64(r.handle)))
}

// Close releases the handle and implements io.Closer.
func (r *HandleResource) Close() error {
	r.Release()
	return nil
}

// Use runs fn with the live handle while holding the resource lock.
func (r *HandleResource) Use(fn func(native.Handle)) error {
	_, err := use(context.Background(), r, 0, "use", func(h native.Handle) (struct{}, error) {
		fn(h)
		return struct{}{}, nil
	}, nil)
	return err
}

// use is a marshaled call against the resource's handle.
func use[T any](ctx context.Context, r *HandleResource, timeout time.Duration, op string, fn func(native.Handle) (T, error), discard func(T)) (T, error) {
	if r.released.Load() {
		var zero T
		return zero, errors.Released(r.kind)
	}
	return marshaledCall(ctx, r.logger, timeout, op, func() (T, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.released.Load() {
			var zero T
			return zero, errors.Released(r.kind)
		}
		if r.gate != nil {
			if err := r.gate.enter(); err != nil {
				var zero T
				return zero, err
			}
			defer r.gate.exit()
		}
		v, err := fn(r.handle)
		runtime.KeepAlive(r)
		return v, err
	}, discard)
}

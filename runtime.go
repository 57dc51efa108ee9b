package tokenizers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/config"
	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
	"github.com/wippyai/go-tokenizers/native/dynlib"
	"github.com/wippyai/go-tokenizers/native/wasmlib"
	"github.com/wippyai/go-tokenizers/native/wordlevel"
)

// Runtime owns one loaded engine and creates tokenizers on it.
//
// A Runtime is safe for concurrent use. After Close every call through the
// runtime or an object it created fails with ErrReleased. The engine itself
// stays loaded until the last of those objects is released, so Release and
// GC cleanups never reach an unloaded library.
type Runtime struct {
	lib         native.Library
	logger      *zap.Logger
	callTimeout time.Duration
	addSpecial  bool
	skipSpecial bool

	tokenizers atomic.Int64
	encodings  atomic.Int64

	mu       sync.Mutex
	closed   bool
	unloaded bool
	calls    int // engine calls in progress
	live     int // engine objects not yet freed
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// WithCallTimeout bounds every native call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(rt *Runtime) {
		rt.callTimeout = d
	}
}

// WithEncodeDefaults sets whether Encode adds special tokens by default.
func WithEncodeDefaults(addSpecialTokens bool) Option {
	return func(rt *Runtime) {
		rt.addSpecial = addSpecialTokens
	}
}

// WithDecodeDefaults sets whether Decode skips special tokens by default.
func WithDecodeDefaults(skipSpecialTokens bool) Option {
	return func(rt *Runtime) {
		rt.skipSpecial = skipSpecialTokens
	}
}

// New creates a runtime over lib and takes ownership of it.
func New(lib native.Library, opts ...Option) *Runtime {
	rt := &Runtime{
		lib:         lib,
		logger:      Logger(),
		addSpecial:  true,
		skipSpecial: true,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Open loads the engine selected by cfg. Options override cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logged := New(nil, opts...)
	lib, err := openLibrary(ctx, cfg, logged.logger)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithCallTimeout(cfg.CallTimeout),
		WithEncodeDefaults(cfg.Encode.AddSpecialTokens),
		WithDecodeDefaults(cfg.Decode.SkipSpecialTokens),
	}
	rt := New(lib, append(base, opts...)...)
	rt.logger.Info("tokenizer engine loaded", zap.String("backend", lib.Name()))
	return rt, nil
}

func openLibrary(ctx context.Context, cfg *config.Config, logger *zap.Logger) (native.Library, error) {
	switch cfg.Backend {
	case config.BackendNative:
		lib, err := dynlib.Open(cfg.LibraryPath, dynlib.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return lib, nil
	case config.BackendWasm:
		lib, err := wasmlib.OpenFile(ctx, cfg.WasmModule, wasmlib.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return lib, nil
	case config.BackendWordLevel:
		return wordlevel.New(wordlevel.WithModelDir(cfg.ModelDir), wordlevel.WithLogger(logger)), nil
	}

	lib, err := dynlib.Open(cfg.LibraryPath, dynlib.WithLogger(logger))
	if err == nil {
		return lib, nil
	}
	logger.Debug("native library unavailable", zap.Error(err))

	if cfg.WasmModule != "" {
		wl, werr := wasmlib.OpenFile(ctx, cfg.WasmModule, wasmlib.WithLogger(logger))
		if werr == nil {
			return wl, nil
		}
		logger.Debug("wasm module unavailable", zap.Error(werr))
	}
	if cfg.ModelDir != "" {
		return wordlevel.New(wordlevel.WithModelDir(cfg.ModelDir), wordlevel.WithLogger(logger)), nil
	}
	return nil, errors.Library("no tokenizer engine available", err)
}

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
	defaultErr  error
)

// Default returns the process-wide runtime, loading it from the environment
// configuration on first use. Later calls return the same runtime or error.
func Default() (*Runtime, error) {
	defaultOnce.Do(func() {
		cfg, err := config.LoadDefault()
		if err != nil {
			defaultErr = err
			return
		}
		defaultRT, defaultErr = Open(context.Background(), cfg)
	})
	return defaultRT, defaultErr
}

// Library returns the engine the runtime drives.
func (rt *Runtime) Library() native.Library {
	return rt.lib
}

// Stats counts live objects created by a runtime.
type Stats struct {
	Tokenizers int64
	Encodings  int64
}

// Stats returns the number of unreleased tokenizers and encodings.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Tokenizers: rt.tokenizers.Load(),
		Encodings:  rt.encodings.Load(),
	}
}

// Close stops the runtime. Construction and calls on existing tokenizers and
// encodings fail with ErrReleased from now on. The engine is unloaded at once
// when nothing is live; otherwise it is unloaded when the last object is
// released and an unload error is only logged. Only the first call has an
// effect.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil
	}
	rt.closed = true
	if rt.live > 0 || rt.calls > 0 {
		s := rt.Stats()
		rt.logger.Warn("runtime closed with live objects, engine unload deferred",
			zap.Int64("tokenizers", s.Tokenizers),
			zap.Int64("encodings", s.Encodings))
		return nil
	}
	return rt.unloadLocked()
}

// unloadLocked closes the engine once the runtime is closed and idle.
// Caller holds rt.mu.
func (rt *Runtime) unloadLocked() error {
	if !rt.closed || rt.unloaded || rt.calls > 0 || rt.live > 0 {
		return nil
	}
	rt.unloaded = true
	if err := rt.lib.Close(); err != nil {
		rt.logger.Error("engine unload failed", zap.String("backend", rt.lib.Name()), zap.Error(err))
		return err
	}
	rt.logger.Debug("tokenizer engine unloaded", zap.String("backend", rt.lib.Name()))
	return nil
}

func (rt *Runtime) checkOpen() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return errors.Released("runtime")
	}
	return nil
}

// enter marks an engine call in progress. It fails once the runtime is closed.
func (rt *Runtime) enter() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return errors.Released("runtime")
	}
	rt.calls++
	return nil
}

// enterFree is enter for frees, which stay allowed after Close until the
// engine is unloaded.
func (rt *Runtime) enterFree() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.unloaded {
		return false
	}
	rt.calls++
	return true
}

func (rt *Runtime) exit() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls--
	_ = rt.unloadLocked()
}

// retain counts an object the engine just created. Caller is between enter
// and exit.
func (rt *Runtime) retain() {
	rt.mu.Lock()
	rt.live++
	rt.mu.Unlock()
}

// drop uncounts a freed object.
func (rt *Runtime) drop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.live--
	_ = rt.unloadLocked()
}

// guardFree wraps an engine free so it is skipped once the engine is gone.
func (rt *Runtime) guardFree(free func(native.Handle)) func(native.Handle) {
	return func(h native.Handle) {
		if !rt.enterFree() {
			rt.logger.Debug("free after engine unload skipped", zap.Uint64("handle", uint64(h)))
			return
		}
		defer rt.exit()
		free(h)
	}
}

// orphan frees a handle produced by an abandoned call.
func (rt *Runtime) orphan(free func(native.Handle)) func(native.Handle) {
	guarded := rt.guardFree(free)
	return func(h native.Handle) {
		if h == 0 {
			return
		}
		guarded(h)
		rt.drop()
	}
}

// create runs an engine constructor and counts the object it returns.
func (rt *Runtime) create(fn func() native.Handle) (native.Handle, error) {
	if err := rt.enter(); err != nil {
		return 0, err
	}
	defer rt.exit()
	h := fn()
	if h != 0 {
		rt.retain()
	}
	return h, nil
}

// newTokenizerResource wraps a handle already counted by create.
func (rt *Runtime) newTokenizerResource(h native.Handle) (*HandleResource, error) {
	res, err := newHandleResource("tokenizer", h, rt.guardFree(rt.lib.FreeTokenizer), rt.logger, rt, func() {
		rt.tokenizers.Add(-1)
		rt.drop()
	})
	if err != nil {
		return nil, err
	}
	rt.tokenizers.Add(1)
	return res, nil
}

// newEncodingResource wraps a handle already counted by create.
func (rt *Runtime) newEncodingResource(h native.Handle) (*HandleResource, error) {
	res, err := newHandleResource("encoding", h, rt.guardFree(rt.lib.FreeEncoding), rt.logger, rt, func() {
		rt.encodings.Add(-1)
		rt.drop()
	})
	if err != nil {
		return nil, err
	}
	rt.encodings.Add(1)
	return res, nil
}

// construct runs a tokenizer factory and wraps its handle.
func (rt *Runtime) construct(ctx context.Context, op string, src Source, fn func() native.Handle) (*Tokenizer, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	h, err := marshaledCall(ctx, rt.logger, rt.callTimeout, op, func() (native.Handle, error) {
		return rt.create(fn)
	}, rt.orphan(rt.lib.FreeTokenizer))
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, errors.Construction(op, src.String())
	}
	res, err := rt.newTokenizerResource(h)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{res: res, rt: rt, source: src}, nil
}

// PretrainedOption configures FromPretrained.
type PretrainedOption func(*native.Params)

// WithRevision selects a model revision. The engine uses "main" when unset.
func WithRevision(rev string) PretrainedOption {
	return func(p *native.Params) {
		p.Revision = rev
	}
}

// WithAuthToken passes an access token for gated models.
func WithAuthToken(token string) PretrainedOption {
	return func(p *native.Params) {
		p.Token = token
	}
}

// FromPretrained loads a tokenizer by model identifier. The engine may
// download it; any failure, including unknown model, network and
// authorization errors, is reported as ErrConstruction.
func (rt *Runtime) FromPretrained(ctx context.Context, name string, opts ...PretrainedOption) (*Tokenizer, error) {
	var params native.Params
	for _, opt := range opts {
		opt(&params)
	}
	src := Source{Kind: SourcePretrained, Name: name, Revision: params.Revision}
	if src.Revision == "" {
		src.Revision = "main"
	}
	if name == "" {
		return nil, errors.Construction(native.SymFromPretrained, "empty model name")
	}
	return rt.construct(ctx, native.SymFromPretrained, src, func() native.Handle {
		return rt.lib.FromPretrained(name, params)
	})
}

// FromFile loads a tokenizer from a definition file. Files ending in .gz,
// .zst or .lz4 are decompressed before being handed to the engine.
func (rt *Runtime) FromFile(ctx context.Context, path string) (*Tokenizer, error) {
	src := Source{Kind: SourceFile, Path: path}
	if codec := compression(path); codec != "" {
		data, err := readDefinition(path, codec)
		if err != nil {
			return nil, err
		}
		src.Digest = Digest(data)
		return rt.fromBuffer(ctx, data, src)
	}
	return rt.construct(ctx, native.SymFromFile, src, func() native.Handle {
		return rt.lib.FromFile(path)
	})
}

// FromBytes loads a tokenizer from a serialized definition.
func (rt *Runtime) FromBytes(ctx context.Context, data []byte) (*Tokenizer, error) {
	return rt.fromBuffer(ctx, data, Source{Kind: SourceBytes, Digest: Digest(data)})
}

func (rt *Runtime) fromBuffer(ctx context.Context, data []byte, src Source) (*Tokenizer, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.PhaseMarshal, errors.KindConstruction).
			Op(native.SymFromBuffer).
			Subject("%s", src).
			Detail("empty definition").
			Build()
	}
	buf := append([]byte(nil), data...)
	return rt.construct(ctx, native.SymFromBuffer, src, func() native.Handle {
		return rt.lib.FromBuffer(buf)
	})
}

// FromPretrained loads a tokenizer on the default runtime.
func FromPretrained(ctx context.Context, name string, opts ...PretrainedOption) (*Tokenizer, error) {
	rt, err := Default()
	if err != nil {
		return nil, err
	}
	return rt.FromPretrained(ctx, name, opts...)
}

// FromFile loads a tokenizer file on the default runtime.
func FromFile(ctx context.Context, path string) (*Tokenizer, error) {
	rt, err := Default()
	if err != nil {
		return nil, err
	}
	return rt.FromFile(ctx, path)
}

// FromBytes loads a serialized tokenizer on the default runtime.
func FromBytes(ctx context.Context, data []byte) (*Tokenizer, error) {
	rt, err := Default()
	if err != nil {
		return nil, err
	}
	return rt.FromBytes(ctx, data)
}

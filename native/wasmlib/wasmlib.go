package wasmlib

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
)

// Exports the guest must provide besides the engine symbols.
const (
	ExportMemory = "memory"
	ExportMalloc = "malloc"
	ExportFree   = "free"
)

// EnvModulePath names the wasm module used when none is configured.
const EnvModulePath = "TOKENIZERS_WASM"

// Library hosts the engine compiled to wasm32-wasi. Guest pointers are 32
// bits wide and are handed out unchanged as handles.
//
// The guest is single threaded; all calls are serialized by one mutex.
type Library struct {
	mu      sync.Mutex
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
	memory  guestMemory
	alloc   allocator
	fns     map[string]api.Function
	logger  *zap.Logger
	name    string
	closed  bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger           *zap.Logger
	memoryLimitPages uint32
	name             string
}

// WithLogger sets the logger used for traps and lifecycle diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMemoryLimitPages caps guest memory in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = pages
	}
}

// OpenFile reads and instantiates a module from disk.
func OpenFile(ctx context.Context, path string, opts ...Option) (*Library, error) {
	if path == "" {
		path = os.Getenv(EnvModulePath)
	}
	if path == "" {
		return nil, errors.Library("no wasm module configured", errors.NotFound(errors.PhaseLoad, "environment variable", EnvModulePath))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Library(fmt.Sprintf("read wasm module %s", path), err)
	}
	return Open(ctx, data, append([]Option{func(o *options) { o.name = path }}, opts...)...)
}

// Open compiles and instantiates the module. The module is checked for every
// required export before it runs, and a reactor's _initialize is invoked.
func Open(ctx context.Context, wasmBytes []byte, opts ...Option) (*Library, error) {
	o := options{logger: zap.NewNop(), name: "wasm module"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := wazero.NewRuntimeConfig()
	if o.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(o.memoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Library("compile failed", err)
	}

	if missing := missingExports(compiled); len(missing) > 0 {
		rt.Close(ctx)
		return nil, &errors.MissingSymbolsError{Library: o.name, Symbols: missing}
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Library("instantiate WASI", err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName("tokenizers").
		WithStartFunctions("_initialize")
	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Library("instantiate module", err)
	}

	lib := &Library{
		ctx:     context.WithoutCancel(ctx),
		runtime: rt,
		module:  mod,
		memory:  guestMemory{mem: mod.Memory()},
		fns:     make(map[string]api.Function, len(native.Symbols)),
		logger:  o.logger,
		name:    o.name,
	}
	lib.alloc = allocator{
		malloc: mod.ExportedFunction(ExportMalloc),
		free:   mod.ExportedFunction(ExportFree),
		logger: o.logger,
	}
	for _, sym := range native.Symbols {
		lib.fns[sym] = mod.ExportedFunction(sym)
	}

	o.logger.Debug("wasm engine instantiated", zap.String("module", o.name))
	return lib, nil
}

func missingExports(compiled wazero.CompiledModule) []string {
	var missing []string
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		missing = append(missing, ExportMemory)
	}
	funcs := compiled.ExportedFunctions()
	for _, name := range append([]string{ExportMalloc, ExportFree}, native.Symbols...) {
		if _, ok := funcs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Name implements native.Library.
func (l *Library) Name() string {
	return "wasm"
}

// call invokes an engine export. A trap is logged and reported as failure.
func (l *Library) call(sym string, args ...uint64) (uint64, bool) {
	res, err := l.fns[sym].Call(l.ctx, args...)
	if err != nil {
		l.logger.Warn("engine trapped", zap.String("symbol", sym), zap.Error(err))
		return 0, false
	}
	if len(res) == 0 {
		return 0, true
	}
	return res[0], true
}

func boolArg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// FromPretrained implements native.Library. The guest has no network access
// of its own, so this only succeeds for guests bundling a model cache.
func (l *Library) FromPretrained(name string, params native.Params) native.Handle {
	if strings.IndexByte(name, 0) >= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	al := newAllocationList()
	defer al.freeAndRelease(l.ctx, l.alloc)

	namePtr, err := al.pushCString(l.ctx, l.alloc, l.memory, name)
	if err != nil {
		return 0
	}
	var revPtr, tokPtr uint32
	if params.Revision != "" {
		if revPtr, err = al.pushCString(l.ctx, l.alloc, l.memory, params.Revision); err != nil {
			return 0
		}
	}
	if params.Token != "" {
		if tokPtr, err = al.pushCString(l.ctx, l.alloc, l.memory, params.Token); err != nil {
			return 0
		}
	}
	paramsPtr, err := al.push(l.ctx, l.alloc, l.memory, encodeU32s([]uint32{revPtr, tokPtr}))
	if err != nil {
		return 0
	}

	h, _ := l.call(native.SymFromPretrained, uint64(namePtr), uint64(paramsPtr))
	return native.Handle(uint32(h))
}

// FromFile implements native.Library. The file is read on the host and
// handed to the guest as a buffer, so no directory needs to be mounted.
func (l *Library) FromFile(path string) native.Handle {
	if path == "" {
		return 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return l.FromBuffer(data)
}

// FromBuffer implements native.Library.
func (l *Library) FromBuffer(data []byte) native.Handle {
	if len(data) == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	al := newAllocationList()
	defer al.freeAndRelease(l.ctx, l.alloc)

	ptr, err := al.push(l.ctx, l.alloc, l.memory, data)
	if err != nil {
		return 0
	}
	h, _ := l.call(native.SymFromBuffer, uint64(ptr), uint64(len(data)))
	return native.Handle(uint32(h))
}

// Encode implements native.Library.
func (l *Library) Encode(tokenizer native.Handle, text string, addSpecialTokens bool) native.Handle {
	if tokenizer == 0 || strings.IndexByte(text, 0) >= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	al := newAllocationList()
	defer al.freeAndRelease(l.ctx, l.alloc)

	textPtr, err := al.pushCString(l.ctx, l.alloc, l.memory, text)
	if err != nil {
		return 0
	}
	h, _ := l.call(native.SymEncode, uint64(tokenizer), uint64(textPtr), boolArg(addSpecialTokens))
	return native.Handle(uint32(h))
}

// Decode implements native.Library.
func (l *Library) Decode(tokenizer native.Handle, ids []uint32, skipSpecialTokens bool) (string, bool) {
	if tokenizer == 0 || len(ids) == 0 {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", false
	}

	al := newAllocationList()
	defer al.freeAndRelease(l.ctx, l.alloc)

	idsPtr, err := al.push(l.ctx, l.alloc, l.memory, encodeU32s(ids))
	if err != nil {
		return "", false
	}
	res, ok := l.call(native.SymDecode, uint64(tokenizer), uint64(idsPtr), uint64(len(ids)), boolArg(skipSpecialTokens))
	strPtr := uint32(res)
	if !ok || strPtr == 0 {
		return "", false
	}
	defer l.call(native.SymFreeRString, uint64(strPtr))

	s, err := l.memory.readCString(strPtr)
	if err != nil {
		l.logger.Warn("decoded string unreadable", zap.Error(err))
		return "", false
	}
	return s, true
}

// Length implements native.Library.
func (l *Library) Length(encoding native.Handle) int {
	if encoding == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}
	n, _ := l.call(native.SymEncodingGetLength, uint64(encoding))
	return int(uint32(n))
}

// array calls a getter that reports its length through an out-parameter.
// Caller holds l.mu.
func (l *Library) array(sym string, encoding native.Handle) (ptr, n uint32, ok bool) {
	al := newAllocationList()
	defer al.freeAndRelease(l.ctx, l.alloc)

	lenPtr, err := al.push(l.ctx, l.alloc, l.memory, make([]byte, 4))
	if err != nil {
		return 0, 0, false
	}
	res, ok := l.call(sym, uint64(encoding), uint64(lenPtr))
	if !ok || uint32(res) == 0 {
		return 0, 0, false
	}
	n, err = l.memory.readU32(lenPtr)
	if err != nil {
		return 0, 0, false
	}
	return uint32(res), n, true
}

// Uint32s implements native.Library.
func (l *Library) Uint32s(encoding native.Handle, field native.Field) ([]uint32, bool) {
	sym := field.Symbol()
	if encoding == 0 || sym == "" {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}

	ptr, n, ok := l.array(sym, encoding)
	if !ok {
		return nil, false
	}
	out, err := l.memory.readU32s(ptr, n)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Tokens implements native.Library.
func (l *Library) Tokens(encoding native.Handle) ([]string, bool) {
	if encoding == 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}

	ptr, n, ok := l.array(native.SymEncodingGetTokens, encoding)
	if !ok {
		return nil, false
	}
	defer l.call(native.SymFreeCCharArray, uint64(ptr), uint64(n))

	ptrs, err := l.memory.readU32s(ptr, n)
	if err != nil {
		return nil, false
	}
	out := make([]string, n)
	for i, p := range ptrs {
		if out[i], err = l.memory.readCString(p); err != nil {
			return nil, false
		}
	}
	return out, true
}

// Offsets implements native.Library.
func (l *Library) Offsets(encoding native.Handle) ([]native.Offset, bool) {
	if encoding == 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}

	ptr, n, ok := l.array(native.SymEncodingGetOffsets, encoding)
	if !ok || !l.memory.fits(n, 8) {
		return nil, false
	}
	pairs, err := l.memory.readU32s(ptr, 2*n)
	if err != nil {
		return nil, false
	}
	out := make([]native.Offset, n)
	for i := range out {
		out[i] = native.Offset{Start: uint64(pairs[2*i]), End: uint64(pairs[2*i+1])}
	}
	return out, true
}

// FreeTokenizer implements native.Library.
func (l *Library) FreeTokenizer(tokenizer native.Handle) {
	l.free(native.SymTokenizerFree, tokenizer)
}

// FreeEncoding implements native.Library.
func (l *Library) FreeEncoding(encoding native.Handle) {
	l.free(native.SymEncodingFree, encoding)
}

func (l *Library) free(sym string, h native.Handle) {
	if h == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.call(sym, uint64(h))
}

// Close tears down the guest and its runtime.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.runtime.Close(l.ctx); err != nil {
		return errors.Library("close wasm runtime", err)
	}
	l.logger.Debug("wasm engine closed", zap.String("module", l.name))
	return nil
}

var _ native.Library = (*Library)(nil)

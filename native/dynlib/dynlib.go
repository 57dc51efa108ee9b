//go:build !windows

package dynlib

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
)

// cParams mirrors CFromPretrainedParameters. Null fields select the engine
// defaults.
type cParams struct {
	revision *byte
	token    *byte
}

type u32Getter func(enc uintptr, length *uintptr) uintptr

// Library binds libtokenizers_sys through purego.
type Library struct {
	path   string
	handle uintptr
	logger *zap.Logger
	refs   int

	fromPretrained func(name string, params *cParams) uintptr
	fromFile       func(path string) uintptr
	fromBuffer     func(buf *byte, length uintptr) uintptr
	encode         func(tok uintptr, text string, addSpecial bool) uintptr
	decode         func(tok uintptr, ids *uint32, length uintptr, skipSpecial bool) uintptr
	tokenizerFree  func(tok uintptr)
	freeRString    func(s uintptr)
	encodingFree   func(enc uintptr)
	length         func(enc uintptr) uintptr
	getTokens      func(enc uintptr, length *uintptr) uintptr
	getOffsets     func(enc uintptr, length *uintptr) uintptr
	freeCCharArray func(arr uintptr, length uintptr)
	getters        map[native.Field]u32Getter
}

var (
	cacheMu sync.Mutex
	cache   = make(map[string]*Library)
)

// Option configures Open.
type Option func(*Library)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.logger = l
		}
	}
}

// Open loads the library at path, or the discovered default when path is
// empty. Opening the same path twice returns the same Library; each Open must
// be paired with a Close. Options only configure the first load: a later
// Open shares that Library and its logger, and reports the reuse to its own
// logger.
func Open(path string, opts ...Option) (*Library, error) {
	if path == "" {
		path = Discover()
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if lib, ok := cache[path]; ok {
		lib.refs++
		caller := Library{logger: zap.NewNop()}
		for _, opt := range opts {
			opt(&caller)
		}
		caller.logger.Debug("native library already loaded, options ignored",
			zap.String("path", path),
			zap.Int("refs", lib.refs))
		return lib, nil
	}

	lib := &Library{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(lib)
	}

	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Library(fmt.Sprintf("failed to load shared library %s", path), err)
	}
	if h == 0 {
		return nil, errors.Library(fmt.Sprintf("shared library handle is nil after loading %s", path), nil)
	}

	if missing := missingSymbols(h); len(missing) > 0 {
		_ = purego.Dlclose(h)
		return nil, &errors.MissingSymbolsError{Library: path, Symbols: missing}
	}

	lib.handle = h
	lib.bind()
	lib.refs = 1
	cache[path] = lib

	lib.logger.Debug("native library loaded", zap.String("path", path))
	return lib, nil
}

func missingSymbols(h uintptr) []string {
	var missing []string
	for _, sym := range native.Symbols {
		if _, err := purego.Dlsym(h, sym); err != nil {
			missing = append(missing, sym)
		}
	}
	return missing
}

func (l *Library) bind() {
	purego.RegisterLibFunc(&l.fromPretrained, l.handle, native.SymFromPretrained)
	purego.RegisterLibFunc(&l.fromFile, l.handle, native.SymFromFile)
	purego.RegisterLibFunc(&l.fromBuffer, l.handle, native.SymFromBuffer)
	purego.RegisterLibFunc(&l.encode, l.handle, native.SymEncode)
	purego.RegisterLibFunc(&l.decode, l.handle, native.SymDecode)
	purego.RegisterLibFunc(&l.tokenizerFree, l.handle, native.SymTokenizerFree)
	purego.RegisterLibFunc(&l.freeRString, l.handle, native.SymFreeRString)
	purego.RegisterLibFunc(&l.encodingFree, l.handle, native.SymEncodingFree)
	purego.RegisterLibFunc(&l.length, l.handle, native.SymEncodingGetLength)
	purego.RegisterLibFunc(&l.getTokens, l.handle, native.SymEncodingGetTokens)
	purego.RegisterLibFunc(&l.getOffsets, l.handle, native.SymEncodingGetOffsets)
	purego.RegisterLibFunc(&l.freeCCharArray, l.handle, native.SymFreeCCharArray)

	l.getters = make(map[native.Field]u32Getter, 4)
	for _, f := range []native.Field{
		native.FieldIDs,
		native.FieldTypeIDs,
		native.FieldSpecialTokensMask,
		native.FieldAttentionMask,
	} {
		var fn u32Getter
		purego.RegisterLibFunc(&fn, l.handle, f.Symbol())
		l.getters[f] = fn
	}
}

// Name implements native.Library.
func (l *Library) Name() string {
	return "dynlib"
}

// Path returns the resolved library path.
func (l *Library) Path() string {
	return l.path
}

// cString returns a NUL-terminated copy of s, or nil for the empty string.
func cString(s string) *byte {
	if s == "" {
		return nil
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

// FromPretrained implements native.Library.
func (l *Library) FromPretrained(name string, params native.Params) native.Handle {
	if strings.IndexByte(name, 0) >= 0 {
		return 0
	}
	p := &cParams{
		revision: cString(params.Revision),
		token:    cString(params.Token),
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(p)
	if p.revision != nil {
		pinner.Pin(p.revision)
	}
	if p.token != nil {
		pinner.Pin(p.token)
	}

	return native.Handle(l.fromPretrained(name, p))
}

// FromFile implements native.Library.
func (l *Library) FromFile(path string) native.Handle {
	if strings.IndexByte(path, 0) >= 0 {
		return 0
	}
	return native.Handle(l.fromFile(path))
}

// FromBuffer implements native.Library. The engine asserts on empty input,
// so an empty buffer is refused here.
func (l *Library) FromBuffer(data []byte) native.Handle {
	if len(data) == 0 {
		return 0
	}
	h := l.fromBuffer(&data[0], uintptr(len(data)))
	runtime.KeepAlive(data)
	return native.Handle(h)
}

// Encode implements native.Library.
func (l *Library) Encode(tokenizer native.Handle, text string, addSpecialTokens bool) native.Handle {
	if tokenizer == 0 || strings.IndexByte(text, 0) >= 0 {
		return 0
	}
	return native.Handle(l.encode(uintptr(tokenizer), text, addSpecialTokens))
}

// Decode implements native.Library.
func (l *Library) Decode(tokenizer native.Handle, ids []uint32, skipSpecialTokens bool) (string, bool) {
	if tokenizer == 0 || len(ids) == 0 {
		return "", false
	}
	p := l.decode(uintptr(tokenizer), &ids[0], uintptr(len(ids)), skipSpecialTokens)
	runtime.KeepAlive(ids)
	if p == 0 {
		return "", false
	}
	s := goString(p)
	l.freeRString(p)
	return s, true
}

// Length implements native.Library.
func (l *Library) Length(encoding native.Handle) int {
	if encoding == 0 {
		return 0
	}
	return int(l.length(uintptr(encoding)))
}

// Uint32s implements native.Library. The returned slice is a copy; the
// engine's array is a view that dies with the encoding.
func (l *Library) Uint32s(encoding native.Handle, field native.Field) ([]uint32, bool) {
	get, ok := l.getters[field]
	if !ok || encoding == 0 {
		return nil, false
	}
	var n uintptr
	p := get(uintptr(encoding), &n)
	if p == 0 {
		return nil, false
	}
	out := make([]uint32, n)
	if n > 0 {
		copy(out, unsafe.Slice((*uint32)(unsafe.Pointer(p)), n))
	}
	return out, true
}

// Tokens implements native.Library.
func (l *Library) Tokens(encoding native.Handle) ([]string, bool) {
	if encoding == 0 {
		return nil, false
	}
	var n uintptr
	p := l.getTokens(uintptr(encoding), &n)
	if p == 0 {
		return nil, false
	}
	defer l.freeCCharArray(p, n)

	out := make([]string, n)
	if n == 0 {
		return out, true
	}
	ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(p)), n)
	for i, s := range ptrs {
		if s == 0 {
			return nil, false
		}
		out[i] = goString(s)
	}
	return out, true
}

// Offsets implements native.Library.
func (l *Library) Offsets(encoding native.Handle) ([]native.Offset, bool) {
	if encoding == 0 {
		return nil, false
	}
	var n uintptr
	p := l.getOffsets(uintptr(encoding), &n)
	if p == 0 {
		return nil, false
	}
	out := make([]native.Offset, n)
	if n == 0 {
		return out, true
	}
	pairs := unsafe.Slice((*uintptr)(unsafe.Pointer(p)), 2*n)
	for i := range out {
		out[i] = native.Offset{Start: uint64(pairs[2*i]), End: uint64(pairs[2*i+1])}
	}
	return out, true
}

// FreeTokenizer implements native.Library.
func (l *Library) FreeTokenizer(tokenizer native.Handle) {
	if tokenizer != 0 {
		l.tokenizerFree(uintptr(tokenizer))
	}
}

// FreeEncoding implements native.Library.
func (l *Library) FreeEncoding(encoding native.Handle) {
	if encoding != 0 {
		l.encodingFree(uintptr(encoding))
	}
}

// Close drops one reference and unloads the library with the last one.
func (l *Library) Close() error {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if l.refs == 0 {
		return nil
	}
	l.refs--
	if l.refs > 0 {
		return nil
	}
	delete(cache, l.path)
	if err := purego.Dlclose(l.handle); err != nil {
		return errors.Library("failed to close library", err)
	}
	l.logger.Debug("native library unloaded", zap.String("path", l.path))
	return nil
}

// goString copies a NUL-terminated engine string into Go memory.
func goString(p uintptr) string {
	base := unsafe.Pointer(p)
	var n uintptr
	for *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(base), n))
}

var _ native.Library = (*Library)(nil)

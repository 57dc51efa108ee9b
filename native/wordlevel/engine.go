package wordlevel

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/native"
	"github.com/wippyai/go-tokenizers/resource"
)

const (
	typeTokenizer resource.TypeID = iota + 1
	typeEncoding
)

const defaultRevision = "main"

// Engine is an in-process tokenizer engine that speaks the native handle
// protocol. Objects live in a resource.Table and are addressed by
// generation-tagged handles; stale handles resolve to nothing.
type Engine struct {
	table    *resource.Table
	logger   *zap.Logger
	modelDir string
	models   map[string]map[string]catalogEntry
	mu       sync.RWMutex
}

type catalogEntry struct {
	data  []byte
	token string
}

// Option configures an Engine.
type Option func(*Engine)

// WithModelDir resolves pretrained names against a directory laid out as
// <dir>/<name>/<revision>/tokenizer.json, with <dir>/<name>/tokenizer.json
// serving the default revision.
func WithModelDir(dir string) Option {
	return func(e *Engine) {
		e.modelDir = dir
	}
}

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// ModelOption configures a registered model.
type ModelOption func(*registration)

type registration struct {
	revision string
	token    string
}

// Revision registers the model under a revision other than "main".
func Revision(rev string) ModelOption {
	return func(r *registration) {
		r.revision = rev
	}
}

// RequireToken gates the model behind an access token.
func RequireToken(token string) ModelOption {
	return func(r *registration) {
		r.token = token
	}
}

// New creates an engine with an empty catalog.
func New(opts ...Option) *Engine {
	e := &Engine{
		table:  resource.NewTable(),
		logger: zap.NewNop(),
		models: make(map[string]map[string]catalogEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table.Subscribe(resource.ObserverFunc(e.observe))
	return e
}

// Register adds a serialized definition to the pretrained catalog.
func (e *Engine) Register(name string, data []byte, opts ...ModelOption) {
	r := registration{revision: defaultRevision}
	for _, opt := range opts {
		opt(&r)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	revs, ok := e.models[name]
	if !ok {
		revs = make(map[string]catalogEntry)
		e.models[name] = revs
	}
	revs[r.revision] = catalogEntry{data: data, token: r.token}
}

// RegisterDefinition renders and registers a definition.
func (e *Engine) RegisterDefinition(name string, def Definition, opts ...ModelOption) error {
	data, err := def.JSON()
	if err != nil {
		return err
	}
	e.Register(name, data, opts...)
	return nil
}

func (e *Engine) observe(ev resource.Event) {
	switch ev.Type {
	case resource.EventStaleDrop:
		e.logger.Warn("free of dead handle",
			zap.Uint64("handle", uint64(ev.Handle)),
			zap.Uint32("type", uint32(ev.TypeID)))
	default:
		e.logger.Debug("handle "+ev.Type.String(),
			zap.Uint64("handle", uint64(ev.Handle)),
			zap.Uint32("type", uint32(ev.TypeID)))
	}
}

// Name implements native.Library.
func (e *Engine) Name() string {
	return "wordlevel"
}

// FromPretrained implements native.Library.
func (e *Engine) FromPretrained(name string, params native.Params) native.Handle {
	if name == "" {
		return 0
	}
	rev := params.Revision
	if rev == "" {
		rev = defaultRevision
	}

	e.mu.RLock()
	entry, ok := e.models[name][rev]
	e.mu.RUnlock()
	if ok {
		if entry.token != "" && entry.token != params.Token {
			return 0
		}
		return e.FromBuffer(entry.data)
	}

	if e.modelDir == "" {
		return 0
	}
	candidates := []string{filepath.Join(e.modelDir, name, rev, "tokenizer.json")}
	if rev == defaultRevision {
		candidates = append(candidates, filepath.Join(e.modelDir, name, "tokenizer.json"))
	}
	for _, path := range candidates {
		if h := e.FromFile(path); h != 0 {
			return h
		}
	}
	return 0
}

// FromFile implements native.Library.
func (e *Engine) FromFile(path string) native.Handle {
	if path == "" {
		return 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return e.FromBuffer(data)
}

// FromBuffer implements native.Library.
func (e *Engine) FromBuffer(data []byte) native.Handle {
	if len(data) == 0 {
		return 0
	}
	m, err := parseModel(data)
	if err != nil {
		e.logger.Debug("definition rejected", zap.Error(err))
		return 0
	}
	return native.Handle(e.table.Insert(typeTokenizer, m))
}

func (e *Engine) model(h native.Handle) *model {
	v, ok := e.table.GetTyped(resource.Handle(h), typeTokenizer)
	if !ok {
		return nil
	}
	return v.(*model)
}

func (e *Engine) encoding(h native.Handle) *encoding {
	v, ok := e.table.GetTyped(resource.Handle(h), typeEncoding)
	if !ok {
		return nil
	}
	return v.(*encoding)
}

// Encode implements native.Library.
func (e *Engine) Encode(tokenizer native.Handle, text string, addSpecialTokens bool) native.Handle {
	m := e.model(tokenizer)
	if m == nil {
		return 0
	}
	enc, ok := m.encode(text, addSpecialTokens)
	if !ok {
		return 0
	}
	return native.Handle(e.table.Insert(typeEncoding, enc))
}

// Decode implements native.Library.
func (e *Engine) Decode(tokenizer native.Handle, ids []uint32, skipSpecialTokens bool) (string, bool) {
	m := e.model(tokenizer)
	if m == nil {
		return "", false
	}
	return m.decode(ids, skipSpecialTokens)
}

// Length implements native.Library.
func (e *Engine) Length(h native.Handle) int {
	enc := e.encoding(h)
	if enc == nil {
		return 0
	}
	return len(enc.ids)
}

// Uint32s implements native.Library.
func (e *Engine) Uint32s(h native.Handle, field native.Field) ([]uint32, bool) {
	enc := e.encoding(h)
	if enc == nil {
		return nil, false
	}
	var src []uint32
	switch field {
	case native.FieldIDs:
		src = enc.ids
	case native.FieldTypeIDs:
		src = enc.typeIDs
	case native.FieldSpecialTokensMask:
		src = enc.special
	case native.FieldAttentionMask:
		src = enc.attention
	default:
		return nil, false
	}
	return append(make([]uint32, 0, len(src)), src...), true
}

// Tokens implements native.Library.
func (e *Engine) Tokens(h native.Handle) ([]string, bool) {
	enc := e.encoding(h)
	if enc == nil {
		return nil, false
	}
	return append(make([]string, 0, len(enc.tokens)), enc.tokens...), true
}

// Offsets implements native.Library.
func (e *Engine) Offsets(h native.Handle) ([]native.Offset, bool) {
	enc := e.encoding(h)
	if enc == nil {
		return nil, false
	}
	out := make([]native.Offset, len(enc.offsets))
	for i, o := range enc.offsets {
		out[i] = native.Offset{Start: o.start, End: o.end}
	}
	return out, true
}

// FreeTokenizer implements native.Library.
func (e *Engine) FreeTokenizer(h native.Handle) {
	if h == 0 {
		return
	}
	e.table.Remove(resource.Handle(h), typeTokenizer)
}

// FreeEncoding implements native.Library.
func (e *Engine) FreeEncoding(h native.Handle) {
	if h == 0 {
		return
	}
	e.table.Remove(resource.Handle(h), typeEncoding)
}

// Close implements native.Library.
func (e *Engine) Close() error {
	return e.table.Close()
}

// Stats reports live objects and frees of dead handles.
type Stats struct {
	Tokenizers int
	Encodings  int
	StaleFrees int
}

// Stats returns current object counts.
func (e *Engine) Stats() Stats {
	return Stats{
		Tokenizers: e.table.Live(typeTokenizer),
		Encodings:  e.table.Live(typeEncoding),
		StaleFrees: e.table.StaleDrops(),
	}
}

var _ native.Library = (*Engine)(nil)

package tokenizers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/go-tokenizers/native"
	"github.com/wippyai/go-tokenizers/native/wordlevel"
)

const (
	foxSentence = "The quick brown fox jumps over the lazy dog."
	foxModel    = "word-level-fox"
)

func foxDefinition() wordlevel.Definition {
	return wordlevel.NewDefinition(strings.Fields(foxSentence)...)
}

func foxJSON(t *testing.T) []byte {
	t.Helper()
	data, err := foxDefinition().JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	return data
}

func newTestEngine(t *testing.T) *wordlevel.Engine {
	t.Helper()
	e := wordlevel.New()
	if err := e.RegisterDefinition(foxModel, foxDefinition()); err != nil {
		t.Fatalf("RegisterDefinition failed: %v", err)
	}
	return e
}

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *wordlevel.Engine) {
	t.Helper()
	e := newTestEngine(t)
	rt := New(e, opts...)
	t.Cleanup(func() { rt.Close() })
	return rt, e
}

func loadFox(t *testing.T, rt *Runtime) *Tokenizer {
	t.Helper()
	tok, err := rt.FromPretrained(context.Background(), foxModel)
	if err != nil {
		t.Fatalf("FromPretrained failed: %v", err)
	}
	return tok
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// gatedLibrary blocks Encode and FromBuffer until release is closed.
type gatedLibrary struct {
	native.Library
	entered chan struct{}
	release chan struct{}
}

func newGatedLibrary(lib native.Library) *gatedLibrary {
	return &gatedLibrary{
		Library: lib,
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedLibrary) Encode(tok native.Handle, text string, add bool) native.Handle {
	g.entered <- struct{}{}
	<-g.release
	return g.Library.Encode(tok, text, add)
}

func (g *gatedLibrary) FromBuffer(data []byte) native.Handle {
	g.entered <- struct{}{}
	<-g.release
	return g.Library.FromBuffer(data)
}

// trackingLibrary records frees and any engine call made after Close.
type trackingLibrary struct {
	native.Library
	mu         sync.Mutex
	closes     int
	frees      int
	afterClose []string
}

func newTrackingLibrary(lib native.Library) *trackingLibrary {
	return &trackingLibrary{Library: lib}
}

func (l *trackingLibrary) note(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closes > 0 {
		l.afterClose = append(l.afterClose, op)
	}
}

func (l *trackingLibrary) state() (closes, frees int, afterClose []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes, l.frees, append([]string(nil), l.afterClose...)
}

func (l *trackingLibrary) FromPretrained(name string, params native.Params) native.Handle {
	l.note(native.SymFromPretrained)
	return l.Library.FromPretrained(name, params)
}

func (l *trackingLibrary) FromFile(path string) native.Handle {
	l.note(native.SymFromFile)
	return l.Library.FromFile(path)
}

func (l *trackingLibrary) FromBuffer(data []byte) native.Handle {
	l.note(native.SymFromBuffer)
	return l.Library.FromBuffer(data)
}

func (l *trackingLibrary) Encode(tok native.Handle, text string, add bool) native.Handle {
	l.note(native.SymEncode)
	return l.Library.Encode(tok, text, add)
}

func (l *trackingLibrary) Decode(tok native.Handle, ids []uint32, skip bool) (string, bool) {
	l.note(native.SymDecode)
	return l.Library.Decode(tok, ids, skip)
}

func (l *trackingLibrary) Length(enc native.Handle) int {
	l.note(native.SymEncodingGetLength)
	return l.Library.Length(enc)
}

func (l *trackingLibrary) Uint32s(enc native.Handle, field native.Field) ([]uint32, bool) {
	l.note(field.Symbol())
	return l.Library.Uint32s(enc, field)
}

func (l *trackingLibrary) Tokens(enc native.Handle) ([]string, bool) {
	l.note(native.SymEncodingGetTokens)
	return l.Library.Tokens(enc)
}

func (l *trackingLibrary) Offsets(enc native.Handle) ([]native.Offset, bool) {
	l.note(native.SymEncodingGetOffsets)
	return l.Library.Offsets(enc)
}

func (l *trackingLibrary) FreeTokenizer(h native.Handle) {
	l.note(native.SymTokenizerFree)
	l.mu.Lock()
	l.frees++
	l.mu.Unlock()
	l.Library.FreeTokenizer(h)
}

func (l *trackingLibrary) FreeEncoding(h native.Handle) {
	l.note(native.SymEncodingFree)
	l.mu.Lock()
	l.frees++
	l.mu.Unlock()
	l.Library.FreeEncoding(h)
}

func (l *trackingLibrary) Close() error {
	l.mu.Lock()
	l.closes++
	l.mu.Unlock()
	return l.Library.Close()
}

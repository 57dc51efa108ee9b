package tokenizers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/wippyai/go-tokenizers/config"
)

func writeModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "acme", "fox")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "tokenizer.json"), foxJSON(t), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRuntime_ClosedRejectsConstruction(t *testing.T) {
	rt, _ := newTestRuntime(t)
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := rt.FromPretrained(context.Background(), foxModel); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
	if _, err := rt.FromBytes(context.Background(), foxJSON(t)); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestRuntime_CloseWithLiveObjects(t *testing.T) {
	lib := newTrackingLibrary(newTestEngine(t))
	rt := New(lib)
	ctx := context.Background()

	tok := loadFox(t, rt)
	enc, err := tok.Encode(ctx, "brown fox")
	if err != nil {
		t.Fatal(err)
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closes, _, _ := lib.state(); closes != 0 {
		t.Fatal("engine unloaded while objects are live")
	}

	if _, err := enc.Len(); !errors.Is(err, ErrReleased) {
		t.Fatalf("Len after Close: %v", err)
	}
	if _, err := enc.IDs(); !errors.Is(err, ErrReleased) {
		t.Fatalf("IDs after Close: %v", err)
	}
	if _, err := enc.Tokens(); !errors.Is(err, ErrReleased) {
		t.Fatalf("Tokens after Close: %v", err)
	}
	if _, err := enc.Snapshot(); !errors.Is(err, ErrReleased) {
		t.Fatalf("Snapshot after Close: %v", err)
	}
	if _, err := tok.Encode(ctx, "fox"); !errors.Is(err, ErrReleased) {
		t.Fatalf("Encode after Close: %v", err)
	}
	if _, err := tok.Decode(ctx, []uint32{4}); !errors.Is(err, ErrReleased) {
		t.Fatalf("Decode after Close: %v", err)
	}

	enc.Release()
	if closes, frees, _ := lib.state(); closes != 0 || frees != 1 {
		t.Fatalf("after encoding release: closes=%d frees=%d", closes, frees)
	}
	tok.Release()
	closes, frees, after := lib.state()
	if closes != 1 || frees != 2 {
		t.Fatalf("after tokenizer release: closes=%d frees=%d", closes, frees)
	}
	if len(after) != 0 {
		t.Fatalf("engine called after unload: %v", after)
	}

	enc.Release()
	tok.Release()
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closes, _, after := lib.state(); closes != 1 || len(after) != 0 {
		t.Fatalf("closes=%d after=%v", closes, after)
	}
	if s := rt.Stats(); s != (Stats{}) {
		t.Fatalf("Stats = %+v", s)
	}
}

func TestRuntime_CloseThenCleanupUnloadsEngine(t *testing.T) {
	lib := newTrackingLibrary(newTestEngine(t))
	rt := New(lib)

	func() {
		tok := loadFox(t, rt)
		if _, err := tok.Encode(context.Background(), "lazy dog."); err != nil {
			t.Fatal(err)
		}
	}()

	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, "engine unload after cleanups", func() bool {
		runtime.GC()
		closes, _, _ := lib.state()
		return closes == 1
	})

	_, frees, after := lib.state()
	if frees != 2 {
		t.Fatalf("frees = %d, want 2", frees)
	}
	if len(after) != 0 {
		t.Fatalf("engine called after unload: %v", after)
	}
	if s := rt.Stats(); s != (Stats{}) {
		t.Fatalf("Stats = %+v", s)
	}
}

func TestRuntime_CloseIdleUnloadsAtOnce(t *testing.T) {
	lib := newTrackingLibrary(newTestEngine(t))
	rt := New(lib)

	tok := loadFox(t, rt)
	tok.Release()
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closes, _, _ := lib.state(); closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}
}

func TestRuntime_Stats(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	a := loadFox(t, rt)
	b := loadFox(t, rt)
	enc, err := a.Encode(ctx, "fox")
	if err != nil {
		t.Fatal(err)
	}

	if s := rt.Stats(); s.Tokenizers != 2 || s.Encodings != 1 {
		t.Fatalf("Stats = %+v", s)
	}
	a.Release()
	b.Release()
	if s := rt.Stats(); s.Tokenizers != 0 || s.Encodings != 1 {
		t.Fatalf("Stats after tokenizer release = %+v", s)
	}
	enc.Release()
	if s := rt.Stats(); s != (Stats{}) {
		t.Fatalf("Stats after all releases = %+v", s)
	}
}

func TestOpen_WordLevelBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendWordLevel
	cfg.ModelDir = writeModelDir(t)
	cfg.Encode.AddSpecialTokens = false

	rt, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rt.Close()

	if rt.Library().Name() != "wordlevel" {
		t.Fatalf("backend = %s", rt.Library().Name())
	}

	tok, err := rt.FromPretrained(context.Background(), "acme/fox")
	if err != nil {
		t.Fatalf("FromPretrained from model dir: %v", err)
	}
	defer tok.Close()

	enc, err := tok.Encode(context.Background(), "brown fox")
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	if n, _ := enc.Len(); n != 2 {
		t.Fatalf("Len = %d, config should disable special tokens", n)
	}
}

func TestOpen_AutoFallsBackToWordLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LibraryPath = filepath.Join(t.TempDir(), "missing", "libtokenizers_sys.so")
	cfg.ModelDir = writeModelDir(t)

	rt, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rt.Close()

	if rt.Library().Name() != "wordlevel" {
		t.Fatalf("backend = %s", rt.Library().Name())
	}
}

func TestOpen_AutoWithoutEngine(t *testing.T) {
	cfg := config.Default()
	cfg.LibraryPath = filepath.Join(t.TempDir(), "missing", "libtokenizers_sys.so")

	_, err := Open(context.Background(), cfg)
	if !errors.Is(err, ErrLibrary) {
		t.Fatalf("expected ErrLibrary, got %v", err)
	}
}

func TestOpen_NativeBackendMissingLibrary(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendNative
	cfg.LibraryPath = filepath.Join(t.TempDir(), "libtokenizers_sys.so")

	if _, err := Open(context.Background(), cfg); !errors.Is(err, ErrLibrary) {
		t.Fatalf("expected ErrLibrary, got %v", err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "gpu"

	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

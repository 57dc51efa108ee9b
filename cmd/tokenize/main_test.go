package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/go-tokenizers/config"
	"github.com/wippyai/go-tokenizers/native/wordlevel"
)

func setupModelDir(t *testing.T) string {
	t.Helper()
	for _, env := range []string{config.EnvConfig, config.EnvBackend, config.EnvLibraryPath,
		config.EnvWasmModule, config.EnvModelDir, config.EnvLogLevel, config.EnvCallTimeout} {
		t.Setenv(env, "")
	}

	def := wordlevel.NewDefinition(strings.Fields("The quick brown fox jumps over the lazy dog.")...)
	data, err := def.JSON()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "fox"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "fox", "tokenizer.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := setupModelDir(t)
	base := []string{"--backend", "wordlevel", "--model-dir", dir, "--model", "fox"}
	var out bytes.Buffer
	err := run(context.Background(), append(base, args...), strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestEncodeCommand(t *testing.T) {
	out, err := runCLI(t, "", "--no-special", "encode", "quick", "fox")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.TrimSpace(out) != "4 6" {
		t.Fatalf("output = %q", out)
	}
}

func TestEncodeCommand_StdinJSON(t *testing.T) {
	out, err := runCLI(t, "lazy dog.\n", "--format", "json", "encode")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var res encodeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if !reflect.DeepEqual(res.Tokens, []string{"[CLS]", "lazy", "dog.", "[SEP]"}) {
		t.Fatalf("tokens = %v", res.Tokens)
	}
	if len(res.IDs) != len(res.Tokens) {
		t.Fatalf("ids = %v", res.IDs)
	}
}

func TestEncodeCommand_CBOR(t *testing.T) {
	out, err := runCLI(t, "", "--format", "cbor", "--no-special", "encode", "brown fox")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var res encodeResult
	if err := cbor.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not CBOR: %v", err)
	}
	if !reflect.DeepEqual(res.IDs, []uint32{5, 6}) || !reflect.DeepEqual(res.Tokens, []string{"brown", "fox"}) {
		t.Fatalf("result = %+v", res)
	}
}

func TestDecodeCommand(t *testing.T) {
	out, err := runCLI(t, "", "decode", "1", "4,6", "2")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if strings.TrimSpace(out) != "quick fox" {
		t.Fatalf("output = %q", out)
	}

	out, err = runCLI(t, "", "--keep-special", "decode", "1 4 6 2")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if strings.TrimSpace(out) != "[CLS] quick fox [SEP]" {
		t.Fatalf("output = %q", out)
	}
}

func TestDecodeCommand_ConfigKeepsSpecialTokens(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "tokenizers.yaml")
	if err := os.WriteFile(cfgPath, []byte("decode:\n  skip_special_tokens: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "--config", cfgPath, "decode", "1 4 6 2")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if strings.TrimSpace(out) != "[CLS] quick fox [SEP]" {
		t.Fatalf("output = %q", out)
	}
}

func TestInspectCommand(t *testing.T) {
	out, err := runCLI(t, "", "inspect", "brown", "fox")
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	for _, want := range []string{"Engine: wordlevel", "Source: fox@main", "Tokens: 4", `"brown"`, "0:5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing command", nil},
		{"unknown command", []string{"split", "x"}},
		{"bad id", []string{"decode", "12x"}},
		{"bad format", []string{"--format", "xml", "encode", "fox"}},
		{"unknown model", []string{"--model", "nope", "encode", "fox"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, "", tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunRequiresSource(t *testing.T) {
	setupModelDir(t)
	var out bytes.Buffer
	if err := run(context.Background(), []string{"encode", "fox"}, strings.NewReader(""), &out); err == nil {
		t.Fatal("expected error without --model or --file")
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1,2", "3", " 4 5 "})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []uint32{1, 2, 3, 4, 5}) {
		t.Fatalf("ids = %v", ids)
	}
	if _, err := parseIDs([]string{"4294967296"}); err == nil {
		t.Fatal("expected overflow error")
	}
	if ids, err := parseIDs(nil); err != nil || len(ids) != 0 {
		t.Fatalf("parseIDs(nil) = %v, %v", ids, err)
	}
}

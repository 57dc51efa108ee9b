package wordlevel

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wippyai/go-tokenizers/native"
)

func testEngine(t *testing.T, words ...string) (*Engine, native.Handle) {
	t.Helper()
	e := New()
	t.Cleanup(func() { e.Close() })

	data, err := NewDefinition(words...).JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	h := e.FromBuffer(data)
	if h == 0 {
		t.Fatal("FromBuffer returned 0")
	}
	return e, h
}

func TestEngine_EncodeWithSpecialTokens(t *testing.T) {
	e, tok := testEngine(t, "hello", "world")

	enc := e.Encode(tok, "hello world", true)
	if enc == 0 {
		t.Fatal("Encode returned 0")
	}
	if n := e.Length(enc); n != 4 {
		t.Fatalf("Length = %d, want 4", n)
	}

	ids, ok := e.Uint32s(enc, native.FieldIDs)
	if !ok {
		t.Fatal("ids not available")
	}
	if want := []uint32{1, 3, 4, 2}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	tokens, _ := e.Tokens(enc)
	if want := []string{"[CLS]", "hello", "world", "[SEP]"}; !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}

	mask, _ := e.Uint32s(enc, native.FieldSpecialTokensMask)
	if want := []uint32{1, 0, 0, 1}; !reflect.DeepEqual(mask, want) {
		t.Fatalf("special mask = %v, want %v", mask, want)
	}

	attn, _ := e.Uint32s(enc, native.FieldAttentionMask)
	if want := []uint32{1, 1, 1, 1}; !reflect.DeepEqual(attn, want) {
		t.Fatalf("attention mask = %v, want %v", attn, want)
	}

	offsets, _ := e.Offsets(enc)
	if offsets[1] != (native.Offset{Start: 0, End: 5}) || offsets[2] != (native.Offset{Start: 6, End: 11}) {
		t.Fatalf("offsets = %v", offsets)
	}
}

func TestEngine_EncodeWithoutSpecialTokens(t *testing.T) {
	e, tok := testEngine(t, "hello")

	enc := e.Encode(tok, "hello unknown", false)
	tokens, _ := e.Tokens(enc)
	if want := []string{"hello", "[UNK]"}; !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
}

func TestEngine_EncodeEmptyText(t *testing.T) {
	e, tok := testEngine(t, "hello")

	enc := e.Encode(tok, "", false)
	if enc == 0 {
		t.Fatal("Encode of empty text should succeed")
	}
	ids, ok := e.Uint32s(enc, native.FieldIDs)
	if !ok || ids == nil || len(ids) != 0 {
		t.Fatalf("ids = %v (ok=%v), want empty non-nil", ids, ok)
	}
}

func TestEngine_Decode(t *testing.T) {
	e, tok := testEngine(t, "hello", "world")

	text, ok := e.Decode(tok, []uint32{1, 3, 4, 2}, true)
	if !ok || text != "hello world" {
		t.Fatalf("Decode = %q, %v", text, ok)
	}

	text, ok = e.Decode(tok, []uint32{1, 3, 2}, false)
	if !ok || text != "[CLS] hello [SEP]" {
		t.Fatalf("Decode keeping specials = %q, %v", text, ok)
	}

	if _, ok := e.Decode(tok, []uint32{999}, true); ok {
		t.Fatal("Decode of unknown id should fail")
	}
}

func TestEngine_LowercaseAndWordSplit(t *testing.T) {
	e := New()
	defer e.Close()

	def := NewDefinition("the", "fox", ".")
	def.Lowercase = true
	def.PreTokenizer = Whitespace
	data, _ := def.JSON()

	tok := e.FromBuffer(data)
	enc := e.Encode(tok, "The FOX.", false)
	tokens, _ := e.Tokens(enc)
	if want := []string{"the", "fox", "."}; !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
}

func TestEngine_RejectsBadDefinitions(t *testing.T) {
	e := New()
	defer e.Close()

	cases := map[string][]byte{
		"empty":        nil,
		"not json":     []byte("{"),
		"wrong model":  []byte(`{"model":{"type":"BPE","vocab":{"a":0}}}`),
		"empty vocab":  []byte(`{"model":{"type":"WordLevel","vocab":{}}}`),
		"invalid utf8": {0xff, 0xfe},
		"bad pretok":   []byte(`{"pre_tokenizer":{"type":"Metaspace"},"model":{"type":"WordLevel","vocab":{"a":0}}}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if h := e.FromBuffer(data); h != 0 {
				t.Fatalf("FromBuffer accepted %s", name)
			}
		})
	}
}

func TestEngine_AcceptsCommentedDefinition(t *testing.T) {
	e := New()
	defer e.Close()

	data := []byte(`{
		// hand-written vocabulary
		"pre_tokenizer": {"type": "WhitespaceSplit"},
		"model": {
			"type": "WordLevel",
			"vocab": {"[UNK]": 0, "fox": 1, "dog": 2,}, /* trailing comma */
			"unk_token": "[UNK]",
		},
	}`)
	tok := e.FromBuffer(data)
	if tok == 0 {
		t.Fatal("FromBuffer rejected a commented definition")
	}
	enc := e.Encode(tok, "dog fox cat", false)
	ids, _ := e.Uint32s(enc, native.FieldIDs)
	if want := []uint32{2, 1, 0}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
}

func TestEngine_Pretrained(t *testing.T) {
	e := New()
	defer e.Close()

	if err := e.RegisterDefinition("demo", NewDefinition("a")); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterDefinition("demo", NewDefinition("b"), Revision("v2")); err != nil {
		t.Fatal(err)
	}
	if err := e.RegisterDefinition("gated", NewDefinition("a"), RequireToken("secret")); err != nil {
		t.Fatal(err)
	}

	if h := e.FromPretrained("demo", native.Params{}); h == 0 {
		t.Fatal("default revision not found")
	}
	v2 := e.FromPretrained("demo", native.Params{Revision: "v2"})
	if v2 == 0 {
		t.Fatal("revision v2 not found")
	}
	enc := e.Encode(v2, "b", false)
	if tokens, _ := e.Tokens(enc); tokens[0] != "b" {
		t.Fatalf("revision v2 tokens = %v", tokens)
	}

	if h := e.FromPretrained("demo", native.Params{Revision: "v3"}); h != 0 {
		t.Fatal("unknown revision should fail")
	}
	if h := e.FromPretrained("definitely-not-a-real-model-xyz", native.Params{}); h != 0 {
		t.Fatal("unknown model should fail")
	}
	if h := e.FromPretrained("gated", native.Params{}); h != 0 {
		t.Fatal("gated model without token should fail")
	}
	if h := e.FromPretrained("gated", native.Params{Token: "secret"}); h == 0 {
		t.Fatal("gated model with token should load")
	}
}

func TestEngine_ModelDir(t *testing.T) {
	dir := t.TempDir()
	data, _ := NewDefinition("x").JSON()

	if err := os.MkdirAll(filepath.Join(dir, "org", "model", "v1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "org", "model", "tokenizer.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "org", "model", "v1", "tokenizer.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(WithModelDir(dir))
	defer e.Close()

	if h := e.FromPretrained("org/model", native.Params{}); h == 0 {
		t.Fatal("default revision not resolved from model dir")
	}
	if h := e.FromPretrained("org/model", native.Params{Revision: "v1"}); h == 0 {
		t.Fatal("revision v1 not resolved from model dir")
	}
	if h := e.FromPretrained("org/missing", native.Params{}); h != 0 {
		t.Fatal("missing model should fail")
	}
	if h := e.FromFile(filepath.Join(dir, "nope.json")); h != 0 {
		t.Fatal("FromFile of missing path should fail")
	}
}

func TestEngine_EncodingOutlivesTokenizer(t *testing.T) {
	e, tok := testEngine(t, "hello")

	enc := e.Encode(tok, "hello", true)
	e.FreeTokenizer(tok)

	if n := e.Length(enc); n != 3 {
		t.Fatalf("Length after tokenizer free = %d, want 3", n)
	}
	if _, ok := e.Tokens(enc); !ok {
		t.Fatal("tokens should remain readable")
	}
	if h := e.Encode(tok, "hello", true); h != 0 {
		t.Fatal("Encode on freed tokenizer should fail")
	}
}

func TestEngine_DoubleFreeIsCounted(t *testing.T) {
	e, tok := testEngine(t, "hello")

	enc := e.Encode(tok, "hello", false)
	e.FreeEncoding(enc)
	e.FreeEncoding(enc)
	e.FreeTokenizer(tok)
	e.FreeTokenizer(0)

	s := e.Stats()
	if s.Tokenizers != 0 || s.Encodings != 0 {
		t.Fatalf("live objects after free: %+v", s)
	}
	if s.StaleFrees != 1 {
		t.Fatalf("StaleFrees = %d, want 1", s.StaleFrees)
	}
}

func TestEngine_HandleTypesAreChecked(t *testing.T) {
	e, tok := testEngine(t, "hello")

	enc := e.Encode(tok, "hello", false)
	if h := e.Encode(enc, "hello", false); h != 0 {
		t.Fatal("encoding handle accepted as tokenizer")
	}
	if n := e.Length(tok); n != 0 {
		t.Fatal("tokenizer handle accepted as encoding")
	}
	if _, ok := e.Uint32s(tok, native.FieldIDs); ok {
		t.Fatal("tokenizer handle accepted for field access")
	}
}

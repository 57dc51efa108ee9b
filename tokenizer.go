package tokenizers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
)

// Tokenizer is a loaded engine tokenizer.
//
// Calls on one Tokenizer are serialized. Encodings it produces are
// independent objects and stay valid after the Tokenizer is released.
type Tokenizer struct {
	res    *HandleResource
	rt     *Runtime
	source Source
}

// EncodeOption configures Encode.
type EncodeOption func(*encodeOptions)

type encodeOptions struct {
	addSpecial bool
}

// WithoutSpecialTokens encodes without the model's special tokens.
func WithoutSpecialTokens() EncodeOption {
	return func(o *encodeOptions) {
		o.addSpecial = false
	}
}

// WithSpecialTokens adds the model's special tokens.
func WithSpecialTokens() EncodeOption {
	return func(o *encodeOptions) {
		o.addSpecial = true
	}
}

// DecodeOption configures Decode.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	skipSpecial bool
}

// KeepSpecialTokens renders special tokens in decoded text.
func KeepSpecialTokens() DecodeOption {
	return func(o *decodeOptions) {
		o.skipSpecial = false
	}
}

// SkipSpecialTokens drops special tokens from decoded text.
func SkipSpecialTokens() DecodeOption {
	return func(o *decodeOptions) {
		o.skipSpecial = true
	}
}

// Source describes how the tokenizer was loaded.
func (t *Tokenizer) Source() Source {
	return t.source
}

// Encode tokenizes text. By default the model's special tokens are added.
func (t *Tokenizer) Encode(ctx context.Context, text string, opts ...EncodeOption) (*Encoding, error) {
	o := encodeOptions{addSpecial: t.rt.addSpecial}
	for _, opt := range opts {
		opt(&o)
	}

	if i := strings.IndexByte(text, 0); i >= 0 {
		return nil, errors.New(errors.PhaseMarshal, errors.KindEncoding).
			Op(native.SymEncode).
			Subject("%s", preview(text)).
			Detail("text contains NUL at byte %d", i).
			Build()
	}
	if !utf8.ValidString(text) {
		return nil, errors.New(errors.PhaseMarshal, errors.KindEncoding).
			Op(native.SymEncode).
			Subject("%s", preview(text)).
			Detail("text is not valid UTF-8").
			Cause(errors.InvalidUTF8(errors.PhaseMarshal, []byte(text))).
			Build()
	}
	if err := t.rt.checkOpen(); err != nil {
		return nil, err
	}

	h, err := use(ctx, t.res, t.rt.callTimeout, native.SymEncode, func(tok native.Handle) (native.Handle, error) {
		h := t.rt.lib.Encode(tok, text, o.addSpecial)
		if h != 0 {
			t.rt.retain()
		}
		return h, nil
	}, t.rt.orphan(t.rt.lib.FreeEncoding))
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, errors.Encoding(native.SymEncode, preview(text))
	}

	res, err := t.rt.newEncodingResource(h)
	if err != nil {
		return nil, err
	}
	return &Encoding{res: res, rt: t.rt}, nil
}

// EncodeBatch encodes each text in order. On failure the encodings already
// produced are released and only the error is returned.
func (t *Tokenizer) EncodeBatch(ctx context.Context, texts []string, opts ...EncodeOption) ([]*Encoding, error) {
	out := make([]*Encoding, 0, len(texts))
	for i, text := range texts {
		enc, err := t.Encode(ctx, text, opts...)
		if err != nil {
			for _, e := range out {
				e.Release()
			}
			return nil, errors.New(errors.PhaseCall, errors.KindEncoding).
				Op("encode_batch").
				Subject("item %d", i).
				Cause(err).
				Build()
		}
		out = append(out, enc)
	}
	return out, nil
}

type decoded struct {
	text string
	ok   bool
}

// Decode converts ids back to text. By default special tokens are skipped.
// Decoding is not an exact inverse of Encode. An empty ids slice decodes to
// the empty string without calling the engine.
func (t *Tokenizer) Decode(ctx context.Context, ids []uint32, opts ...DecodeOption) (string, error) {
	o := decodeOptions{skipSpecial: t.rt.skipSpecial}
	for _, opt := range opts {
		opt(&o)
	}

	if t.res.Released() {
		return "", errors.Released("tokenizer")
	}
	if len(ids) == 0 {
		return "", nil
	}
	if err := t.rt.checkOpen(); err != nil {
		return "", err
	}

	buf := append([]uint32(nil), ids...)
	d, err := use(ctx, t.res, t.rt.callTimeout, native.SymDecode, func(tok native.Handle) (decoded, error) {
		s, ok := t.rt.lib.Decode(tok, buf, o.skipSpecial)
		return decoded{text: s, ok: ok}, nil
	}, nil)
	if err != nil {
		return "", err
	}
	if !d.ok {
		return "", errors.Decoding(native.SymDecode, previewIDs(ids))
	}
	return d.text, nil
}

// Released reports whether the tokenizer has been released.
func (t *Tokenizer) Released() bool {
	return t.res.Released()
}

// Release frees the engine tokenizer. Only the first call has an effect.
func (t *Tokenizer) Release() {
	t.res.Release()
}

// Close releases the tokenizer and implements io.Closer.
func (t *Tokenizer) Close() error {
	return t.res.Close()
}

const previewLen = 32

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLen {
		return fmt.Sprintf("%q", text)
	}
	runes := []rune(text)
	return fmt.Sprintf("%q...", string(runes[:previewLen]))
}

func previewIDs(ids []uint32) string {
	const n = 8
	if len(ids) <= n {
		return fmt.Sprint(ids)
	}
	return fmt.Sprintf("%v... (%d ids)", ids[:n], len(ids))
}

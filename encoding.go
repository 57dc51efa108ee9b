package tokenizers

import (
	"context"

	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
)

// Offset is a byte range [Start, End) into the encoded text.
type Offset = native.Offset

// Encoding is the result of one Encode call. Every sequence it exposes has
// Len elements. Values are copied out of the engine on each call.
type Encoding struct {
	res *HandleResource
	rt  *Runtime
}

// Len returns the number of tokens.
func (e *Encoding) Len() (int, error) {
	return use(context.Background(), e.res, e.rt.callTimeout, native.SymEncodingGetLength, func(h native.Handle) (int, error) {
		return e.rt.lib.Length(h), nil
	}, nil)
}

type u32Result struct {
	values []uint32
	ok     bool
}

func (e *Encoding) uint32s(field native.Field) ([]uint32, error) {
	r, err := use(context.Background(), e.res, e.rt.callTimeout, field.Symbol(), func(h native.Handle) (u32Result, error) {
		v, ok := e.rt.lib.Uint32s(h, field)
		return u32Result{values: v, ok: ok}, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok {
		return nil, errors.Access(field.Symbol(), field.String())
	}
	if r.values == nil {
		return []uint32{}, nil
	}
	return r.values, nil
}

// IDs returns the token ids.
func (e *Encoding) IDs() ([]uint32, error) {
	return e.uint32s(native.FieldIDs)
}

// TypeIDs returns the segment id of each token.
func (e *Encoding) TypeIDs() ([]uint32, error) {
	return e.uint32s(native.FieldTypeIDs)
}

// SpecialTokensMask marks special tokens with 1.
func (e *Encoding) SpecialTokensMask() ([]uint32, error) {
	return e.uint32s(native.FieldSpecialTokensMask)
}

// AttentionMask marks attended positions with 1.
func (e *Encoding) AttentionMask() ([]uint32, error) {
	return e.uint32s(native.FieldAttentionMask)
}

type tokensResult struct {
	tokens []string
	ok     bool
}

// Tokens returns the token strings.
func (e *Encoding) Tokens() ([]string, error) {
	r, err := use(context.Background(), e.res, e.rt.callTimeout, native.SymEncodingGetTokens, func(h native.Handle) (tokensResult, error) {
		v, ok := e.rt.lib.Tokens(h)
		return tokensResult{tokens: v, ok: ok}, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok {
		return nil, errors.Access(native.SymEncodingGetTokens, "tokens")
	}
	if r.tokens == nil {
		return []string{}, nil
	}
	return r.tokens, nil
}

type offsetsResult struct {
	offsets []Offset
	ok      bool
}

// Offsets returns the byte span of each token in the input text. Special
// tokens added by the engine have an empty span.
func (e *Encoding) Offsets() ([]Offset, error) {
	r, err := use(context.Background(), e.res, e.rt.callTimeout, native.SymEncodingGetOffsets, func(h native.Handle) (offsetsResult, error) {
		v, ok := e.rt.lib.Offsets(h)
		return offsetsResult{offsets: v, ok: ok}, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok {
		return nil, errors.Access(native.SymEncodingGetOffsets, "offsets")
	}
	if r.offsets == nil {
		return []Offset{}, nil
	}
	return r.offsets, nil
}

// Snapshot is every field of an encoding copied at once.
type Snapshot struct {
	IDs               []uint32
	Tokens            []string
	TypeIDs           []uint32
	SpecialTokensMask []uint32
	AttentionMask     []uint32
	Offsets           []Offset
}

// Len returns the number of tokens.
func (s Snapshot) Len() int {
	return len(s.IDs)
}

// Snapshot reads every field and checks that all have Len elements.
func (e *Encoding) Snapshot() (Snapshot, error) {
	n, err := e.Len()
	if err != nil {
		return Snapshot{}, err
	}

	var s Snapshot
	if s.IDs, err = e.IDs(); err != nil {
		return Snapshot{}, err
	}
	if s.Tokens, err = e.Tokens(); err != nil {
		return Snapshot{}, err
	}
	if s.TypeIDs, err = e.TypeIDs(); err != nil {
		return Snapshot{}, err
	}
	if s.SpecialTokensMask, err = e.SpecialTokensMask(); err != nil {
		return Snapshot{}, err
	}
	if s.AttentionMask, err = e.AttentionMask(); err != nil {
		return Snapshot{}, err
	}
	if s.Offsets, err = e.Offsets(); err != nil {
		return Snapshot{}, err
	}

	lengths := []struct {
		field string
		n     int
	}{
		{"ids", len(s.IDs)},
		{"tokens", len(s.Tokens)},
		{"type ids", len(s.TypeIDs)},
		{"special tokens mask", len(s.SpecialTokensMask)},
		{"attention mask", len(s.AttentionMask)},
		{"offsets", len(s.Offsets)},
	}
	for _, l := range lengths {
		if l.n != n {
			return Snapshot{}, errors.New(errors.PhaseUnmarshal, errors.KindAccess).
				Op("snapshot").
				Detail("%s has %d elements, encoding has %d", l.field, l.n, n).
				Build()
		}
	}
	return s, nil
}

// Released reports whether the encoding has been released.
func (e *Encoding) Released() bool {
	return e.res.Released()
}

// Release frees the engine encoding. Only the first call has an effect.
func (e *Encoding) Release() {
	e.res.Release()
}

// Close releases the encoding and implements io.Closer.
func (e *Encoding) Close() error {
	return e.res.Close()
}

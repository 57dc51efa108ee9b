// Package tokenizers is a Go binding over the HuggingFace tokenizers engine
// exposed through its tokenizers_sys C ABI.
//
// Engine objects are opaque handles. Each Tokenizer and Encoding owns one
// handle through a HandleResource, which frees it exactly once and turns any
// later use into ErrReleased. Results are copied out of engine memory before a
// call returns, so nothing returned by this package aliases the engine.
//
// # Architecture Overview
//
//	tokenizers/          Runtime, Tokenizer, Encoding, HandleResource
//	├── native/          Boundary contract mirroring the C ABI
//	│   ├── dynlib/      libtokenizers_sys loaded with purego (no cgo)
//	│   ├── wasmlib/     the engine built for wasm32-wasi, run by wazero
//	│   └── wordlevel/   pure Go word-level engine
//	├── resource/        Generation-tagged handle tables
//	├── config/          YAML and environment configuration
//	├── errors/          Structured error types
//	└── cmd/tokenize/    Command line and interactive front end
//
// # Quick Start
//
//	tok, err := tokenizers.FromPretrained(ctx, "bert-base-uncased")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tok.Close()
//
//	enc, err := tok.Encode(ctx, "The quick brown fox")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer enc.Close()
//
//	ids, _ := enc.IDs()
//	text, _ := tok.Decode(ctx, ids)
//
// The package-level constructors use Default, which loads the engine named
// by the environment configuration once per process. Use Open or New to
// manage a Runtime explicitly.
//
// # Errors
//
// A null result from the engine becomes an error at the first wrapping call:
//
//	ErrConstruction  a tokenizer could not be created
//	ErrEncoding      text could not be encoded
//	ErrDecoding      ids could not be decoded
//	ErrAccess        an encoding field could not be read
//	ErrReleased      a released object was used
//
// # Concurrency
//
// Calls on one object are serialized. A call whose context ends returns at
// once; the engine call finishes in the background and any object it creates
// is freed.
package tokenizers

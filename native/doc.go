// Package native defines the boundary contract between the Go binding and a
// tokenizer engine.
//
// The engine exposes a C ABI in which every object is an opaque integer
// handle. Library mirrors that ABI one method per symbol:
//
//	tokenizer_from_pretrained   FromPretrained
//	tokenizer_from_file         FromFile
//	tokenizer_from_buffer       FromBuffer
//	tokenizer_encode            Encode
//	tokenizer_decode            Decode (+ free_rstring)
//	encoding_get_*              Length, Uint32s, Tokens, Offsets
//	tokenizer_free              FreeTokenizer
//	encoding_free               FreeEncoding
//
// Three implementations live in subpackages:
//
//	dynlib/     dlopen of libtokenizers_sys without cgo
//	wasmlib/    the same ABI compiled to wasm32-wasi, hosted by wazero
//	wordlevel/  an in-process word-level engine for tests and offline use
//
// # Memory Ownership
//
// Integer arrays returned by the engine are views into the encoding and die
// with it; token string arrays and decoded strings are allocated per call and
// must be returned to the engine. Implementations copy everything into Go
// memory and free engine allocations before returning, so no engine pointer
// ever escapes this package tree.
package native

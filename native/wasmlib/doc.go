// Package wasmlib runs the tokenizer engine compiled to wasm32-wasi inside
// wazero, so the binding works on hosts where no native build exists.
//
// The module must export its linear memory, malloc and free, and every
// symbol in native.Symbols. Arguments are copied into guest memory through
// allocations that live for one call; results are copied out and guest-owned
// strings are returned with free_rstring and free_c_char_array.
//
//	lib, err := wasmlib.OpenFile(ctx, "tokenizers.wasm")
//	if err != nil {
//	    return err
//	}
//	defer lib.Close()
package wasmlib

// Package dynlib loads libtokenizers_sys at runtime with purego, so the
// binding builds without cgo and without the library present.
//
// Every symbol in native.Symbols is resolved up front; a library missing any
// of them is rejected with an *errors.MissingSymbolsError naming them all.
// Results are copied into Go memory and engine allocations are returned with
// free_rstring and free_c_char_array before a call returns.
package dynlib

// Package errors provides structured error types for the tokenizer binding.
//
// Errors are categorized by Phase (which step of the boundary crossing failed)
// and Kind (error category). Every sentinel value returned by the native engine
// (null handle, null array, null string) is converted into an *Error at the first
// wrapping call, so callers never see a raw sentinel.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindConstruction).
//		Op("tokenizer_from_pretrained").
//		Subject("name=%q", name).
//		Detail("native call returned no tokenizer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Construction("tokenizer_from_file", path)
//	err := errors.Access("encoding_get_ids", "ids")
//
// Sentinels such as ErrConstruction match any error of the same Kind:
//
//	if errors.Is(err, tokerrors.ErrConstruction) { ... }
package errors

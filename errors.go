package tokenizers

import "github.com/wippyai/go-tokenizers/errors"

// Sentinels for errors.Is. Each matches every error of its kind.
var (
	ErrConstruction = errors.ErrConstruction
	ErrEncoding     = errors.ErrEncoding
	ErrDecoding     = errors.ErrDecoding
	ErrAccess       = errors.ErrAccess
	ErrReleased     = errors.ErrReleased
	ErrLibrary      = errors.ErrLibrary
	ErrCanceled     = errors.ErrCanceled
)

// Error is the structured error returned by the binding.
type Error = errors.Error

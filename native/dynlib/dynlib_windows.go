//go:build windows

package dynlib

import (
	"go.uber.org/zap"

	"github.com/wippyai/go-tokenizers/errors"
	"github.com/wippyai/go-tokenizers/native"
)

// Library is unavailable on Windows; use the wasm or wordlevel backends.
type Library struct {
	native.Library
}

// Option configures Open.
type Option func(*Library)

// WithLogger is accepted for API parity.
func WithLogger(*zap.Logger) Option {
	return func(*Library) {}
}

// Open always fails on Windows.
func Open(string, ...Option) (*Library, error) {
	return nil, errors.Library("no native library", errors.Unsupported(errors.PhaseLoad, "dynamic library loading on windows"))
}

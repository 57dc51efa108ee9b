package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which step of a boundary crossing failed
type Phase string

const (
	PhaseLoad      Phase = "load"      // library loading and symbol binding
	PhaseMarshal   Phase = "marshal"   // Go to native
	PhaseCall      Phase = "call"      // native invocation
	PhaseUnmarshal Phase = "unmarshal" // native to Go
	PhaseLifecycle Phase = "lifecycle" // handle ownership
	PhaseConfig    Phase = "config"    // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindConstruction Kind = "construction"
	KindEncoding     Kind = "encoding"
	KindDecoding     Kind = "decoding"
	KindAccess       Kind = "access"
	KindReleased     Kind = "released"
	KindLibrary      Kind = "library"
	KindInvalidInput Kind = "invalid_input"
	KindCanceled     Kind = "canceled"
	KindUnsupported  Kind = "unsupported"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindAllocation   Kind = "allocation"
	KindInvalidUTF8  Kind = "invalid_utf8"
	KindNotFound     Kind = "not_found"
)

// Sentinels for errors.Is. Each matches any *Error of the same Kind.
var (
	ErrConstruction = &Error{Kind: KindConstruction}
	ErrEncoding     = &Error{Kind: KindEncoding}
	ErrDecoding     = &Error{Kind: KindDecoding}
	ErrAccess       = &Error{Kind: KindAccess}
	ErrReleased     = &Error{Kind: KindReleased}
	ErrLibrary      = &Error{Kind: KindLibrary}
	ErrCanceled     = &Error{Kind: KindCanceled}
	ErrUnsupported  = &Error{Kind: KindUnsupported}
)

// Error is the structured error type returned across the binding
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Op      string // native symbol or binding operation
	Subject string // model name, path, text or id preview
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Subject != "" {
		b.WriteString(" (")
		b.WriteString(e.Subject)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the native symbol or operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Subject sets what the failing operation was working on
func (b *Builder) Subject(format string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Subject = fmt.Sprintf(format, args...)
	} else {
		b.err.Subject = format
	}
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the binding's failure modes

// Construction reports that the engine returned the null handle while
// building a tokenizer.
func Construction(op, subject string) *Error {
	return &Error{
		Phase:   PhaseCall,
		Kind:    KindConstruction,
		Op:      op,
		Subject: subject,
		Detail:  "native call returned no tokenizer",
	}
}

// Encoding reports that the engine could not encode text.
func Encoding(op, subject string) *Error {
	return &Error{
		Phase:   PhaseCall,
		Kind:    KindEncoding,
		Op:      op,
		Subject: subject,
		Detail:  "native call returned no encoding",
	}
}

// Decoding reports that the engine could not decode ids.
func Decoding(op, subject string) *Error {
	return &Error{
		Phase:   PhaseCall,
		Kind:    KindDecoding,
		Op:      op,
		Subject: subject,
		Detail:  "native call returned no text",
	}
}

// Access reports that a field could not be read from a live encoding.
func Access(op, field string) *Error {
	return &Error{
		Phase:  PhaseUnmarshal,
		Kind:   KindAccess,
		Op:     op,
		Detail: fmt.Sprintf("failed to retrieve %s", field),
	}
}

// Released reports use of a resource after it was released.
func Released(resource string) *Error {
	return &Error{
		Phase:  PhaseLifecycle,
		Kind:   KindReleased,
		Detail: fmt.Sprintf("%s used after release", resource),
	}
}

// Library reports a failure to load or bind the native library.
func Library(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLibrary,
		Detail: detail,
		Cause:  cause,
	}
}

// Canceled reports a call abandoned because its context ended.
func Canceled(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindCanceled,
		Op:     op,
		Detail: "call abandoned",
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds reports a guest pointer range outside linear memory
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside memory", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingSymbolsError is returned when a library lacks required exports
type MissingSymbolsError struct {
	Library string
	Symbols []string
}

func (e *MissingSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[load] library: no symbols specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s is missing %d symbol(s):", e.Library, len(e.Symbols)))
	for _, s := range e.Symbols {
		b.WriteString("\n  - ")
		b.WriteString(s)
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingSymbolsError) Is(target error) bool {
	if _, ok := target.(*MissingSymbolsError); ok {
		return true
	}
	return target == ErrLibrary
}

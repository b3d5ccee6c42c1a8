package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // asset fetch and instantiation
	PhaseDispatch  Phase = "dispatch"  // request routing
	PhaseMarshal   Phase = "marshal"   // copy in/out of linear memory
	PhaseNative    Phase = "native"    // native entry point calls
	PhaseFS        Phase = "fs"        // virtual filesystem
	PhaseTransport Phase = "transport" // envelope encoding and delivery
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindNotLoaded          Kind = "not_loaded"
	KindUnknownMessageType Kind = "unknown_message_type"
	KindImportFailure      Kind = "import_failure"
	KindNativeCallFailed   Kind = "native_call_failed"
	KindProcessingFailed   Kind = "processing_failed"
	KindAllocation         Kind = "allocation"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidData        Kind = "invalid_data"
	KindNotFound           Kind = "not_found"
	KindUnsupported        Kind = "unsupported"
	KindClosed             Kind = "closed"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Entry  string
	Detail string
	Path   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Entry != "" {
		b.WriteString(" in ")
		b.WriteString(e.Entry)
	}
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
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
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
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

// Entry sets the native entry point name
func (b *Builder) Entry(name string) *Builder {
	b.err.Entry = name
	return b
}

// Path sets the filesystem path or payload field involved
func (b *Builder) Path(path string) *Builder {
	b.err.Path = path
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

// Sentinels usable as errors.Is targets regardless of phase.
var (
	ErrNotLoaded          = &Error{Kind: KindNotLoaded}
	ErrUnknownMessageType = &Error{Kind: KindUnknownMessageType}
	ErrImportFailure      = &Error{Kind: KindImportFailure}
	ErrNativeCallFailed   = &Error{Kind: KindNativeCallFailed}
	ErrProcessingFailed   = &Error{Kind: KindProcessingFailed}
	ErrAllocation         = &Error{Kind: KindAllocation}
	ErrClosed             = &Error{Kind: KindClosed}
)

// NotLoaded creates the error returned for any request before a successful LOAD
func NotLoaded() *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNotLoaded,
		Detail: "engine is not loaded, send LOAD first",
	}
}

// UnknownMessageType creates an error for an unrecognized message kind
func UnknownMessageType(messageType string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownMessageType,
		Detail: fmt.Sprintf("unknown message type %q", messageType),
		Value:  messageType,
	}
}

// ImportFailure creates an error for a failed asset fetch or instantiation
func ImportFailure(location string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindImportFailure,
		Path:   location,
		Detail: "failed to import engine core",
		Cause:  cause,
	}
}

// NativeCallFailed creates an error for a trapped or failing native entry point
func NativeCallFailed(entry string, cause error) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindNativeCallFailed,
		Entry:  entry,
		Detail: "native call failed",
		Cause:  cause,
	}
}

// ProcessingFailed creates the error for a process_frame return of size <= 0
func ProcessingFailed(code int32) *Error {
	return &Error{
		Phase:  PhaseNative,
		Kind:   KindProcessingFailed,
		Entry:  "process_frame",
		Detail: fmt.Sprintf("frame processing failed (returned %d)", code),
		Value:  code,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindAllocation,
		Entry:  "malloc",
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access out of bounds: offset=%d, length=%d", offset, length),
		Value:  offset,
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

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
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

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Closed creates the error returned when posting to a closed port
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// FS wraps a filesystem failure with the offending path
func FS(op, path string, cause error) *Error {
	kind := KindInvalidInput
	if errors.Is(cause, fs.ErrNotExist) {
		kind = KindNotFound
	}
	return &Error{
		Phase:  PhaseFS,
		Kind:   kind,
		Path:   path,
		Detail: op,
		Cause:  cause,
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

package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEngine      Phase = "engine"      // engine lifecycle
	PhaseStore       Phase = "store"       // store lifecycle
	PhaseLoad        Phase = "load"        // module loading
	PhaseReflect     Phase = "reflect"     // import/export enumeration
	PhaseLink        Phase = "link"        // import binding
	PhaseInstantiate Phase = "instantiate" // backend instantiation
	PhaseCall        Phase = "call"        // function invocation
	PhaseMarshal     Phase = "marshal"     // Val <-> slot conversion
	PhaseDecode      Phase = "decode"      // wasm binary parsing
	PhaseEncode      Phase = "encode"      // wasm binary emission
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindUnsupported    Kind = "unsupported"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindModeMismatch   Kind = "mode_mismatch"
	KindMissingImport  Kind = "missing_import"
	KindDeleted        Kind = "deleted"
	KindInstantiation  Kind = "instantiation"
)

// Error is the structured error type used throughout the API
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
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

// Path sets the import/export path
func (b *Builder) Path(path ...string) *Builder {
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

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
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

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
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

// NotInitialized creates a not-initialized error for a missing engine/store/instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
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

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Deleted reports use of a handle whose owner has been torn down
func Deleted(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDeleted,
		Detail: fmt.Sprintf("%s has been deleted", what),
	}
}

// ModeMismatch reports a package whose kind does not match the engine mode
func ModeMismatch(mode, pkg string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindModeMismatch,
		Detail: fmt.Sprintf("%s package cannot be loaded in %s mode", pkg, mode),
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Step names the stage of instance creation that failed
type Step string

const (
	StepAllocate    Step = "allocate"
	StepLink        Step = "link"
	StepInstantiate Step = "instantiate"
	StepBind        Step = "bind"
	StepExport      Step = "export"
	StepRegister    Step = "register"
)

// InstantiationError provides context about a failed instance creation
type InstantiationError struct {
	Cause       error
	Step        Step
	ImportPath  string
	Reason      string
	ImportIndex int
}

func (e *InstantiationError) Error() string {
	var b strings.Builder
	b.WriteString("instance ")
	b.WriteString(string(e.Step))
	b.WriteString(" failed")

	if e.ImportPath != "" {
		b.WriteString(" for import ")
		b.WriteString(e.ImportPath)
		b.WriteString(fmt.Sprintf(" (#%d)", e.ImportIndex))
	}

	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *InstantiationError) Unwrap() error {
	return e.Cause
}

// MissingImportsError lists module imports that had no matching extern
type MissingImportsError struct {
	Imports []string
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d import(s):", len(e.Imports)))
	for _, imp := range e.Imports {
		b.WriteString("\n  - ")
		b.WriteString(imp)
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}

// Package errors provides structured error types for the wasm-capi library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the import/export path, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLink, errors.KindTypeMismatch).
//		Path("env", "counter").
//		Detail("global expects i32, got %s", kind).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unsupported(errors.PhaseLink, "table imports")
//	err := errors.Deleted(errors.PhaseCall, "instance")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

// Package errors provides the structured error taxonomy of the bridge.
//
// Errors are categorized by Phase (where the failure happened) and Kind (what
// went wrong). The dispatcher converts any Error into the text of a single
// ERROR response, so Error() is written for humans.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseNative, errors.KindNativeCallFailed).
//		Entry("process_frame").
//		Value(-22).
//		Detail("native returned %d", -22).
//		Build()
//
// Or use convenience constructors for the common failures:
//
//	err := errors.NotLoaded()
//	err := errors.ProcessingFailed(size)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

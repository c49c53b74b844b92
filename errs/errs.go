// Package errs defines the error taxonomy surfaced at the operations
// boundary: a small set of sentinel kinds, each wrapped with caller context
// via fmt.Errorf's %w so callers can errors.Is against the kind no matter
// how much context got attached on the way up.
package errs

import (
	"errors"
	"fmt"
)

// Kinds. Compare with errors.Is, never with ==, since every returned error
// wraps one of these with additional context.
var (
	// InvariantViolation marks a programmer error: malformed STV, dimension
	// mismatch, unsorted index sets. Never retried.
	InvariantViolation = errors.New("invariant violation")

	// FormatVersionMismatch marks an unknown envelope magic or manifest
	// version. Fatal at load.
	FormatVersionMismatch = errors.New("format version mismatch")

	// CorruptEngram marks a deserialization failure, checksum mismatch, or
	// dangling chunk_id reference.
	CorruptEngram = errors.New("corrupt engram")

	// ReconstructionFailed marks a byte-exact verification failure, at
	// ingest (bug) or extract (corruption).
	ReconstructionFailed = errors.New("reconstruction failed")

	// ConfigConflict marks two callers racing an update against the same
	// engram, or config that doesn't match a prior ingest.
	ConfigConflict = errors.New("config conflict")

	// ResourceExhausted marks disk-full or cache-overflow-beyond-caps
	// conditions.
	ResourceExhausted = errors.New("resource exhausted")

	// IoFailure marks a failed read/write/seek against the underlying file
	// or mmap — a truncated file, a closed descriptor, a filesystem error.
	// Distinct from CorruptEngram: IoFailure is about the transport, not
	// about the bytes once they arrived.
	IoFailure = errors.New("io failure")
)

// Wrap attaches a context string to a kind, still errors.Is-comparable.
func Wrap(kind error, context string) error {
	return fmt.Errorf("%s: %w", context, kind)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting of the context.
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// WrapErr attaches context and an underlying cause to a kind. The result is
// errors.Is-comparable against both kind and cause.
func WrapErr(kind error, context string, cause error) error {
	return fmt.Errorf("%s: %w: %w", context, kind, cause)
}

package reconciler

import (
	"errors"
	"fmt"

	"github.com/marksync/marksync/internal/tree"
)

// Errors surfaced by the reconciliation engine.
//
// A failure is always scoped to the single change being processed, never to
// the whole drain; the drain loop logs it, surfaces it through the
// notifier, and keeps going.
var (
	// ErrNativeNotFound is returned when a native bookmark referenced by
	// a change no longer exists on the host.
	ErrNativeNotFound = errors.New("native bookmark not found")

	// ErrContainerNotFound is returned when a reserved container cannot
	// be resolved on the current host.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerChanged is returned when a reserved container was
	// itself moved, renamed or removed. This is never absorbed: merging
	// it would corrupt the container invariant.
	ErrContainerChanged = errors.New("reserved container was moved or renamed")

	// ErrAmbiguousSyncRequest is returned for an unrecognized change
	// variant. It indicates a programming defect, not bad input.
	ErrAmbiguousSyncRequest = errors.New("ambiguous sync request")
)

// NativeWriteError wraps a failed native create/update/remove with the
// original host failure attached. The engine does not retry; retry and
// backoff policy belongs to the external sync engine.
type NativeWriteError struct {
	Op       string
	NativeID string
	Err      error
}

func (e *NativeWriteError) Error() string {
	if e.NativeID == "" {
		return fmt.Sprintf("native %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("native %s of %s failed: %v", e.Op, e.NativeID, e.Err)
}

func (e *NativeWriteError) Unwrap() error { return e.Err }

// nativeWrite wraps err in a NativeWriteError, passing nil through.
func nativeWrite(op, nativeID string, err error) error {
	if err == nil {
		return nil
	}
	return &NativeWriteError{Op: op, NativeID: nativeID, Err: err}
}

// IsFatal reports whether the error must be surfaced rather than absorbed
// into best-effort processing of the remaining batch.
func IsFatal(err error) bool {
	return errors.Is(err, ErrContainerChanged) || errors.Is(err, ErrAmbiguousSyncRequest)
}

// IsNotFound reports whether the error is any of the absence conditions:
// canonical bookmark, native bookmark or container missing.
func IsNotFound(err error) bool {
	return errors.Is(err, tree.ErrBookmarkNotFound) ||
		errors.Is(err, ErrNativeNotFound) ||
		errors.Is(err, ErrContainerNotFound)
}

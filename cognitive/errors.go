package cognitive

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify failures with errors.Is; wrapping sites
// attach operation context with fmt.Errorf("verb: %w", err).
var (
	// ErrValidation marks bad caller input (empty text, unknown level, ...).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing memory id or source path.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks a vector or metadata backend that stayed
	// down after the local retry policy was exhausted.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInconsistent marks an observed vector/metadata mismatch. The
	// orphan sweep is the compensating action.
	ErrInconsistent = errors.New("stores inconsistent")

	// ErrTimeout marks an operation abandoned at its deadline. A
	// consolidation pass cut short keeps the changes it committed for the
	// memories it had already processed.
	ErrTimeout = errors.New("operation timed out")

	// ErrTransient marks a retryable condition.
	ErrTransient = errors.New("transient failure")

	// ErrFatal marks startup failures (model load) that propagate to the
	// process supervisor.
	ErrFatal = errors.New("fatal")
)

// Retryable reports whether err may succeed on retry under the local
// backoff policy.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// timeoutErr converts a context cancellation into the taxonomy.
func timeoutErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return nil
}

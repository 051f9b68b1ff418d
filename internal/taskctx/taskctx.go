// Package taskctx provides the distinguished cancellation error every
// long-running task in this system surfaces from its blocking
// operations, per spec.md §5: "All tasks observe a cancellation token;
// blocking operations must surface it as the distinguished Cancelled
// error." Callers use errors.Is(err, taskctx.ErrCancelled) to
// distinguish a clean shutdown from any other failure.
package taskctx

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is returned (wrapped) by any blocking operation whose
// context was cancelled or whose deadline elapsed.
var ErrCancelled = errors.New("cancelled")

// FromContext returns an error wrapping ErrCancelled if ctx is done,
// preserving the underlying context error for diagnostics, or nil if
// ctx is still live.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

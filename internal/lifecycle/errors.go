package lifecycle

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
)

var (
	// ErrWarmFailed indicates a scope could not be populated from the
	// repository. The scope is unusable until an explicit Invalidate retries.
	ErrWarmFailed = errors.New("cache warm-up failed")

	// ErrScopeNotCached indicates the scope has no resident store. Stats
	// deliberately does not trigger a warm, so an unwarmed scope reports this
	// instead of zero-valued success.
	ErrScopeNotCached = errors.New("scope not cached")

	// ErrScopeClosed indicates the scope handle was reclaimed by the registry
	// while the operation was in flight. Retrying through the registry gets a
	// fresh handle.
	ErrScopeClosed = errors.New("scope handle closed")
)

// InitError reports a failed warm-up with its cause. All accessors waiting on
// the same warm receive the same error.
type InitError struct {
	Scope scope.Key
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("warm-up failed for scope %s: %v", e.Scope, e.Cause)
}

func (e *InitError) Unwrap() []error { return []error{ErrWarmFailed, e.Cause} }

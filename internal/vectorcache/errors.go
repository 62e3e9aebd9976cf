package vectorcache

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch indicates a vector length disagrees with the
	// scope's established dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyVector indicates a nil or zero-length embedding.
	ErrEmptyVector = errors.New("empty embedding vector")

	// ErrInvalidEntry indicates an entry that fails basic validation
	// (nil entry, missing id).
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrOverBudget indicates eviction could not bring the store under its
	// memory budget.
	ErrOverBudget = errors.New("memory budget exceeded")

	// ErrInvalidSearch indicates malformed search input or options.
	ErrInvalidSearch = errors.New("invalid search request")

	// ErrCorruptionDetected indicates the integrity checker found damaged
	// entries or structural accounting drift.
	ErrCorruptionDetected = errors.New("cache corruption detected")

	// ErrUnknownStrategy indicates an unrecognized eviction strategy name.
	ErrUnknownStrategy = errors.New("unknown eviction strategy")
)

// DimensionError reports a dimensionality violation. Source names the vector
// that was rejected: "entry" for inserts, "query" for searches.
type DimensionError struct {
	Source string
	Want   int
	Got    int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s vector has dimension %d, scope dimensionality is %d", e.Source, e.Got, e.Want)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// MemoryError reports a memory budget violation that eviction could not
// correct. CurrentBytes is the usage that could not be reduced; for a
// rejected insert it is the size of the offending entry alone.
type MemoryError struct {
	CurrentBytes int64
	BudgetBytes  int64
	Evicted      int
	Detail       string
}

func (e *MemoryError) Error() string {
	msg := fmt.Sprintf("memory budget exceeded: %d bytes against budget of %d bytes after evicting %d entries", e.CurrentBytes, e.BudgetBytes, e.Evicted)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *MemoryError) Unwrap() error { return ErrOverBudget }

// SearchError reports a search rejected before scoring.
type SearchError struct {
	Reason string
}

func (e *SearchError) Error() string {
	return "invalid search request: " + e.Reason
}

func (e *SearchError) Unwrap() error { return ErrInvalidSearch }

// IntegrityError reports corruption found by a scan, carried to callers when
// remediation cannot restore the scope.
type IntegrityError struct {
	Scope      string
	Affected   int
	Total      int
	Structural bool
}

func (e *IntegrityError) Error() string {
	kind := "recoverable"
	if e.Structural {
		kind = "structural"
	}
	return fmt.Sprintf("%s corruption in scope %s: %d of %d entries affected", kind, e.Scope, e.Affected, e.Total)
}

func (e *IntegrityError) Unwrap() error { return ErrCorruptionDetected }

// internal/repository/circuit.go
package repository

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	circuitClosed   uint32 = 0
	circuitOpen     uint32 = 1
	circuitHalfOpen uint32 = 2
)

// CircuitBreaker stops load and warm traffic to a backend that keeps
// failing, so repeated warm attempts cannot melt a flapping repository.
type CircuitBreaker struct {
	failures    atomic.Int32
	threshold   int32
	resetAfter  time.Duration
	state       atomic.Uint32 // 0=closed, 1=open, 2=half-open
	lastFailure atomic.Int64  // Unix nano timestamp
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures and probes again after resetAfter.
func NewCircuitBreaker(threshold int32, resetAfter time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  threshold,
		resetAfter: resetAfter,
	}
}

// Allow returns true if the operation is allowed.
func (cb *CircuitBreaker) Allow() bool {
	for {
		state := cb.state.Load()
		switch state {
		case circuitOpen:
			lastFail := time.Unix(0, cb.lastFailure.Load())
			if time.Since(lastFail) > cb.resetAfter {
				// CAS: only one goroutine transitions to half-open and
				// gets the probe request.
				if cb.state.CompareAndSwap(circuitOpen, circuitHalfOpen) {
					return true
				}
				continue
			}
			return false
		case circuitHalfOpen:
			// Only the probe request is allowed until it resolves.
			return false
		default: // circuitClosed
			return true
		}
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(circuitClosed)
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	for {
		currentFailures := cb.failures.Load()
		if currentFailures == math.MaxInt32 {
			return
		}
		newFailures := currentFailures + 1
		if !cb.failures.CompareAndSwap(currentFailures, newFailures) {
			continue
		}

		// Check the threshold with the value we successfully stored.
		if newFailures >= cb.threshold {
			if cb.state.CompareAndSwap(circuitClosed, circuitOpen) ||
				cb.state.CompareAndSwap(circuitHalfOpen, circuitOpen) {
				cb.lastFailure.Store(time.Now().UnixNano())
			}
		}
		return
	}
}

// State returns the current circuit state as a label.
func (cb *CircuitBreaker) State() string {
	switch cb.state.Load() {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

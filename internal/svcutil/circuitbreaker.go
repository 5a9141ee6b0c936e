// Package svcutil carries small cross-cutting helpers shared by the gateway
// and executor.
package svcutil

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// CircuitBreaker prevents cascading failures against a flaky downstream
// (the broker, the store, or a model's external calls) by tripping open
// after a run of failures and cooling down before allowing traffic again.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	failures    int
	lastFailure time.Time
	isOpen      bool
	mu          sync.RWMutex
}

// NewCircuitBreaker creates a circuit breaker that opens after maxFailures
// consecutive failures and stays open for cooldown before trying again.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Call runs fn under the breaker's protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.isOpen {
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.isOpen = false
			cb.failures = 0
			log.Printf("[circuitbreaker:%s] attempting half-open state", cb.name)
		} else {
			return fmt.Errorf("circuit breaker %s is open (cooldown until %v)",
				cb.name, cb.lastFailure.Add(cb.cooldown))
		}
	}

	err := fn()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.isOpen = true
			log.Printf("[circuitbreaker:%s] opened after %d failures (cooldown %v)", cb.name, cb.failures, cb.cooldown)
		}
		return err
	}

	if cb.failures > 0 {
		log.Printf("[circuitbreaker:%s] closed (recovered after %d failures)", cb.name, cb.failures)
	}
	cb.failures = 0
	return nil
}

// IsOpen reports whether the breaker is currently tripped.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.isOpen
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
	log.Printf("[circuitbreaker:%s] manually reset", cb.name)
}

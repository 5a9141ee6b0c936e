package svcutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	failing := func() error { return fmt.Errorf("boom") }

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Call(failing))
	}
	assert.True(t, cb.IsOpen())

	err := cb.Call(func() error { return nil })
	require.Error(t, err, "an open breaker must reject calls during cooldown")
}

func TestCircuitBreakerClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	require.Error(t, cb.Call(func() error { return fmt.Errorf("boom") }))
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	require.Error(t, cb.Call(func() error { return fmt.Errorf("boom") }))
	require.True(t, cb.IsOpen())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }), "breaker must allow a trial call after cooldown elapses")
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	require.Error(t, cb.Call(func() error { return fmt.Errorf("boom") }))
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())
}

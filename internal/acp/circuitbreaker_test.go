package acp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterNConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
		MonitoringWindow: time.Minute,
	})

	failing := func(ctx context.Context) error { return errors.New("boom") }

	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Call(context.Background(), failing)
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Call(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenFailsFastWithoutInvokingFn(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
		MonitoringWindow: time.Minute,
	})
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenAfterTimeoutThenClosesOnSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Millisecond,
		MonitoringWindow: time.Minute,
	})
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	err = cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Millisecond,
		MonitoringWindow: time.Minute,
	})
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom again") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ForceHooks(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.State())
	cb.ForceClosed()
	assert.Equal(t, StateClosed, cb.State())
}

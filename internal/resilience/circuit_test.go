package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientCall(ctx context.Context) error {
	return NewTransientError(eris.New("boom"), 503)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(context.Background(), transientCall))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), transientCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	require.Error(t, cb.Execute(context.Background(), transientCall))
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	require.Error(t, cb.Execute(context.Background(), transientCall))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_NonRetryableDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return &AuthError{Service: "webscan", Err: eris.New("401")}
	})
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	require.Error(t, cb.Execute(context.Background(), transientCall))
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	require.Error(t, cb.Execute(context.Background(), transientCall))
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, CircuitHalfOpen, cb.State())

	require.Error(t, cb.Execute(context.Background(), transientCall))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	require.Error(t, cb.Execute(context.Background(), transientCall))
	assert.Equal(t, []string{"closed->open"}, transitions)
}

package helpers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"market-gateway/src/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthExpiredMatching(t *testing.T) {
	err := fmt.Errorf("dial: %w", NewAuthExpired("http 401", nil))

	assert.True(t, IsAuthExpired(err))
	assert.True(t, errors.Is(err, ErrAuthExpired))
	assert.False(t, IsAuthExpired(NewTransientIO("read", errors.New("eof"))))
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := NewValidationError("too many symbols: %d", 7)

	assert.True(t, IsValidation(err))
	assert.Equal(t, "too many symbols: 7", err.Error())

	cause := errors.New("boom")
	wrapped := &GatewayError{Message: "outer", Cause: cause}
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "outer: boom", wrapped.Error())
}

func TestRetryWithBackoff(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		failWith  error
		retries   int
		wantErr   bool
		wantCalls int
	}{
		{name: "succeeds first try", failures: 0, retries: 3, wantCalls: 1},
		{name: "succeeds after retries", failures: 2, failWith: errors.New("x"), retries: 3, wantCalls: 3},
		{name: "exhausts retries", failures: 5, failWith: errors.New("x"), retries: 3, wantErr: true, wantCalls: 3},
		{name: "stops on auth expiry", failures: 5, failWith: NewAuthExpired("401", nil), retries: 3, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryWithBackoff(context.Background(), "op", tt.retries, time.Millisecond, logger.NewNop(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, "op", 3, time.Hour, nil, func() error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconnectBackOff(t *testing.T) {
	b := NewReconnectBackOff(100*time.Millisecond, time.Second)

	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, d, "never gives up")
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	}

	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 150*time.Millisecond)
}

package helpers

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewReconnectBackOff returns a jittered exponential backoff between initial
// and max that never gives up. Not safe for concurrent use.
func NewReconnectBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

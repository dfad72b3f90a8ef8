package utils

import (
	"time"

	"github.com/jpillora/backoff"
)

// NewBackoff returns the retry schedule NewBlockProducer's polling
// loop uses after a failed head poll: exponential with jitter, capped
// at max.
func NewBackoff(min, max time.Duration) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
		Jitter: true,
	}
}

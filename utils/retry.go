package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the backoff schedule of a retried operation.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig is sized for startup work, like waiting out a session
// store still locked by a previous instance shutting down.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  25 * time.Second,
	}
}

// WithRetry runs the operation under exponential backoff until it succeeds
// or the schedule is exhausted, returning the last error in that case.
func WithRetry(operation func() error, config *RetryConfig) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialInterval
	b.MaxInterval = config.MaxInterval
	b.MaxElapsedTime = config.MaxElapsedTime

	return backoff.Retry(operation, b)
}

package partuploader

import (
	"runtime"
	"time"
)

// Config holds configuration for the part uploader.
type Config struct {
	// Concurrency is the maximum number of parts transmitted at the same time.
	// 1 transmits the parts one after the other.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// MaxRetryPerPart is the maximum number of transmission attempts per part.
	// Default: 3
	MaxRetryPerPart int

	// RetryWait is the backoff before the second attempt; it doubles with every further attempt.
	// Default: 2 seconds
	RetryWait time.Duration

	// TransmitTimeout bounds a single transmission attempt. 0 disables the timeout.
	// Default: 15 minutes
	TransmitTimeout time.Duration

	// HungThreshold is the duration after which a part transmission is considered hung
	// if it exceeds the average transmission time by this amount. 0 disables hung detection.
	// Default: 30 seconds
	HungThreshold time.Duration

	// IsRetryable decides whether a failed attempt may be retried.
	// If nil, every error except context cancellation of the whole upload is retried.
	IsRetryable func(error) bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:     DefaultConcurrency(),
		MaxRetryPerPart: 3,
		RetryWait:       2 * time.Second,
		TransmitTimeout: 15 * time.Minute,
		HungThreshold:   30 * time.Second,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxRetryPerPart <= 0 {
		c.MaxRetryPerPart = def.MaxRetryPerPart
	}
	if c.RetryWait < 0 {
		c.RetryWait = 0
	}
	return c
}

func (c Config) backoff(attempt int) time.Duration {
	wait := c.RetryWait
	for i := 0; i < attempt; i++ {
		wait *= 2
	}
	return wait
}

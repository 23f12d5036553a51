package retry

import "time"

// config is assembled per call from Option values.
type config struct {
	maxAttempts int
	delay       time.Duration
	backoff     float64
}

func newConfig(opts []Option) config {
	c := config{
		maxAttempts: 3,
		delay:       200 * time.Millisecond,
		backoff:     1,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Option tunes a single Do or DoWithResult call.
type Option func(*config)

// WithAttempts caps the total number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(c *config) {
		c.maxAttempts = n
	}
}

// WithDelay sets the pause before each retry.
func WithDelay(delay time.Duration) Option {
	return func(c *config) {
		c.delay = delay
	}
}

// WithBackoff multiplies the pause by factor after every failed attempt.
func WithBackoff(factor float64) Option {
	return func(c *config) {
		c.backoff = factor
	}
}

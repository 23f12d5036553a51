package retry

import (
	"errors"
	"fmt"
	"time"
)

// DoWithResult runs fn until it succeeds or the retry budget is exhausted.
func DoWithResult[T any](fn func() (T, error), opts ...Option) (T, error) {
	cfg := newConfig(opts)

	delay := cfg.delay
	var attempts int
	for {
		t, err := fn()
		if err != nil {
			attempts++
			if attempts >= cfg.maxAttempts {
				return t, errors.Join(err, fmt.Errorf("giving up after %d attempts", attempts))
			}
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * cfg.backoff)
			continue
		}
		return t, nil
	}
}

// Do runs fn with retry, discarding any result.
func Do(fn func() error, opts ...Option) error {
	_, err := DoWithResult(func() (struct{}, error) {
		return struct{}{}, fn()
	}, opts...)
	return err
}

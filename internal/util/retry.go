package util

import (
	"context"
	"time"
)

// Retry runs fn until it succeeds or attempts are exhausted, doubling the
// delay between calls starting from baseDelay. The last error is returned
// when every attempt fails; cancelling the context aborts the wait.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

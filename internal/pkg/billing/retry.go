package billing

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const retryBaseDelay = 50 * time.Millisecond

// withRetry runs fn up to attempts times. Billing errors other than internal
// ones are returned immediately since another attempt would see the same state.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || isTerminalError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := retryBaseDelay << i
		log.Warnf("[Billing] Attempt %d/%d failed, retrying in %v: %v", i+1, attempts, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

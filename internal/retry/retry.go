// Package retry implements the bounded exponential backoff policy applied
// to transient error classes (ProbeTimeout, ProbeRefused, RPCTimeout):
// initial 1s, factor 2, cap 10s, max 3 attempts.
package retry

import (
	"context"
	"time"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/ferrors"
)

const (
	Initial    = time.Second
	Factor     = 2
	Cap        = 10 * time.Second
	MaxAttempts = 3
)

// Do calls fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts, but only while fn's error is a transient ferrors.Kind.
// A non-transient error (or success) returns immediately.
func Do(ctx context.Context, clk clock.Clock, fn func() error) error {
	delay := Initial
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var ferr *ferrors.Error
		if fe, ok := err.(*ferrors.Error); ok {
			ferr = fe
		}
		if ferr == nil || !ferrors.IsTransient(ferr.Kind) {
			return err
		}
		if attempt == MaxAttempts {
			break
		}
		select {
		case <-clk.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= Factor
		if delay > Cap {
			delay = Cap
		}
	}
	return lastErr
}

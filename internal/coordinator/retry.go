package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/service"
)

// callOutcome describes how a retried remote call ended.
type callOutcome struct {
	// Fallback is set when the caller should synthesize a substitute:
	// the service is unregistered, marked Down, or exhausted its attempts.
	Fallback bool
	// Err is the last error seen. With Fallback unset it is an internal
	// error and the request fails.
	Err      error
	Attempts int
}

// retryPolicy is the per-service part of the retrying caller.
type retryPolicy struct {
	service string
	timeout time.Duration
}

// callWithRetry runs call against the named service with the bounded retry
// loop: at most MaxRetries attempts, each under policy.timeout, sleeping
// attempt*baseDelay between attempts. A Down service is not called at all.
//
// Successful calls reset the descriptor's failure count and record latency;
// failed calls increment it. Health itself is left to the HealthMonitor.
// An ErrBadResponse ends the loop immediately without fallback.
func callWithRetry[T any](ctx context.Context, o *Orchestrator, requestID string, policy retryPolicy,
	call func(ctx context.Context, addr string) (T, error),
) (T, callOutcome) {
	var zero T

	d, err := o.registry.Get(policy.service)
	if err != nil {
		logging.Warn("Coordinator", "[%s] %s is not registered, using fallback", requestID, policy.service)
		return zero, callOutcome{Fallback: true, Err: err}
	}
	if d.Health == service.HealthDown {
		logging.Debug("Coordinator", "[%s] %s is down, using fallback", requestID, policy.service)
		return zero, callOutcome{Fallback: true, Err: service.ErrRemoteUnavailable}
	}

	attempts := d.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, policy.timeout)
		start := o.now()
		v, err := call(actx, d.Address)
		cancel()
		latency := o.now().Sub(start)

		if err == nil {
			_, _, _ = o.registry.Update(policy.service, func(d *service.Descriptor) {
				d.ConsecutiveFailures = 0
				d.LastLatency = latency
			})
			return v, callOutcome{Attempts: attempt}
		}

		if errors.Is(err, service.ErrBadResponse) {
			logging.Error("Coordinator", err, "[%s] %s returned a malformed response", requestID, policy.service)
			return zero, callOutcome{Err: err, Attempts: attempt}
		}

		last = err
		_, _, _ = o.registry.Update(policy.service, func(d *service.Descriptor) {
			d.ConsecutiveFailures++
		})
		logging.Warn("Coordinator", "[%s] %s attempt %d/%d failed: %v",
			requestID, policy.service, attempt, attempts, err)

		if attempt < attempts {
			o.sleep(ctx, time.Duration(attempt)*o.cfg.BaseDelay)
		}
	}

	logging.Warn("Coordinator", "[%s] %s exhausted %d attempts, using fallback", requestID, policy.service, attempts)
	return zero, callOutcome{Fallback: true, Err: last, Attempts: attempts}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

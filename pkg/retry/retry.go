// Package retry wraps cache service calls with status-aware retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts     = 2
	DefaultInitialInterval = 5 * time.Second
)

// Gateway retries a fallible cache service operation. Implementations decide
// the backoff policy; callers only rely on the classification contract:
// transport errors and retryable statuses are retried, everything else is
// returned to the caller on the first attempt.
type Gateway interface {
	// DoTyped runs op, which performs a request and decodes its body, and
	// returns the final status code.
	DoTyped(ctx context.Context, name string, op func(context.Context) (int, error)) (int, error)

	// DoRaw runs op and returns the final response. The caller owns its body.
	DoRaw(ctx context.Context, name string, op func(context.Context) (*http.Response, error)) (*http.Response, error)
}

// IsSuccessStatusCode reports whether code is a 2xx status.
func IsSuccessStatusCode(code int) bool {
	return code >= 200 && code < 300
}

// IsRetryableStatusCode reports whether the service is expected to recover
// from a response with this status.
func IsRetryableStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Options configures a Backoff gateway.
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

// Backoff is a Gateway using exponential backoff between attempts.
type Backoff struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
}

// NewBackoff creates a Gateway. Zero values in opts select the defaults.
func NewBackoff(opts Options) *Backoff {
	b := &Backoff{
		maxAttempts:     opts.MaxAttempts,
		initialInterval: opts.InitialInterval,
		maxInterval:     opts.MaxInterval,
		logger:          opts.Logger,
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = DefaultMaxAttempts
	}
	if b.initialInterval <= 0 {
		b.initialInterval = DefaultInitialInterval
	}
	if b.maxInterval <= 0 {
		b.maxInterval = 10 * b.initialInterval
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

func (b *Backoff) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.initialInterval
	exp.MaxInterval = b.maxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.maxAttempts-1)), ctx)
}

func (b *Backoff) notify(name string) backoff.Notify {
	attempt := 0
	return func(err error, next time.Duration) {
		attempt++
		b.logger.Info("retrying cache service call",
			"op", name,
			"attempt", attempt,
			"maxAttempts", b.maxAttempts,
			"backoff", next,
			"error", err)
	}
}

// retryableStatus marks an attempt whose response should be retried.
type retryableStatus struct {
	code int
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("retryable status %d", e.code)
}

// DoTyped implements Gateway.
func (b *Backoff) DoTyped(ctx context.Context, name string, op func(context.Context) (int, error)) (int, error) {
	attempt := 0
	status, err := backoff.RetryNotifyWithData(func() (int, error) {
		attempt++
		status, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, backoff.Permanent(ctx.Err())
			}
			return 0, err
		}
		if IsRetryableStatusCode(status) && attempt < b.maxAttempts {
			return status, &retryableStatus{code: status}
		}
		return status, nil
	}, b.policy(ctx), b.notify(name))
	if err != nil {
		var rs *retryableStatus
		if errors.As(err, &rs) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, fmt.Errorf("%s failed: %w", name, ctxErr)
			}
			return rs.code, nil
		}
		return 0, fmt.Errorf("%s failed: %w", name, err)
	}
	return status, nil
}

// DoRaw implements Gateway. Bodies of discarded attempts are drained and
// closed before the next attempt.
func (b *Backoff) DoRaw(ctx context.Context, name string, op func(context.Context) (*http.Response, error)) (*http.Response, error) {
	attempt := 0
	resp, err := backoff.RetryNotifyWithData(func() (*http.Response, error) {
		attempt++
		resp, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		if IsRetryableStatusCode(resp.StatusCode) && attempt < b.maxAttempts {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, &retryableStatus{code: resp.StatusCode}
		}
		return resp, nil
	}, b.policy(ctx), b.notify(name))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return resp, nil
}

package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastGateway(attempts int) *Backoff {
	return NewBackoff(Options{MaxAttempts: attempts, InitialInterval: time.Millisecond})
}

func TestDoTypedSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	status, err := fastGateway(3).DoTyped(context.Background(), "getCacheEntry", func(context.Context) (int, error) {
		calls++
		return http.StatusOK, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, calls)
}

func TestDoTypedRetriesRetryableStatus(t *testing.T) {
	calls := 0
	status, err := fastGateway(3).DoTyped(context.Background(), "reserveCache", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusCreated, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 3, calls)
}

func TestDoTypedReturnsLastRetryableStatusWhenExhausted(t *testing.T) {
	calls := 0
	status, err := fastGateway(2).DoTyped(context.Background(), "commitCache", func(context.Context) (int, error) {
		calls++
		return http.StatusBadGateway, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, 2, calls)
}

func TestDoTypedDoesNotRetryFatalStatus(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError} {
		calls := 0
		status, err := fastGateway(5).DoTyped(context.Background(), "op", func(context.Context) (int, error) {
			calls++
			return code, nil
		})
		require.NoError(t, err)
		assert.Equal(t, code, status)
		assert.Equal(t, 1, calls, "status %d", code)
	}
}

func TestDoTypedRetriesTransportErrors(t *testing.T) {
	calls := 0
	_, err := fastGateway(3).DoTyped(context.Background(), "getCacheEntry", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getCacheEntry failed")
	assert.Equal(t, 3, calls)
}

func TestDoTypedStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := NewBackoff(Options{MaxAttempts: 5, InitialInterval: time.Hour}).DoTyped(ctx, "op", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoRawClosesDiscardedBodies(t *testing.T) {
	var bodies []*trackingBody
	resp, err := fastGateway(3).DoRaw(context.Background(), "uploadChunk", func(context.Context) (*http.Response, error) {
		body := &trackingBody{Reader: strings.NewReader("payload")}
		bodies = append(bodies, body)
		code := http.StatusGatewayTimeout
		if len(bodies) == 3 {
			code = http.StatusNoContent
		}
		return &http.Response{StatusCode: code, Body: body}, nil
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, bodies, 3)
	assert.True(t, bodies[0].closed)
	assert.True(t, bodies[1].closed)
	assert.False(t, bodies[2].closed)
}

func TestDoRawReturnsFinalRetryableResponse(t *testing.T) {
	resp, err := fastGateway(2).DoRaw(context.Background(), "download", func(context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, IsSuccessStatusCode(http.StatusOK))
	assert.True(t, IsSuccessStatusCode(http.StatusNoContent))
	assert.False(t, IsSuccessStatusCode(http.StatusMultipleChoices))
	assert.True(t, IsRetryableStatusCode(http.StatusTooManyRequests))
	assert.False(t, IsRetryableStatusCode(http.StatusNotImplemented))
	assert.False(t, IsRetryableStatusCode(http.StatusInternalServerError))
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestDoTypedReportsCancellationOverRetryableStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := NewBackoff(Options{MaxAttempts: 3, InitialInterval: time.Hour})
	calls := 0
	status, err := gateway.DoTyped(ctx, "reserveCache", func(context.Context) (int, error) {
		calls++
		cancel()
		return http.StatusServiceUnavailable, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, status)
	assert.Equal(t, 1, calls)
}

package transports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/richardartoul/actionscache/pkg/retry"
)

// ErrSocketTimeout is returned when a download body stalls.
var ErrSocketTimeout = errors.New("socket timeout")

// DefaultSocketTimeout aborts a download whose body stalls for this long.
const DefaultSocketTimeout = 5 * time.Second

// Shared transport tuning; connections are reused across requests.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient returns a client suitable for cache traffic. It has no
// overall timeout because archive transfers can be arbitrarily large.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: defaultTransport.Clone(),
	}
}

// HTTP downloads archives with a plain streaming GET.
type HTTP struct {
	client        *http.Client
	retry         retry.Gateway
	logger        *slog.Logger
	socketTimeout time.Duration
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithSocketTimeout sets how long the body may stall before the download
// is aborted.
func WithSocketTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.socketTimeout = d
	}
}

// NewHTTP creates an HTTP transport.
func NewHTTP(client *http.Client, gateway retry.Gateway, logger *slog.Logger, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client:        client,
		retry:         gateway,
		logger:        logger,
		socketTimeout: DefaultSocketTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = NewHTTPClient()
	}
	if h.retry == nil {
		h.retry = retry.NewBackoff(retry.Options{Logger: logger})
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

// Download implements Downloader.
func (h *HTTP) Download(ctx context.Context, archiveLocation, archivePath string) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	resp, err := h.retry.DoRaw(ctx, "downloadCache", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveLocation, nil)
		if err != nil {
			return nil, RedactError(err, archiveLocation)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			// Request errors quote the signed URL.
			return nil, RedactError(err, archiveLocation)
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if !retry.IsSuccessStatusCode(resp.StatusCode) {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	body := io.Reader(resp.Body)
	if h.socketTimeout > 0 {
		idle := newIdleReader(resp.Body, h.socketTimeout, func() { cancel(ErrSocketTimeout) })
		defer idle.stop()
		body = idle
	}

	written, err := io.Copy(f, body)
	closeErr := f.Close()
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrSocketTimeout) {
			err = fmt.Errorf("%w after %s", ErrSocketTimeout, h.socketTimeout)
		}
		return fmt.Errorf("failed to write archive: %w", RedactError(err, archiveLocation))
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close archive file: %w", closeErr)
	}

	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return fmt.Errorf("incomplete download: expected file size %d, actual file size %d", resp.ContentLength, written)
	}
	h.logger.Debug("downloaded archive", "location", Redact(archiveLocation), "bytes", written)
	return nil
}

// idleReader cancels the request when no bytes arrive within timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	mu      sync.Mutex
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, onIdle func()) *idleReader {
	return &idleReader{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, onIdle),
	}
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.mu.Lock()
		ir.timer.Reset(ir.timeout)
		ir.mu.Unlock()
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.mu.Lock()
	ir.timer.Stop()
	ir.mu.Unlock()
}

// Package actionscache is the client side of a remote build-artifact cache.
//
// A Client computes cache versions, looks up, reserves and commits entries
// on the cache service, uploads archives in concurrent byte-range chunks and
// downloads them through a local on-disk tier and a transport chosen by the
// archive's host.
package actionscache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/richardartoul/actionscache/pkg/locking"
	"github.com/richardartoul/actionscache/pkg/metrics"
	"github.com/richardartoul/actionscache/pkg/retry"
	"github.com/richardartoul/actionscache/transports"
)

const (
	apiVersion       = "6.0-preview.1"
	defaultUserAgent = "actions/cache"
	resourcePrefix   = "_apis/artifactcache/"
)

// Config is the explicit configuration of a Client. BaseURL and Token are
// required; everything else has a default.
type Config struct {
	BaseURL string
	Token   string

	UserAgent  string
	HTTPClient *http.Client
	Retry      retry.Gateway
	Logger     *slog.Logger
	Metrics    *metrics.LatencyTracker

	// Locks guards local tier write-back. Defaults to a cross-process
	// file lock.
	Locks locking.Group

	HTTPTransport  transports.Downloader
	AzureTransport transports.BlobDownloader
	S3Transport    transports.BlobDownloader
}

// Client talks to the cache service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	retry      retry.Gateway
	logger     *slog.Logger
	metrics    *metrics.LatencyTracker
	local      *LocalTier

	httpTransport  transports.Downloader
	azureTransport transports.BlobDownloader
	s3Transport    transports.BlobDownloader
}

// NewClient validates cfg and creates a Client. No request is issued.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, &ConfigurationError{Field: "baseURL", Reason: "cache service URL not found"}
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ConfigurationError{Field: "baseURL", Reason: "must be an absolute URL"}
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if cfg.Token == "" {
		return nil, &ConfigurationError{Field: "token", Reason: "runtime token not found"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transports.NewHTTPClient()
	}
	gateway := cfg.Retry
	if gateway == nil {
		gateway = retry.NewBackoff(retry.Options{Logger: logger})
	}
	locks := cfg.Locks
	if locks == nil {
		locks = locking.NewFileLock()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	c := &Client{
		baseURL:        baseURL,
		token:          cfg.Token,
		userAgent:      userAgent,
		httpClient:     httpClient,
		retry:          gateway,
		logger:         logger,
		metrics:        cfg.Metrics,
		local:          NewLocalTier(logger, locks, cfg.Metrics),
		httpTransport:  cfg.HTTPTransport,
		azureTransport: cfg.AzureTransport,
		s3Transport:    cfg.S3Transport,
	}
	if c.httpTransport == nil {
		c.httpTransport = transports.NewHTTP(httpClient, gateway, logger)
	}
	if c.azureTransport == nil {
		c.azureTransport = transports.NewAzureBlob(logger)
	}
	if c.s3Transport == nil {
		c.s3Transport = transports.NewS3(logger)
	}
	return c, nil
}

// LocalTier returns the client's local cache tier.
func (c *Client) LocalTier() *LocalTier {
	return c.local
}

// Metrics returns the latency tracker, which may be nil.
func (c *Client) Metrics() *metrics.LatencyTracker {
	return c.metrics
}

func (c *Client) resourceURL(resource string) string {
	return c.baseURL + resourcePrefix + resource
}

func (c *Client) newRequest(ctx context.Context, method, resource string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resourceURL(resource), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", fmt.Sprintf("application/json;api-version=%s", apiVersion))
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// typedResponse is a decoded JSON reply from the cache service.
type typedResponse[T any] struct {
	StatusCode int
	Result     *T
	Headers    http.Header
	// Message is the service's error message for non-2xx replies.
	Message string
	// DecodeErr is set when a 2xx body could not be decoded.
	DecodeErr error
}

type serviceMessage struct {
	Message string `json:"message"`
}

// doJSON issues a JSON request through the retry gateway and decodes the
// reply. Only transport failures are returned as errors; every status code
// is reported in the typed response.
func doJSON[T any](ctx context.Context, c *Client, name, method, resource string, payload any) (typedResponse[T], error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return typedResponse[T]{}, fmt.Errorf("failed to marshal %s request: %w", name, err)
		}
	}

	var out typedResponse[T]
	status, err := c.retry.DoTyped(ctx, name, func(ctx context.Context) (int, error) {
		out = typedResponse[T]{}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := c.newRequest(ctx, method, resource, reader)
		if err != nil {
			return 0, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, err
		}
		out.StatusCode = resp.StatusCode
		out.Headers = resp.Header

		switch {
		case resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0:
		case retry.IsSuccessStatusCode(resp.StatusCode):
			var result T
			if err := json.Unmarshal(data, &result); err != nil {
				out.DecodeErr = fmt.Errorf("failed to decode response: %w", err)
			} else {
				out.Result = &result
			}
		default:
			var msg serviceMessage
			if json.Unmarshal(data, &msg) == nil {
				out.Message = msg.Message
			}
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return out, &TransportError{Op: name, Err: err}
	}
	out.StatusCode = status
	return out, nil
}

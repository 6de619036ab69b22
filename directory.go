package actionscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/richardartoul/actionscache/pkg/metrics"
	"github.com/richardartoul/actionscache/pkg/retry"
	"github.com/richardartoul/actionscache/transports"
)

// ArtifactCacheEntry is a committed entry as reported by the cache service.
// ArchiveLocation is a signed URL and must be treated as a secret; the
// entry's LogValue redacts it.
type ArtifactCacheEntry struct {
	CacheKey        string `json:"cacheKey,omitempty"`
	Scope           string `json:"scope,omitempty"`
	CacheVersion    string `json:"cacheVersion,omitempty"`
	CreationTime    string `json:"creationTime,omitempty"`
	ArchiveLocation string `json:"archiveLocation,omitempty"`
}

// LogValue implements slog.LogValuer.
func (e ArtifactCacheEntry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cacheKey", e.CacheKey),
		slog.String("scope", e.Scope),
		slog.String("cacheVersion", e.CacheVersion),
		slog.String("creationTime", e.CreationTime),
		slog.String("archiveLocation", transports.Redact(e.ArchiveLocation)),
	)
}

// ReserveCacheRequest is the body of a reservation.
type ReserveCacheRequest struct {
	Key       string `json:"key"`
	Version   string `json:"version"`
	CacheSize *int64 `json:"cacheSize,omitempty"`
}

// ReserveCacheResponse is the service's reply to a successful reservation.
type ReserveCacheResponse struct {
	CacheID int64 `json:"cacheId"`
}

// CommitCacheRequest finalizes an upload with its authoritative size.
type CommitCacheRequest struct {
	Size int64 `json:"size"`
}

// ReserveResult is the typed outcome of Reserve. A refused reservation is
// reported in Err rather than as Reserve's error so that callers can decide
// whether it is fatal.
type ReserveResult struct {
	CacheID    int64
	StatusCode int
	Err        error
}

// Reserved reports whether the caller now owns the entry and may upload.
func (r ReserveResult) Reserved() bool {
	return r.Err == nil && r.CacheID > 0
}

// Conflict reports whether another run already reserved the entry.
func (r ReserveResult) Conflict() bool {
	return r.StatusCode == http.StatusConflict
}

// Lookup finds the most specific committed entry matching keys and the
// version derived from paths. A miss is not an error.
func (c *Client) Lookup(ctx context.Context, keys, paths []string, opts *InternalCacheOptions) (entry *ArtifactCacheEntry, miss bool, err error) {
	defer c.metrics.Time(metrics.OpLookup)()

	var method CompressionMethod
	if opts != nil {
		method = opts.CompressionMethod
	}
	version := ComputeVersion(paths, method)

	query := url.Values{}
	query.Set("keys", strings.Join(keys, ","))
	query.Set("version", version)
	resource := "cache?" + query.Encode()
	c.logger.Debug("looking up cache entry", "resource", c.resourceURL(resource))

	resp, err := doJSON[ArtifactCacheEntry](ctx, c, "getCacheEntry", http.MethodGet, resource, nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNoContent {
		c.logger.Debug("cache entry not found", "keys", keys, "version", version)
		return nil, true, nil
	}
	if !retry.IsSuccessStatusCode(resp.StatusCode) {
		return nil, false, &ProtocolError{Op: "getCacheEntry", StatusCode: resp.StatusCode, Err: messageErr(resp.Message)}
	}
	if resp.DecodeErr != nil {
		return nil, false, &ProtocolError{Op: "getCacheEntry", StatusCode: resp.StatusCode, Err: resp.DecodeErr}
	}
	if resp.Result == nil || resp.Result.ArchiveLocation == "" {
		return nil, false, &ProtocolError{Op: "getCacheEntry", StatusCode: resp.StatusCode, Err: ErrMalformedEntry}
	}

	c.logger.Debug("cache entry found", "entry", *resp.Result)
	return resp.Result, false, nil
}

// Reserve claims key at the version derived from paths. The returned error
// covers transport failures only; a refusal by the service is in
// ReserveResult.Err.
func (c *Client) Reserve(ctx context.Context, key string, paths []string, opts *InternalCacheOptions) (ReserveResult, error) {
	defer c.metrics.Time(metrics.OpReserve)()

	req := ReserveCacheRequest{Key: key}
	var method CompressionMethod
	if opts != nil {
		method = opts.CompressionMethod
		req.CacheSize = opts.CacheSize
	}
	req.Version = ComputeVersion(paths, method)

	resp, err := doJSON[ReserveCacheResponse](ctx, c, "reserveCache", http.MethodPost, "caches", req)
	if err != nil {
		return ReserveResult{}, err
	}

	result := ReserveResult{StatusCode: resp.StatusCode}
	switch {
	case !retry.IsSuccessStatusCode(resp.StatusCode):
		result.Err = &ProtocolError{Op: "reserveCache", StatusCode: resp.StatusCode, Err: messageErr(resp.Message)}
	case resp.DecodeErr != nil:
		result.Err = &ProtocolError{Op: "reserveCache", StatusCode: resp.StatusCode, Err: resp.DecodeErr}
	case resp.Result == nil || resp.Result.CacheID <= 0:
		result.Err = &ProtocolError{Op: "reserveCache", StatusCode: resp.StatusCode, Err: errors.New("response missing cacheId")}
	default:
		result.CacheID = resp.Result.CacheID
	}
	return result, nil
}

// Commit finalizes the upload of cacheID with its total size in bytes.
func (c *Client) Commit(ctx context.Context, cacheID, size int64) error {
	defer c.metrics.Time(metrics.OpCommit)()

	resource := fmt.Sprintf("caches/%d", cacheID)
	resp, err := doJSON[struct{}](ctx, c, "commitCache", http.MethodPost, resource, CommitCacheRequest{Size: size})
	if err != nil {
		return err
	}
	if !retry.IsSuccessStatusCode(resp.StatusCode) {
		return &ProtocolError{Op: "commitCache", StatusCode: resp.StatusCode, Err: messageErr(resp.Message)}
	}
	return nil
}

func messageErr(message string) error {
	if message == "" {
		return nil
	}
	return errors.New(message)
}

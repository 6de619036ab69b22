package actionscache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/richardartoul/actionscache/pkg/metrics"
	"github.com/richardartoul/actionscache/pkg/retry"
)

// byteRange is an inclusive range of archive bytes uploaded as one chunk.
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) length() int64 {
	return r.End - r.Start + 1
}

// contentRange formats the header value for an unknown total size, e.g.
// "bytes 0-199/*" for a 200 byte chunk at offset 0.
func (r byteRange) contentRange() string {
	return fmt.Sprintf("bytes %d-%d/*", r.Start, r.End)
}

// chunkRanges partitions [0, size) into disjoint ranges of at most
// chunkSize bytes in ascending order. The last range may be shorter.
func chunkRanges(size, chunkSize int64) []byteRange {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	ranges := make([]byteRange, 0, (size+chunkSize-1)/chunkSize)
	for start := int64(0); start < size; start += chunkSize {
		ranges = append(ranges, byteRange{
			Start: start,
			End:   min(start+chunkSize, size) - 1,
		})
	}
	return ranges
}

// uploadFile streams archivePath to the reserved entry cacheID in chunks.
// Workers share one read-only handle and claim ranges through an atomic
// index. The first failure cancels the remaining workers, and uploadFile
// returns only after all of them have stopped.
func (c *Client) uploadFile(ctx context.Context, cacheID int64, archivePath string, opts UploadOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	ranges := chunkRanges(info.Size(), int64(opts.UploadChunkSize))
	if len(ranges) == 0 {
		return nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	resource := fmt.Sprintf("caches/%d", cacheID)
	workers := min(opts.UploadConcurrency, len(ranges))
	c.logger.Debug("awaiting all uploads",
		"cacheID", cacheID,
		"chunks", len(ranges),
		"workers", workers)

	var next atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	for range workers {
		eg.Go(func() error {
			for {
				if err := egCtx.Err(); err != nil {
					return err
				}
				i := next.Add(1) - 1
				if i >= int64(len(ranges)) {
					return nil
				}
				if err := c.uploadChunk(egCtx, resource, f, ranges[i]); err != nil {
					return err
				}
			}
		})
	}
	return eg.Wait()
}

// uploadChunk sends one range. The body is rebuilt from the shared handle
// on every attempt.
func (c *Client) uploadChunk(ctx context.Context, resource string, f io.ReaderAt, r byteRange) error {
	defer c.metrics.Time(metrics.OpUploadChunk)()

	name := fmt.Sprintf("uploadChunk (start: %d, end: %d)", r.Start, r.End)
	c.logger.Debug("uploading chunk",
		"size", r.length(),
		"offset", r.Start,
		"contentRange", r.contentRange())

	resp, err := c.retry.DoRaw(ctx, name, func(ctx context.Context) (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodPatch, resource, io.NewSectionReader(f, r.Start, r.length()))
		if err != nil {
			return nil, err
		}
		req.ContentLength = r.length()
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", r.contentRange())
		return c.httpClient.Do(req)
	})
	if err != nil {
		return &TransportError{Op: name, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if !retry.IsSuccessStatusCode(resp.StatusCode) {
		return &ProtocolError{Op: name, StatusCode: resp.StatusCode}
	}
	return nil
}

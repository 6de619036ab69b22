package actionscache

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/richardartoul/actionscache/pkg/metrics"
)

// DownloadCache restores the archive at archiveLocation into archivePath.
// The local tier is consulted first; on a miss the archive is fetched
// remotely and then copied into the local tier. Only remote failures are
// returned.
func (c *Client) DownloadCache(ctx context.Context, archiveLocation, archivePath string, opts *DownloadOptions) error {
	defer c.metrics.Time(metrics.OpDownload)()

	resolved := ResolveDownloadOptions(opts)
	if c.local.TryRead(ctx, archiveLocation, archivePath, resolved) {
		return nil
	}
	if err := c.fetch(ctx, archiveLocation, archivePath, resolved); err != nil {
		return err
	}
	c.local.TryWrite(ctx, archivePath, archiveLocation, resolved)
	return nil
}

// SaveCache uploads archivePath to the reserved entry cacheID and commits
// it with the archive's size. Nothing is committed unless every chunk was
// uploaded.
func (c *Client) SaveCache(ctx context.Context, cacheID int64, archivePath string, opts *UploadOptions) error {
	defer c.metrics.Time(metrics.OpUpload)()

	c.logger.Debug("upload cache", "cacheID", cacheID)
	if err := c.uploadFile(ctx, cacheID, archivePath, ResolveUploadOptions(opts)); err != nil {
		return err
	}

	c.logger.Debug("committing cache", "cacheID", cacheID)
	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	cacheSize := info.Size()
	c.logger.Info(fmt.Sprintf("Cache Size: ~%d MB (%d B)", int64(math.Round(float64(cacheSize)/(1024*1024))), cacheSize))

	if err := c.Commit(ctx, cacheID, cacheSize); err != nil {
		return err
	}
	c.logger.Info("Cache saved successfully", "cacheID", cacheID)
	return nil
}

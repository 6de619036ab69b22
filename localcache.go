package actionscache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/richardartoul/actionscache/pkg/locking"
	"github.com/richardartoul/actionscache/pkg/metrics"
)

// lockDirName holds per-slot lock files, keeping the root itself a flat
// directory of archives.
const lockDirName = ".locks"

// LocalTier is an on-disk mirror of remote archives, keyed by the MD5 of
// the archive location. Entries are never deleted here; the modification
// time of each file records when it was last served.
//
// Failures never propagate: reads degrade to a miss and writes are skipped.
type LocalTier struct {
	logger  *slog.Logger
	locks   locking.Group
	metrics *metrics.LatencyTracker
}

// NewLocalTier creates a local tier. The root directory is supplied per
// call through DownloadOptions.LocalCacheRoot.
func NewLocalTier(logger *slog.Logger, locks locking.Group, tracker *metrics.LatencyTracker) *LocalTier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if locks == nil {
		locks = locking.NewNoOpGroup()
	}
	return &LocalTier{
		logger:  logger,
		locks:   locks,
		metrics: tracker,
	}
}

// LocalCachePath returns the slot for archiveLocation, or false when the
// local tier is disabled.
func LocalCachePath(archiveLocation string, opts DownloadOptions) (string, bool) {
	if opts.LocalCacheRoot == "" {
		return "", false
	}
	sum := md5.Sum([]byte(archiveLocation))
	return filepath.Join(opts.LocalCacheRoot, hex.EncodeToString(sum[:])), true
}

// TryRead copies the local slot for archiveLocation to archivePath and
// marks the slot as recently used. It reports whether it did so.
func (lt *LocalTier) TryRead(ctx context.Context, archiveLocation, archivePath string, opts DownloadOptions) bool {
	localPath, ok := LocalCachePath(archiveLocation, opts)
	if !ok {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if _, err := os.Stat(localPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			lt.logger.Error("failed to stat local cache", "path", localPath, "error", err)
		}
		return false
	}

	defer lt.metrics.Time(metrics.OpLocalRead)()
	if err := copyFile(localPath, archivePath); err != nil {
		lt.logger.Error("failed to read local cache", "path", localPath, "error", err)
		return false
	}

	now := time.Now()
	if err := os.Chtimes(localPath, now, now); err != nil {
		lt.logger.Error("failed to read local cache", "path", localPath, "error", err)
		return false
	}

	lt.logger.Debug("local cache hit", "path", localPath)
	return true
}

// TryWrite stores archivePath in the local slot for archiveLocation unless
// the slot is already occupied.
func (lt *LocalTier) TryWrite(ctx context.Context, archivePath, archiveLocation string, opts DownloadOptions) {
	localPath, ok := LocalCachePath(archiveLocation, opts)
	if !ok || archivePath == "" {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(archivePath); err != nil {
		return
	}
	if _, err := os.Stat(localPath); err == nil {
		return
	}

	defer lt.metrics.Time(metrics.OpLocalWrite)()
	lockKey := filepath.Join(opts.LocalCacheRoot, lockDirName, filepath.Base(localPath))
	_, err := lt.locks.DoWithLock(lockKey, func() (interface{}, error) {
		// Another writer may have filled the slot while we waited.
		if _, err := os.Stat(localPath); err == nil {
			return nil, nil
		}
		return nil, lt.write(archivePath, localPath)
	})
	if errors.Is(err, locking.ErrLockBusy) {
		lt.logger.Debug("local cache slot busy, skipping write", "path", localPath)
		return
	}
	if err != nil {
		lt.logger.Error("failed to write local cache", "path", localPath, "error", err)
		return
	}
	lt.logger.Debug("stored archive in local cache", "path", localPath)
}

// write copies src into a temp file next to dst and renames it into place,
// so a partially written slot is never observable.
func (lt *LocalTier) write(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create local cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := cloneInto(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename local cache file: %w", err)
	}
	return nil
}

// copyFile replaces dst with the contents of src.
func copyFile(src, dst string) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if err := cloneInto(out, src); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination: %w", err)
	}
	return nil
}

// cloneInto fills the empty file dst with the contents of src, sharing
// extents with src when the filesystem supports it.
func cloneInto(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if reflink(dst, in) == nil {
		return nil
	}
	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

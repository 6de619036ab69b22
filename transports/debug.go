package transports

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Debug wraps any transport and adds debug tracing of each download.
// This keeps tracing out of the transport implementations themselves.
// Archive locations are redacted before being written.
type Debug struct {
	out  io.Writer
	next Downloader
}

// NewDebug creates a new debug wrapper around an existing Downloader.
func NewDebug(out io.Writer, next Downloader) *Debug {
	return &Debug{out: out, next: next}
}

// Download implements Downloader with debug tracing.
func (d *Debug) Download(ctx context.Context, archiveLocation, archivePath string) error {
	fmt.Fprintf(d.out, "[DEBUG] Download: location=%s, path=%s\n", Redact(archiveLocation), archivePath)

	start := time.Now()
	err := d.next.Download(ctx, archiveLocation, archivePath)
	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] Download: ERROR: %v\n", RedactError(err, archiveLocation))
		return err
	}

	fmt.Fprintf(d.out, "[DEBUG] Download: done in %s\n", time.Since(start))
	return nil
}

// DebugBlob is Debug for BlobDownloader.
type DebugBlob struct {
	out  io.Writer
	next BlobDownloader
}

// NewDebugBlob creates a new debug wrapper around an existing BlobDownloader.
func NewDebugBlob(out io.Writer, next BlobDownloader) *DebugBlob {
	return &DebugBlob{out: out, next: next}
}

// DownloadBlob implements BlobDownloader with debug tracing.
func (d *DebugBlob) DownloadBlob(ctx context.Context, archiveLocation, archivePath string, opts BlobOptions) error {
	fmt.Fprintf(d.out, "[DEBUG] DownloadBlob: location=%s, path=%s, concurrency=%d, tryTimeout=%s\n",
		Redact(archiveLocation), archivePath, opts.Concurrency, opts.TryTimeout)

	start := time.Now()
	err := d.next.DownloadBlob(ctx, archiveLocation, archivePath, opts)
	if err != nil {
		fmt.Fprintf(d.out, "[DEBUG] DownloadBlob: ERROR: %v\n", RedactError(err, archiveLocation))
		return err
	}

	fmt.Fprintf(d.out, "[DEBUG] DownloadBlob: done in %s\n", time.Since(start))
	return nil
}

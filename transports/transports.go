// Package transports moves archive bytes from a remote location to a local
// file.
package transports

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Downloader fetches an archive with no transport-specific tuning.
type Downloader interface {
	Download(ctx context.Context, archiveLocation, archivePath string) error
}

// BlobOptions tunes blob-store SDK downloads.
type BlobOptions struct {
	// Concurrency is the number of parallel block requests.
	Concurrency int
	// BlockSize is the size of each block request. Zero selects the
	// transport's default.
	BlockSize int64
	// TryTimeout bounds a single request try.
	TryTimeout time.Duration
}

// BlobDownloader fetches an archive through a blob-store SDK.
type BlobDownloader interface {
	DownloadBlob(ctx context.Context, archiveLocation, archivePath string, opts BlobOptions) error
}

// Redact strips everything but scheme and host from a signed URL so that it
// can be logged.
func Redact(archiveLocation string) string {
	u, err := url.Parse(archiveLocation)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Scheme + "://" + u.Host + "/***"
}

const minRedactedValueLen = 8

// RedactError hides archiveLocation and its query string in err's message.
// A *url.Error is rebuilt around the redacted URL so callers can still match
// it with errors.As.
func RedactError(err error, archiveLocation string) error {
	if err == nil || archiveLocation == "" {
		return err
	}
	if urlErr, ok := err.(*url.Error); ok {
		return &url.Error{Op: urlErr.Op, URL: Redact(urlErr.URL), Err: RedactError(urlErr.Err, archiveLocation)}
	}

	msg := err.Error()
	scrubbed := strings.ReplaceAll(msg, archiveLocation, Redact(archiveLocation))
	if u, perr := url.Parse(archiveLocation); perr == nil && u.RawQuery != "" {
		scrubbed = strings.ReplaceAll(scrubbed, u.RawQuery, "***")
		// SDKs may re-encode or reorder the query; signatures and tokens are
		// long, so any long value is hidden on its own.
		for _, values := range u.Query() {
			for _, v := range values {
				if len(v) < minRedactedValueLen {
					continue
				}
				scrubbed = strings.ReplaceAll(scrubbed, v, "***")
				scrubbed = strings.ReplaceAll(scrubbed, url.QueryEscape(v), "***")
			}
		}
	}
	if scrubbed == msg {
		return err
	}
	return &redactedError{msg: scrubbed, err: err}
}

// redactedError keeps the chain of err for errors.Is/As but never prints it.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

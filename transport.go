package actionscache

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/richardartoul/actionscache/transports"
)

// TransportKind names the mechanism used to fetch an archive.
type TransportKind int

const (
	TransportHTTP TransportKind = iota
	TransportAzureBlob
	TransportS3
)

func (k TransportKind) String() string {
	switch k {
	case TransportAzureBlob:
		return "azure-blob"
	case TransportS3:
		return "s3"
	default:
		return "http"
	}
}

// SelectTransport picks the transport for archiveLocation. The choice
// depends only on the URL host and the SDK flags in opts.
func SelectTransport(archiveLocation string, opts DownloadOptions) (TransportKind, error) {
	u, err := url.Parse(archiveLocation)
	if err != nil {
		// url errors quote the input, which is a secret.
		return TransportHTTP, &TransportError{Op: "downloadCache", Err: errors.New("invalid archive location")}
	}
	if u.Host == "" {
		return TransportHTTP, &TransportError{Op: "downloadCache", Err: errors.New("archive location is not an absolute URL")}
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case opts.azureSDKEnabled() && strings.HasSuffix(host, transports.AzureBlobHostSuffix):
		return TransportAzureBlob, nil
	case opts.UseS3Sdk && strings.HasSuffix(host, transports.S3HostSuffix):
		return TransportS3, nil
	default:
		return TransportHTTP, nil
	}
}

// fetch downloads archiveLocation into archivePath with the selected
// transport. There is no fallback between transports.
func (c *Client) fetch(ctx context.Context, archiveLocation, archivePath string, opts DownloadOptions) error {
	kind, err := SelectTransport(archiveLocation, opts)
	if err != nil {
		return err
	}
	c.logger.Debug("downloading archive",
		"transport", kind.String(),
		"location", transports.Redact(archiveLocation))

	blobOpts := transports.BlobOptions{
		Concurrency: opts.DownloadConcurrency,
		TryTimeout:  opts.timeout(),
	}
	switch kind {
	case TransportAzureBlob:
		err = c.azureTransport.DownloadBlob(ctx, archiveLocation, archivePath, blobOpts)
	case TransportS3:
		err = c.s3Transport.DownloadBlob(ctx, archiveLocation, archivePath, blobOpts)
	default:
		err = c.httpTransport.Download(ctx, archiveLocation, archivePath)
	}
	if err != nil {
		return &TransportError{Op: "downloadCache", Err: transports.RedactError(err, archiveLocation)}
	}
	return nil
}

package transports

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureBlobHostSuffix identifies archives hosted on Azure blob storage.
const AzureBlobHostSuffix = ".blob.core.windows.net"

const defaultAzureBlockSize = 4 * 1024 * 1024

// AzureBlob downloads archives from Azure blob storage with parallel block
// reads. The archive location must carry its own SAS token.
type AzureBlob struct {
	logger *slog.Logger
	optFns []func(*blob.ClientOptions)
}

// AzureOption configures an Azure blob transport.
type AzureOption func(*AzureBlob)

// WithAzureClientOptions adds options applied to every blob client, after
// the per-download try timeout.
func WithAzureClientOptions(fns ...func(*blob.ClientOptions)) AzureOption {
	return func(a *AzureBlob) {
		a.optFns = append(a.optFns, fns...)
	}
}

// NewAzureBlob creates an Azure blob transport.
func NewAzureBlob(logger *slog.Logger, opts ...AzureOption) *AzureBlob {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &AzureBlob{logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DownloadBlob implements BlobDownloader.
func (a *AzureBlob) DownloadBlob(ctx context.Context, archiveLocation, archivePath string, opts BlobOptions) error {
	clientOpts := &blob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{TryTimeout: opts.TryTimeout},
		},
	}
	for _, fn := range a.optFns {
		fn(clientOpts)
	}
	client, err := blob.NewClientWithNoCredential(archiveLocation, clientOpts)
	if err != nil {
		return fmt.Errorf("failed to create blob client: %w", RedactError(err, archiveLocation))
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = defaultAzureBlockSize
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > math.MaxUint16 {
		concurrency = math.MaxUint16
	}

	n, err := client.DownloadFile(ctx, f, &blob.DownloadFileOptions{
		BlockSize:   blockSize,
		Concurrency: uint16(concurrency),
	})
	closeErr := f.Close()
	if err != nil {
		// Response errors carry the request URL, SAS token included.
		return fmt.Errorf("failed to download blob: %w", RedactError(err, archiveLocation))
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close archive file: %w", closeErr)
	}

	a.logger.Debug("downloaded archive with azure sdk",
		"location", Redact(archiveLocation),
		"bytes", n,
		"concurrency", concurrency)
	return nil
}

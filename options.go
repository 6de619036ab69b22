package actionscache

import "time"

const (
	DefaultDownloadConcurrency = 8
	DefaultTimeoutInMs         = 30000
	DefaultUploadConcurrency   = 4
	DefaultUploadChunkSize     = 32 * 1024 * 1024
)

// DownloadOptions configures DownloadCache. Zero values select defaults.
type DownloadOptions struct {
	// UseAzureSdk enables the Azure blob SDK for archives hosted on Azure
	// storage. nil means true.
	UseAzureSdk *bool

	// UseS3Sdk enables the AWS SDK for archives hosted on S3.
	UseS3Sdk bool

	// DownloadConcurrency is handed to blob-SDK transports only.
	DownloadConcurrency int

	// TimeoutInMs bounds a single SDK request try.
	TimeoutInMs int

	// LocalCacheRoot enables the local cache tier when non-empty.
	LocalCacheRoot string
}

// UploadOptions configures SaveCache. Zero values select defaults.
type UploadOptions struct {
	UploadConcurrency int
	UploadChunkSize   int
}

// InternalCacheOptions carries the settings that affect lookup and
// reservation of an entry.
type InternalCacheOptions struct {
	CompressionMethod CompressionMethod
	CacheSize         *int64
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// ResolveDownloadOptions fills unset fields of opts with defaults. opts may
// be nil.
func ResolveDownloadOptions(opts *DownloadOptions) DownloadOptions {
	resolved := DownloadOptions{
		UseAzureSdk:         Bool(true),
		DownloadConcurrency: DefaultDownloadConcurrency,
		TimeoutInMs:         DefaultTimeoutInMs,
	}
	if opts == nil {
		return resolved
	}
	if opts.UseAzureSdk != nil {
		resolved.UseAzureSdk = Bool(*opts.UseAzureSdk)
	}
	resolved.UseS3Sdk = opts.UseS3Sdk
	if opts.DownloadConcurrency > 0 {
		resolved.DownloadConcurrency = opts.DownloadConcurrency
	}
	if opts.TimeoutInMs > 0 {
		resolved.TimeoutInMs = opts.TimeoutInMs
	}
	resolved.LocalCacheRoot = opts.LocalCacheRoot
	return resolved
}

// ResolveUploadOptions fills unset fields of opts with defaults. Negative
// values are kept so that validation can reject them.
func ResolveUploadOptions(opts *UploadOptions) UploadOptions {
	resolved := UploadOptions{
		UploadConcurrency: DefaultUploadConcurrency,
		UploadChunkSize:   DefaultUploadChunkSize,
	}
	if opts == nil {
		return resolved
	}
	if opts.UploadConcurrency != 0 {
		resolved.UploadConcurrency = opts.UploadConcurrency
	}
	if opts.UploadChunkSize != 0 {
		resolved.UploadChunkSize = opts.UploadChunkSize
	}
	return resolved
}

func (o UploadOptions) validate() error {
	if o.UploadConcurrency <= 0 {
		return &ConfigurationError{Field: "uploadConcurrency", Reason: "must be positive"}
	}
	if o.UploadChunkSize <= 0 {
		return &ConfigurationError{Field: "uploadChunkSize", Reason: "must be positive"}
	}
	return nil
}

func (o DownloadOptions) azureSDKEnabled() bool {
	return o.UseAzureSdk == nil || *o.UseAzureSdk
}

func (o DownloadOptions) timeout() time.Duration {
	return time.Duration(o.TimeoutInMs) * time.Millisecond
}

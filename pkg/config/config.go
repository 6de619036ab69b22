// Package config resolves cache client settings from the environment and an
// optional config file, once, at startup.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/richardartoul/actionscache"
)

// Config holds every recognized setting. Keys double as environment
// variable names.
type Config struct {
	CacheURL     string `mapstructure:"ACTIONS_CACHE_URL"`
	RuntimeToken string `mapstructure:"ACTIONS_RUNTIME_TOKEN"`

	LocalCacheRoot      string        `mapstructure:"ACTIONS_CACHE_LOCAL_ROOT"`
	UploadConcurrency   int           `mapstructure:"ACTIONS_CACHE_UPLOAD_CONCURRENCY"`
	UploadChunkSize     int           `mapstructure:"ACTIONS_CACHE_UPLOAD_CHUNK_SIZE"`
	DownloadConcurrency int           `mapstructure:"ACTIONS_CACHE_DOWNLOAD_CONCURRENCY"`
	UseAzureSdk         bool          `mapstructure:"ACTIONS_CACHE_USE_AZURE_SDK"`
	UseS3Sdk            bool          `mapstructure:"ACTIONS_CACHE_USE_S3_SDK"`
	Timeout             time.Duration `mapstructure:"ACTIONS_CACHE_TIMEOUT"`

	RetryAttempts int           `mapstructure:"ACTIONS_CACHE_RETRY_ATTEMPTS"`
	RetryInterval time.Duration `mapstructure:"ACTIONS_CACHE_RETRY_INTERVAL"`

	LogLevel      string `mapstructure:"ACTIONS_CACHE_LOG_LEVEL"`
	LogFilePath   string `mapstructure:"ACTIONS_CACHE_LOG_FILE"`
	LogMaxSize    int    `mapstructure:"ACTIONS_CACHE_LOG_MAX_SIZE"`
	LogMaxBackups int    `mapstructure:"ACTIONS_CACHE_LOG_MAX_BACKUPS"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ACTIONS_CACHE_URL", "")
	v.SetDefault("ACTIONS_RUNTIME_TOKEN", "")
	v.SetDefault("ACTIONS_CACHE_LOCAL_ROOT", "")
	v.SetDefault("ACTIONS_CACHE_UPLOAD_CONCURRENCY", actionscache.DefaultUploadConcurrency)
	v.SetDefault("ACTIONS_CACHE_UPLOAD_CHUNK_SIZE", actionscache.DefaultUploadChunkSize)
	v.SetDefault("ACTIONS_CACHE_DOWNLOAD_CONCURRENCY", actionscache.DefaultDownloadConcurrency)
	v.SetDefault("ACTIONS_CACHE_USE_AZURE_SDK", true)
	v.SetDefault("ACTIONS_CACHE_USE_S3_SDK", false)
	v.SetDefault("ACTIONS_CACHE_TIMEOUT", "30s")
	v.SetDefault("ACTIONS_CACHE_RETRY_ATTEMPTS", 2)
	v.SetDefault("ACTIONS_CACHE_RETRY_INTERVAL", "5s")
	v.SetDefault("ACTIONS_CACHE_LOG_LEVEL", "info")
	v.SetDefault("ACTIONS_CACHE_LOG_FILE", "")
	v.SetDefault("ACTIONS_CACHE_LOG_MAX_SIZE", 100)
	v.SetDefault("ACTIONS_CACHE_LOG_MAX_BACKUPS", 5)
}

// Load reads settings from the environment, layered over the file at path
// when path is non-empty, and validates them.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first missing or invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CacheURL) == "" {
		return &actionscache.ConfigurationError{Field: "ACTIONS_CACHE_URL", Reason: "cache service URL not found"}
	}
	if c.RuntimeToken == "" {
		return &actionscache.ConfigurationError{Field: "ACTIONS_RUNTIME_TOKEN", Reason: "runtime token not found"}
	}
	if c.UploadConcurrency <= 0 {
		return &actionscache.ConfigurationError{Field: "ACTIONS_CACHE_UPLOAD_CONCURRENCY", Reason: "must be positive"}
	}
	if c.UploadChunkSize <= 0 {
		return &actionscache.ConfigurationError{Field: "ACTIONS_CACHE_UPLOAD_CHUNK_SIZE", Reason: "must be positive"}
	}
	if c.DownloadConcurrency <= 0 {
		return &actionscache.ConfigurationError{Field: "ACTIONS_CACHE_DOWNLOAD_CONCURRENCY", Reason: "must be positive"}
	}
	return nil
}

// DownloadOptions converts the settings for DownloadCache.
func (c *Config) DownloadOptions() actionscache.DownloadOptions {
	return actionscache.DownloadOptions{
		UseAzureSdk:         actionscache.Bool(c.UseAzureSdk),
		UseS3Sdk:            c.UseS3Sdk,
		DownloadConcurrency: c.DownloadConcurrency,
		TimeoutInMs:         int(c.Timeout / time.Millisecond),
		LocalCacheRoot:      c.LocalCacheRoot,
	}
}

// UploadOptions converts the settings for SaveCache.
func (c *Config) UploadOptions() actionscache.UploadOptions {
	return actionscache.UploadOptions{
		UploadConcurrency: c.UploadConcurrency,
		UploadChunkSize:   c.UploadChunkSize,
	}
}

// durationDecodeHook accepts Go duration strings or plain seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(time.Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			raw := strings.TrimSpace(v)
			if raw == "" {
				return time.Duration(0), nil
			}
			if parsed, err := time.ParseDuration(raw); err == nil {
				return parsed, nil
			}
			if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return nil, fmt.Errorf("invalid duration value: %s", v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case time.Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type: %T", v)
		}
	}
}

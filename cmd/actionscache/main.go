// Command actionscache serves cache lookups, reservations, downloads and
// saves over stdin/stdout for workflow steps.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardartoul/actionscache"
	"github.com/richardartoul/actionscache/pkg/config"
	"github.com/richardartoul/actionscache/pkg/metrics"
	"github.com/richardartoul/actionscache/pkg/retry"
	"github.com/richardartoul/actionscache/transports"
)

type cliOptions struct {
	configPath string
	debug      bool
}

var (
	stdIn  io.Reader = os.Stdin
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("actionscache", flag.ContinueOnError)
	fs.SetOutput(stdErr)

	var opts cliOptions
	fs.StringVar(&opts.configPath, "config", "", "optional config file; environment variables take precedence")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging and transport tracing")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	return opts, nil
}

func run(opts cliOptions) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "failed to load config: %v\n", err)
		return 1
	}

	logger, closer, err := newLogger(cfg, opts.debug)
	if err != nil {
		fmt.Fprintf(stdErr, "failed to init logger: %v\n", err)
		return 1
	}
	defer closer.Close()

	gateway := retry.NewBackoff(retry.Options{
		MaxAttempts:     cfg.RetryAttempts,
		InitialInterval: cfg.RetryInterval,
		Logger:          logger,
	})
	httpClient := transports.NewHTTPClient()
	clientCfg := actionscache.Config{
		BaseURL:    cfg.CacheURL,
		Token:      cfg.RuntimeToken,
		HTTPClient: httpClient,
		Retry:      gateway,
		Logger:     logger,
		Metrics:    metrics.NewLatencyTracker(0.01),
	}
	if opts.debug {
		clientCfg.HTTPTransport = transports.NewDebug(stdErr, transports.NewHTTP(httpClient, gateway, logger))
		clientCfg.AzureTransport = transports.NewDebugBlob(stdErr, transports.NewAzureBlob(logger))
		clientCfg.S3Transport = transports.NewDebugBlob(stdErr, transports.NewS3(logger))
	}

	client, err := actionscache.NewClient(clientCfg)
	if err != nil {
		logger.Error("failed to create cache client", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewCacheServer(client, cfg.DownloadOptions(), cfg.UploadOptions(), stdIn, stdOut)
	if err := server.Run(ctx); err != nil {
		logger.Error("cache server stopped", "error", err)
		return 1
	}
	return 0
}

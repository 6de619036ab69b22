package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richardartoul/actionscache"
	"github.com/richardartoul/actionscache/pkg/metrics"
)

// Cmd represents a cache command type.
type Cmd string

const (
	CmdLookup   = Cmd("lookup")
	CmdReserve  = Cmd("reserve")
	CmdDownload = Cmd("download")
	CmdSave     = Cmd("save")
	CmdStats    = Cmd("stats")
	CmdClose    = Cmd("close")
)

// Request represents one command from the workflow step.
type Request struct {
	ID          int64
	Command     Cmd
	Keys        []string `json:",omitempty"`
	Key         string   `json:",omitempty"`
	Paths       []string `json:",omitempty"`
	Compression string   `json:",omitempty"`
	CacheSize   *int64   `json:",omitempty"`

	ArchiveLocation string `json:",omitempty"`
	ArchivePath     string `json:",omitempty"`
	CacheID         int64  `json:",omitempty"`
}

// Response represents the reply to a Request.
type Response struct {
	ID            int64                            `json:",omitempty"`
	Err           string                           `json:",omitempty"`
	KnownCommands []Cmd                            `json:",omitempty"`
	Miss          bool                             `json:",omitempty"`
	Entry         *actionscache.ArtifactCacheEntry `json:",omitempty"`
	CacheID       int64                            `json:",omitempty"`
	StatusCode    int                              `json:",omitempty"`
	Conflict      bool                             `json:",omitempty"`
	Stats         []string                         `json:",omitempty"`
}

// cacheClient is the subset of *actionscache.Client the server drives.
type cacheClient interface {
	Lookup(ctx context.Context, keys, paths []string, opts *actionscache.InternalCacheOptions) (*actionscache.ArtifactCacheEntry, bool, error)
	Reserve(ctx context.Context, key string, paths []string, opts *actionscache.InternalCacheOptions) (actionscache.ReserveResult, error)
	DownloadCache(ctx context.Context, archiveLocation, archivePath string, opts *actionscache.DownloadOptions) error
	SaveCache(ctx context.Context, cacheID int64, archivePath string, opts *actionscache.UploadOptions) error
	Metrics() *metrics.LatencyTracker
}

// CacheServer serves cache commands as JSON lines.
type CacheServer struct {
	client       cacheClient
	downloadOpts actionscache.DownloadOptions
	uploadOpts   actionscache.UploadOptions
	scanner      *bufio.Scanner
	writer       *bufio.Writer
}

// NewCacheServer creates a server reading requests from in and writing
// responses to out.
func NewCacheServer(client cacheClient, downloadOpts actionscache.DownloadOptions, uploadOpts actionscache.UploadOptions, in io.Reader, out io.Writer) *CacheServer {
	scanner := bufio.NewScanner(in)
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	return &CacheServer{
		client:       client,
		downloadOpts: downloadOpts,
		uploadOpts:   uploadOpts,
		scanner:      scanner,
		writer:       bufio.NewWriter(out),
	}
}

// SendResponse writes one response line.
func (s *CacheServer) SendResponse(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return s.writer.Flush()
}

// SendInitialResponse advertises the supported commands.
func (s *CacheServer) SendInitialResponse() error {
	return s.SendResponse(Response{
		KnownCommands: []Cmd{CmdLookup, CmdReserve, CmdDownload, CmdSave, CmdStats, CmdClose},
	})
}

// ReadRequest reads the next non-empty request line.
func (s *CacheServer) ReadRequest() (*Request, error) {
	var line string
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read request: %w", err)
			}
			return nil, io.EOF
		}
		line = s.scanner.Text()
		if strings.TrimSpace(line) != "" {
			break
		}
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return &req, nil
}

// HandleRequest processes a single request and sends a response.
func (s *CacheServer) HandleRequest(ctx context.Context, req *Request) error {
	resp := Response{ID: req.ID}
	opts := &actionscache.InternalCacheOptions{
		CompressionMethod: actionscache.CompressionMethod(req.Compression),
		CacheSize:         req.CacheSize,
	}

	switch req.Command {
	case CmdLookup:
		entry, miss, err := s.client.Lookup(ctx, req.Keys, req.Paths, opts)
		if err != nil {
			resp.Err = err.Error()
		} else {
			resp.Miss = miss
			resp.Entry = entry
		}

	case CmdReserve:
		result, err := s.client.Reserve(ctx, req.Key, req.Paths, opts)
		if err != nil {
			resp.Err = err.Error()
			break
		}
		resp.StatusCode = result.StatusCode
		resp.Conflict = result.Conflict()
		if result.Err != nil {
			resp.Err = result.Err.Error()
		} else {
			resp.CacheID = result.CacheID
		}

	case CmdDownload:
		opts := s.downloadOpts
		if err := s.client.DownloadCache(ctx, req.ArchiveLocation, req.ArchivePath, &opts); err != nil {
			resp.Err = err.Error()
		}

	case CmdSave:
		opts := s.uploadOpts
		if err := s.client.SaveCache(ctx, req.CacheID, req.ArchivePath, &opts); err != nil {
			resp.Err = err.Error()
		}

	case CmdStats:
		for _, stat := range s.client.Metrics().GetAllStats() {
			resp.Stats = append(resp.Stats, stat.String())
		}

	case CmdClose:
		// Will exit after sending response

	default:
		resp.Err = fmt.Sprintf("unknown command: %s", req.Command)
	}

	return s.SendResponse(resp)
}

// Run serves requests until close, EOF or ctx is done.
func (s *CacheServer) Run(ctx context.Context) error {
	if err := s.SendInitialResponse(); err != nil {
		return fmt.Errorf("failed to send initial response: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := s.ReadRequest()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.HandleRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to handle request: %w", err)
		}
		if req.Command == CmdClose {
			return nil
		}
	}
}

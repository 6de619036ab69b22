package actionscache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richardartoul/actionscache/pkg/locking"
	"github.com/richardartoul/actionscache/pkg/metrics"
	"github.com/richardartoul/actionscache/pkg/retry"
	"github.com/richardartoul/actionscache/transports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

const testToken = "test-token"

type receivedChunk struct {
	Start int64
	End   int64
	Data  []byte
}

// fakeCacheService emulates the cache service REST surface.
type fakeCacheService struct {
	mu sync.Mutex

	lookupStatus int
	lookupBody   string

	reserveStatus int
	reserveBody   string

	// chunkStatus picks the status for an uploaded range; nil means 204.
	chunkStatus func(r *http.Request, start, end int64) int
	chunks      []receivedChunk

	commitStatus int
	commits      []int64

	requests []*http.Request
}

func (f *fakeCacheService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resource, ok := strings.CutPrefix(r.URL.Path, "/"+resourcePrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && resource == "cache":
		f.mu.Lock()
		status, body := f.lookupStatus, f.lookupBody
		f.mu.Unlock()
		writeReply(w, status, body)

	case r.Method == http.MethodPost && resource == "caches":
		f.mu.Lock()
		status, body := f.reserveStatus, f.reserveBody
		f.mu.Unlock()
		writeReply(w, status, body)

	case r.Method == http.MethodPatch && strings.HasPrefix(resource, "caches/"):
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/*", &start, &end); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status := http.StatusNoContent
		if f.chunkStatus != nil {
			status = f.chunkStatus(r, start, end)
		}
		if retry.IsSuccessStatusCode(status) {
			f.mu.Lock()
			f.chunks = append(f.chunks, receivedChunk{Start: start, End: end, Data: data})
			f.mu.Unlock()
		}
		w.WriteHeader(status)

	case r.Method == http.MethodPost && strings.HasPrefix(resource, "caches/"):
		var req struct {
			Size int64 `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		status := f.commitStatus
		if status == 0 {
			status = http.StatusNoContent
		}
		if retry.IsSuccessStatusCode(status) {
			f.commits = append(f.commits, req.Size)
		}
		f.mu.Unlock()
		w.WriteHeader(status)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCacheService) sortedChunks() []receivedChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunks := append([]receivedChunk(nil), f.chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Start < chunks[j].Start })
	return chunks
}

func (f *fakeCacheService) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func writeReply(w http.ResponseWriter, status int, body string) {
	if status == 0 {
		status = http.StatusOK
	}
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// fakeStream is a stand-in for the generic HTTP transport.
type fakeStream struct {
	mu      sync.Mutex
	calls   []string
	content string
	err     error
}

func (f *fakeStream) Download(ctx context.Context, archiveLocation, archivePath string) error {
	f.mu.Lock()
	f.calls = append(f.calls, archiveLocation+" -> "+archivePath)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(archivePath, []byte(f.content), 0o644)
}

// fakeBlob is a stand-in for a blob SDK transport.
type fakeBlob struct {
	mu      sync.Mutex
	calls   []transports.BlobOptions
	content string
	err     error
}

func (f *fakeBlob) DownloadBlob(ctx context.Context, archiveLocation, archivePath string, opts transports.BlobOptions) error {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(archivePath, []byte(f.content), 0o644)
}

type testEnv struct {
	client  *Client
	service *fakeCacheService
	server  *httptest.Server
	stream  *fakeStream
	azure   *fakeBlob
	s3      *fakeBlob
	tracker *metrics.LatencyTracker
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		service: &fakeCacheService{},
		stream:  &fakeStream{content: "downloaded over http"},
		azure:   &fakeBlob{content: "downloaded with azure sdk"},
		s3:      &fakeBlob{content: "downloaded with s3 sdk"},
		tracker: metrics.NewLatencyTracker(0.01),
	}
	env.server = httptest.NewServer(env.service)
	t.Cleanup(env.server.Close)

	cfg := Config{
		BaseURL:        env.server.URL,
		Token:          testToken,
		HTTPClient:     env.server.Client(),
		Retry:          retry.NewBackoff(retry.Options{MaxAttempts: 3, InitialInterval: time.Millisecond}),
		Metrics:        env.tracker,
		Locks:          locking.NewMemLock(),
		HTTPTransport:  env.stream,
		AzureTransport: env.azure,
		S3Transport:    env.s3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	env.client = client
	return env
}

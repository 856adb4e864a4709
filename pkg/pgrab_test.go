package pgrab_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgrab "github.com/pgrab/pgrab/pkg"
	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/download"
	"github.com/pgrab/pgrab/pkg/extract"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func testOptions(primary, secondary client.HTTPClient) download.Options {
	return download.Options{
		Retry:     download.RetryPolicy{MaxAttempts: 3, Backoff: download.NoBackoff},
		Timeout:   5 * time.Second,
		Primary:   primary,
		Secondary: secondary,
	}
}

func makeGetter(t *testing.T) *pgrab.Getter {
	t.Helper()
	opts := client.Options{}
	return pgrab.NewGetter(testOptions(client.NewPool(opts), client.NewFallbackClient(opts)), t.TempDir())
}

type testFile struct {
	name    string
	content []byte
}

// fileServer serves files by name with Range support, sleeping delays[name] before
// answering a GET, and records the order GETs arrive in.
type fileServer struct {
	*httptest.Server
	mu     sync.Mutex
	order  []string
	delays map[string]time.Duration
}

func newFileServer(t *testing.T, files []testFile) *fileServer {
	t.Helper()
	fs := &fileServer{delays: map[string]time.Duration{}}
	byName := map[string][]byte{}
	for _, f := range files {
		byName[f.name] = f.content
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		content, ok := byName[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			fs.mu.Lock()
			fs.order = append(fs.order, name)
			delay := fs.delays[name]
			fs.mu.Unlock()
			time.Sleep(delay)
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fileServer) requests() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.order...)
}

func (fs *fileServer) urls(names ...string) []string {
	urls := make([]string, len(names))
	for i, name := range names {
		urls[i] = fs.URL + "/" + name
	}
	return urls
}

func randomFiles(count, size int) []testFile {
	rnd := rand.New(rand.NewSource(42))
	files := make([]testFile, count)
	for i := range files {
		content := make([]byte, size+i*17)
		rnd.Read(content)
		files[i] = testFile{name: fmt.Sprintf("file-%d.bin", i), content: content}
	}
	return files
}

func assertDownloaded(t *testing.T, result pgrab.TaskResult, expected []byte) {
	t.Helper()
	require.True(t, result.Outcome.Succeeded, "task %d: %v", result.Task.Index, result.Outcome.Err)
	actual, err := os.ReadFile(result.Task.Dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(expected, actual), "task %d content differs", result.Task.Index)
	assert.Equal(t, int64(len(expected)), result.Outcome.BytesWritten)
}

func assertNoLeftovers(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".part")
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "leftover %s", entry.Name())
	}
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		input    string
		expected pgrab.Mode
	}{
		{"1", pgrab.ModeSequential},
		{"sequential", pgrab.ModeSequential},
		{"2", pgrab.ModeParallel},
		{" Parallel ", pgrab.ModeParallel},
		{"3", pgrab.ModeAdvanced},
		{"advanced", pgrab.ModeAdvanced},
	}
	for _, tc := range testCases {
		mode, err := pgrab.ParseMode(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, mode)
	}

	for _, input := range []string{"", "4", "fast"} {
		_, err := pgrab.ParseMode(input)
		require.Error(t, err)
		assert.Equal(t, download.KindConfig, download.KindOf(err))
	}
}

func TestTasks(t *testing.T) {
	getter := &pgrab.Getter{OutputDir: "downloads"}
	tasks := getter.Tasks([]string{"http://example.com/a.zip", "http://example.com/latest", "http://example.com/a.zip"})

	require.Len(t, tasks, 3)
	assert.Equal(t, filepath.Join("downloads", "1_a.zip"), tasks[0].Dest)
	assert.Equal(t, filepath.Join("downloads", "file_2.bin"), tasks[1].Dest)
	assert.Equal(t, filepath.Join("downloads", "3_a.zip"), tasks[2].Dest)
	for i, task := range tasks {
		assert.Equal(t, i+1, task.Index)
		assert.NotEmpty(t, task.ID)
	}
	assert.NotEqual(t, tasks[0].ID, tasks[2].ID)
}

func TestAllModesDownloadExactBytes(t *testing.T) {
	files := randomFiles(5, 10*1024)
	server := newFileServer(t, files)
	names := []string{files[0].name, files[1].name, files[2].name, files[3].name, files[4].name}

	runs := map[string]func(*pgrab.Getter, []string) pgrab.Summary{
		"sequential": func(g *pgrab.Getter, urls []string) pgrab.Summary { return g.Sequential(context.Background(), urls) },
		"parallel":   func(g *pgrab.Getter, urls []string) pgrab.Summary { return g.Parallel(context.Background(), urls) },
		"advanced":   func(g *pgrab.Getter, urls []string) pgrab.Summary { return g.Advanced(context.Background(), urls, 6) },
	}
	for name, run := range runs {
		t.Run(name, func(t *testing.T) {
			getter := makeGetter(t)
			summary := run(getter, server.urls(names...))

			require.NoError(t, summary.Err())
			require.Len(t, summary.Results, len(files))
			assert.Empty(t, summary.Failed())
			var total int64
			for i, result := range summary.Results {
				assert.Equal(t, i+1, result.Task.Index)
				assertDownloaded(t, result, files[i].content)
				total += int64(len(files[i].content))
			}
			assert.Equal(t, total, summary.BytesWritten())
			assertNoLeftovers(t, getter.OutputDir)
		})
	}
}

func TestAdvancedUsesChunks(t *testing.T) {
	files := randomFiles(1, 4096)
	server := newFileServer(t, files)

	summary := makeGetter(t).Advanced(context.Background(), server.urls(files[0].name), 4)

	require.NoError(t, summary.Err())
	assert.Equal(t, download.PathChunked, summary.Results[0].Outcome.Path)
	assert.False(t, summary.Results[0].Outcome.FellBack)
	// one GET per chunk
	assert.Len(t, server.requests(), 4)
}

func TestSequentialRunsInInputOrder(t *testing.T) {
	files := randomFiles(3, 1024)
	server := newFileServer(t, files)
	// the first file is the slowest, so any overlap would reorder arrivals
	server.delays[files[0].name] = 150 * time.Millisecond
	server.delays[files[1].name] = 75 * time.Millisecond

	summary := makeGetter(t).Sequential(context.Background(), server.urls(files[0].name, files[1].name, files[2].name))

	require.NoError(t, summary.Err())
	assert.Equal(t, []string{files[0].name, files[1].name, files[2].name}, server.requests())
	for i := 1; i < len(summary.Results); i++ {
		assert.False(t, summary.Results[i].Started.Before(summary.Results[i-1].Finished),
			"task %d started before task %d finished", i+1, i)
	}
}

func TestParallelOverlaps(t *testing.T) {
	files := randomFiles(3, 1024)
	server := newFileServer(t, files)
	for _, f := range files {
		server.delays[f.name] = 200 * time.Millisecond
	}

	summary := makeGetter(t).Parallel(context.Background(), server.urls(files[0].name, files[1].name, files[2].name))

	require.NoError(t, summary.Err())
	firstFinished := summary.Results[0].Finished
	for _, result := range summary.Results {
		if result.Finished.Before(firstFinished) {
			firstFinished = result.Finished
		}
	}
	for _, result := range summary.Results {
		assert.True(t, result.Started.Before(firstFinished), "task %d did not overlap", result.Task.Index)
	}
	assert.Less(t, summary.Elapsed, 550*time.Millisecond)
}

func TestMaxConcurrentFiles(t *testing.T) {
	files := randomFiles(4, 512)
	server := newFileServer(t, files)
	for _, f := range files {
		server.delays[f.name] = 100 * time.Millisecond
	}

	getter := makeGetter(t)
	getter.MaxConcurrentFiles = 1
	summary := getter.Parallel(context.Background(), server.urls(files[0].name, files[1].name, files[2].name, files[3].name))

	require.NoError(t, summary.Err())
	results := summary.Results
	for i := range results {
		for j := range results {
			if i == j {
				continue
			}
			overlap := results[i].Started.Before(results[j].Finished) && results[j].Started.Before(results[i].Finished)
			assert.False(t, overlap, "tasks %d and %d overlapped", i+1, j+1)
		}
	}
}

func TestFailedTaskDoesNotAffectOthers(t *testing.T) {
	files := randomFiles(2, 2048)
	server := newFileServer(t, files)
	urls := []string{server.URL + "/" + files[0].name, server.URL + "/missing.bin", server.URL + "/" + files[1].name}

	for _, mode := range []pgrab.Mode{pgrab.ModeSequential, pgrab.ModeParallel, pgrab.ModeAdvanced} {
		t.Run(mode.String(), func(t *testing.T) {
			getter := makeGetter(t)
			summary := getter.Run(context.Background(), mode, getter.Tasks(urls), 4)

			require.Len(t, summary.Failed(), 1)
			failed := summary.Failed()[0]
			assert.Equal(t, 2, failed.Task.Index)
			assert.Equal(t, download.KindRetryExhausted, failed.Outcome.FailureKind())
			assert.Equal(t, http.StatusNotFound, download.StatusCode(failed.Outcome.Err))
			assert.NoFileExists(t, failed.Task.Dest)

			assertDownloaded(t, summary.Results[0], files[0].content)
			assertDownloaded(t, summary.Results[2], files[1].content)
			assert.Len(t, summary.Succeeded(), 2)

			err := summary.Err()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "task 2")
			assertNoLeftovers(t, getter.OutputDir)
		})
	}
}

func TestSequentialExactAttemptCounts(t *testing.T) {
	const good = "http://files.example/good.txt"
	const bad = "http://files.example/bad.txt"

	primaryMock := httpmock.NewMockTransport()
	primaryMock.RegisterResponder(http.MethodGet, good, httpmock.NewStringResponder(http.StatusOK, "good").SetContentLength())
	primaryMock.RegisterResponder(http.MethodGet, bad, httpmock.NewErrorResponder(errors.New("connection refused")))
	secondaryMock := httpmock.NewMockTransport()
	secondaryMock.RegisterResponder(http.MethodGet, bad, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	getter := pgrab.NewGetter(testOptions(&http.Client{Transport: primaryMock}, &http.Client{Transport: secondaryMock}), t.TempDir())
	summary := getter.Sequential(context.Background(), []string{good, bad, good})

	assert.Len(t, summary.Succeeded(), 2)
	require.Len(t, summary.Failed(), 1)
	assert.Equal(t, 2, summary.Failed()[0].Task.Index)

	primaryCalls := primaryMock.GetCallCountInfo()
	assert.Equal(t, 2, primaryCalls["GET "+good])
	assert.Equal(t, 3, primaryCalls["GET "+bad])
	assert.Equal(t, 3, secondaryMock.GetCallCountInfo()["GET "+bad])
	assert.Equal(t, 3, secondaryMock.GetTotalCallCount())
}

func TestAdvancedRejectsInvalidConnections(t *testing.T) {
	files := randomFiles(1, 100)
	server := newFileServer(t, files)

	for _, connections := range []int{0, 17} {
		summary := makeGetter(t).Advanced(context.Background(), server.urls(files[0].name), connections)
		require.Len(t, summary.Failed(), 1)
		assert.Equal(t, download.KindConfig, summary.Failed()[0].Outcome.FailureKind())
	}
	assert.Empty(t, server.requests())
}

func TestAdvancedBoundaryMoreConnectionsThanBytes(t *testing.T) {
	files := []testFile{{name: "tiny.txt", content: []byte("hello")}}
	server := newFileServer(t, files)

	summary := makeGetter(t).Advanced(context.Background(), server.urls("tiny.txt"), 16)

	require.NoError(t, summary.Err())
	assertDownloaded(t, summary.Results[0], []byte("hello"))
	assert.Equal(t, download.PathChunked, summary.Results[0].Outcome.Path)
	assert.Len(t, server.requests(), 5)
}

func TestPostProcessDecompresses(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write([]byte("decompressed content"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	server := newFileServer(t, []testFile{
		{name: "data.txt.gz", content: compressed.Bytes()},
		{name: "broken.gz", content: []byte{0x1f, 0x8b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
	})

	getter := makeGetter(t)
	getter.PostProcess = extract.Decompressor{}
	summary := getter.Parallel(context.Background(), server.urls("data.txt.gz", "broken.gz"))

	ok := summary.Results[0]
	require.True(t, ok.Outcome.Succeeded, "%v", ok.Outcome.Err)
	assert.Equal(t, filepath.Join(getter.OutputDir, "1_data.txt"), ok.Output)
	content, err := os.ReadFile(ok.Output)
	require.NoError(t, err)
	assert.Equal(t, "decompressed content", string(content))

	broken := summary.Results[1]
	require.False(t, broken.Outcome.Succeeded)
	assert.Equal(t, download.KindFilesystem, broken.Outcome.FailureKind())
}

func TestCanceledBatch(t *testing.T) {
	files := randomFiles(2, 100)
	server := newFileServer(t, files)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	getter := makeGetter(t)
	summary := getter.Advanced(ctx, server.urls(files[0].name, files[1].name), 4)

	require.Len(t, summary.Failed(), 2)
	for _, result := range summary.Failed() {
		assert.Equal(t, download.KindCanceled, result.Outcome.FailureKind())
	}
	assertNoLeftovers(t, getter.OutputDir)
}

type idleTrackingClient struct {
	*http.Client
	closed int
}

func (c *idleTrackingClient) CloseIdleConnections() {
	c.closed++
	c.Client.CloseIdleConnections()
}

func TestGetterCloseIdleConnections(t *testing.T) {
	primary := &idleTrackingClient{Client: &http.Client{}}
	secondary := &idleTrackingClient{Client: &http.Client{}}
	getter := pgrab.NewGetter(testOptions(primary, secondary), t.TempDir())

	getter.CloseIdleConnections()
	assert.Equal(t, 1, primary.closed)
	assert.Equal(t, 1, secondary.closed)

	// clients without idle connections are skipped
	mock := httpmock.NewMockTransport()
	pgrab.NewGetter(testOptions(mockOnlyClient{mock}, nil), t.TempDir()).CloseIdleConnections()
}

type mockOnlyClient struct {
	transport http.RoundTripper
}

func (c mockOnlyClient) Do(req *http.Request) (*http.Response, error) {
	return c.transport.RoundTrip(req)
}

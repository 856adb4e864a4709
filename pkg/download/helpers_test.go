package download_test

import (
	"bytes"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/download"
)

func testOptions(primary, secondary client.HTTPClient) download.Options {
	return download.Options{
		Retry:     fastRetry(3),
		Timeout:   5 * time.Second,
		Primary:   primary,
		Secondary: secondary,
	}
}

func randomContent(t *testing.T, size int) []byte {
	t.Helper()
	content := make([]byte, size)
	_, err := rand.New(rand.NewSource(int64(size))).Read(content)
	require.NoError(t, err)
	return content
}

// contentHandler serves content with full Range support.
func contentHandler(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}
}

// countingHandler counts GET requests carrying a Range header.
func countingHandler(counter *atomic.Int32, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" {
			counter.Add(1)
		}
		next.ServeHTTP(w, r)
	}
}

func assertFileContent(t *testing.T, path string, expected []byte) {
	t.Helper()
	actual, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(expected, actual), "content of %s differs: expected %d bytes, got %d", path, len(expected), len(actual))
}

// assertNoLeftovers checks that no part or staging files remain in dir.
func assertNoLeftovers(t *testing.T, dir string) {
	t.Helper()
	for _, pattern := range []string{"*.part*", "*.tmp"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		require.NoError(t, err)
		assert.Empty(t, matches, "leftover files matching %s", pattern)
	}
}

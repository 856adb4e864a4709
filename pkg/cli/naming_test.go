package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgrab/pgrab/pkg/cli"
)

func TestFilenameFromURL(t *testing.T) {
	testCases := []struct {
		url      string
		index    int
		expected string
	}{
		{"https://example.com/files/archive.tar.gz", 1, "1_archive.tar.gz"},
		{"https://example.com/files/report.pdf?token=abc#page=2", 2, "2_report.pdf"},
		{"https://example.com/download", 3, "file_3.bin"},
		{"https://example.com/", 4, "file_4.bin"},
		{"https://example.com", 5, "file_5.bin"},
		{"https://example.com/dir.d/", 6, "file_6.bin"},
		{"://bad url", 7, "file_7.bin"},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.expected, cli.FilenameFromURL(tc.url, tc.index))
		})
	}
}

func TestEnsureDownloadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "downloads")
	require.NoError(t, cli.EnsureDownloadDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// already present
	assert.NoError(t, cli.EnsureDownloadDir(dir))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, cli.EnsureDownloadDir(file))
}

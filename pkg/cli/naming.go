package cli

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
)

// FilenameFromURL derives the local file name of the index-th (1-based) URL of a batch:
// "<index>_<basename>" when the URL path ends in a name with an extension, otherwise
// "file_<index>.bin".
func FilenameFromURL(rawURL string, index int) string {
	fallback := fmt.Sprintf("file_%d.bin", index)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	if strings.HasSuffix(parsed.Path, "/") {
		return fallback
	}
	name := path.Base(parsed.Path)
	if name == "." || !strings.Contains(name, ".") {
		return fallback
	}
	return fmt.Sprintf("%d_%s", index, name)
}

// EnsureDownloadDir creates dir, and any missing parents, if it does not exist yet.
func EnsureDownloadDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating download directory %s: %w", dir, err)
	}
	return nil
}

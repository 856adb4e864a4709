package multifile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pgrab/pgrab/pkg/download"
)

// A manifest lists the URLs of one batch, in download order. Two formats are accepted.
//
// Plain text, one URL per line with an optional file name:
//
//	https://example.com/foo/bar.txt
//	https://example.com/foo/baz.txt   baz.txt
//
// YAML, a list of link/op pairs where op is optional:
//
//	- link: https://example.com/foo/bar.txt
//	- link: https://example.com/foo/baz.txt
//	  op: baz.txt
//
// Blank lines and lines starting with '#' are ignored in both. A relative name is placed
// inside the output directory; without a name the file is named after the URL.

type manifestEntry struct {
	URL  string `yaml:"link"`
	Name string `yaml:"op"`
}

func manifestFile(manifestPath string) (io.ReadCloser, error) {
	if manifestPath == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	if _, err := os.Stat(manifestPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest file %s does not exist", manifestPath)
	}
	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("error opening manifest file %s: %w", manifestPath, err)
	}
	return file, nil
}

func parseManifest(r io.Reader) ([]manifestEntry, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	if isYAML(content) {
		return parseYAML(content)
	}
	return parseText(content)
}

// isYAML reports whether the first meaningful line opens a YAML sequence.
func isYAML(content []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "- ")
	}
	return false
}

func parseYAML(content []byte) ([]manifestEntry, error) {
	var entries []manifestEntry
	if err := yaml.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML manifest: %w", err)
	}
	for i := range entries {
		entries[i].URL = strings.TrimSpace(entries[i].URL)
		entries[i].Name = strings.TrimSpace(entries[i].Name)
		if entries[i].URL == "" {
			return nil, fmt.Errorf("error parsing YAML manifest: entry %d has no link", i+1)
		}
	}
	return entries, nil
}

func parseText(content []byte) ([]manifestEntry, error) {
	var entries []manifestEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return entries, nil
}

func parseLine(line string) (manifestEntry, error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		return manifestEntry{URL: fields[0]}, nil
	case 2:
		return manifestEntry{URL: fields[0], Name: fields[1]}, nil
	}
	return manifestEntry{}, fmt.Errorf("error parsing manifest invalid line format `%s`", line)
}

func checkSeenDestinations(destinations map[string]string, dest string, urlString string) error {
	if seenURL, ok := destinations[dest]; ok {
		if seenURL != urlString {
			return fmt.Errorf("duplicate destination %s with different urls: %s and %s", dest, seenURL, urlString)
		}
		return fmt.Errorf("duplicate entry: %s %s", urlString, dest)
	}
	return nil
}

// applyNames points every task whose entry carries a name at that name and rejects
// batches where two tasks would write the same file.
func applyNames(tasks []download.Task, entries []manifestEntry, outputDir string) error {
	seenDestinations := make(map[string]string)
	for i := range tasks {
		if name := entries[i].Name; name != "" {
			if filepath.IsAbs(name) {
				tasks[i].Dest = name
			} else {
				tasks[i].Dest = filepath.Join(outputDir, name)
			}
		}
		dest := filepath.Clean(tasks[i].Dest)
		if err := checkSeenDestinations(seenDestinations, dest, tasks[i].URL); err != nil {
			return err
		}
		seenDestinations[dest] = tasks[i].URL
	}
	return nil
}

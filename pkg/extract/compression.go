// Package extract decompresses downloaded files in place.
package extract

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"compress/lzw"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"

	"github.com/pgrab/pgrab/pkg/logging"
)

const (
	peekSize = 8

	// uncompressedSuffix is appended when a compressed file has no recognizable suffix.
	uncompressedSuffix = ".out"
)

var (
	gzipMagic = []byte{0x1F, 0x8B}
	bzipMagic = []byte{0x42, 0x5A}
	xzMagic   = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	lzwMagic  = []byte{0x1F, 0x9D}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

var _ decompressor = gzipDecompressor{}
var _ decompressor = bzip2Decompressor{}
var _ decompressor = xzDecompressor{}
var _ decompressor = lzwDecompressor{}
var _ decompressor = lz4Decompressor{}

// decompressor represents different compression formats.
type decompressor interface {
	decompress(r io.Reader) (io.Reader, error)
	name() string
	suffixes() []string
}

// detectFormat returns the appropriate decompressor according to the magic number.
func detectFormat(input []byte) decompressor {
	log := logging.GetLogger()
	inputSize := len(input)

	if inputSize < 2 {
		return nil
	}
	// pad to 8 bytes
	if inputSize < peekSize {
		input = append(input, make([]byte, peekSize-inputSize)...)
	}

	var d decompressor
	switch {
	case bytes.HasPrefix(input, gzipMagic):
		d = gzipDecompressor{}
	case bytes.HasPrefix(input, bzipMagic):
		d = bzip2Decompressor{}
	case bytes.HasPrefix(input, lzwMagic):
		d = lzwDecompressor{order: lzw.MSB}
	case bytes.HasPrefix(input, lz4Magic):
		d = lz4Decompressor{}
	case bytes.HasPrefix(input, xzMagic):
		d = xzDecompressor{}
	default:
		log.Debug().
			Str("type", "none").
			Msg("Compression Format")
		return nil
	}
	log.Debug().
		Str("type", d.name()).
		Msg("Compression Format")
	return d
}

type gzipDecompressor struct{}

func (d gzipDecompressor) decompress(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func (gzipDecompressor) name() string       { return "gzip" }
func (gzipDecompressor) suffixes() []string { return []string{".gz", ".gzip"} }

type bzip2Decompressor struct{}

func (d bzip2Decompressor) decompress(r io.Reader) (io.Reader, error) {
	return bzip2.NewReader(r), nil
}

func (bzip2Decompressor) name() string       { return "bzip2" }
func (bzip2Decompressor) suffixes() []string { return []string{".bz2", ".bzip2"} }

type xzDecompressor struct{}

func (d xzDecompressor) decompress(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r)
}

func (xzDecompressor) name() string       { return "xz" }
func (xzDecompressor) suffixes() []string { return []string{".xz"} }

type lzwDecompressor struct {
	order lzw.Order
}

// decompress skips the 3 byte header; the code stream after it is over byte literals.
func (d lzwDecompressor) decompress(r io.Reader) (io.Reader, error) {
	if _, err := io.CopyN(io.Discard, r, 3); err != nil {
		return nil, err
	}
	return lzw.NewReader(r, d.order, 8), nil
}

func (lzwDecompressor) name() string       { return "lzw" }
func (lzwDecompressor) suffixes() []string { return []string{".Z", ".lzw"} }

type lz4Decompressor struct{}

func (d lz4Decompressor) decompress(r io.Reader) (io.Reader, error) {
	return lz4.NewReader(r), nil
}

func (lz4Decompressor) name() string       { return "lz4" }
func (lz4Decompressor) suffixes() []string { return []string{".lz4"} }

// outputPath strips a known compression suffix, or appends uncompressedSuffix.
func outputPath(path string, d decompressor) string {
	ext := filepath.Ext(path)
	for _, suffix := range d.suffixes() {
		if strings.EqualFold(ext, suffix) && len(ext) < len(filepath.Base(path)) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path + uncompressedSuffix
}

// DecompressFile decompresses path if its content is gzip, bzip2, xz, lz4 or lzw
// compressed and returns the path of the decompressed file. The compressed file is
// removed on success. Files in no known format are left untouched and path is returned.
func DecompressFile(path string) (string, error) {
	logger := logging.GetLogger()
	startTime := time.Now()

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	reader := bufio.NewReader(in)
	header, err := reader.Peek(peekSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading header of %s: %w", path, err)
	}
	d := detectFormat(header)
	if d == nil {
		return path, nil
	}

	dest := outputPath(path, d)
	written, err := decompressTo(reader, d, dest)
	if err != nil {
		os.Remove(dest + ".tmp")
		return "", fmt.Errorf("error decompressing %s as %s: %w", path, d.name(), err)
	}
	in.Close()
	if err := os.Remove(path); err != nil {
		return "", err
	}

	logger.Info().
		Str("src", path).
		Str("dest", dest).
		Str("type", d.name()).
		Str("size", humanize.Bytes(uint64(written))).
		Str("elapsed", fmt.Sprintf("%.3fs", time.Since(startTime).Seconds())).
		Msg("Decompress")
	return dest, nil
}

func decompressTo(r io.Reader, d decompressor, dest string) (int64, error) {
	decompressed, err := d.decompress(r)
	if err != nil {
		return 0, err
	}
	if closer, ok := decompressed.(io.Closer); ok {
		defer closer.Close()
	}

	staging := dest + ".tmp"
	out, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, decompressed)
	if err != nil {
		out.Close()
		return written, err
	}
	if err := out.Close(); err != nil {
		return written, err
	}
	return written, os.Rename(staging, dest)
}

// Decompressor decompresses each downloaded file it is handed.
type Decompressor struct{}

func (Decompressor) Process(path string) (string, error) {
	return DecompressFile(path)
}

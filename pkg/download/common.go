package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// streamBufferSize is the increment in which the primary single-stream method reads a body.
const streamBufferSize = 1024

var (
	contentRangeRegexp = regexp.MustCompile(`^bytes ([0-9]+)-([0-9]+)/([0-9]+|\*)$`)

	errMalformedContentRange = errors.New("malformed content range")
	errUnexpectedRangeStart  = errors.New("content range does not start at requested offset")
	errRangeIgnored          = errors.New("server ignored range request")
	errShortBody             = errors.New("response body ended early")
	errOversizedBody         = errors.New("response body longer than requested range")
	errStalled               = errors.New("no progress within timeout")
)

func rangeHeader(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// checkContentRange verifies that a 206 response starts at the offset we asked for.
// A missing header is tolerated, the byte count check catches truncated bodies.
func checkContentRange(header string, start int64) error {
	if header == "" {
		return nil
	}
	matches := contentRangeRegexp.FindStringSubmatch(header)
	if matches == nil {
		return fmt.Errorf("%w: %s", errMalformedContentRange, header)
	}
	actual, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", errMalformedContentRange, header)
	}
	if actual != start {
		return fmt.Errorf("%w: wanted %d, got %s", errUnexpectedRangeStart, start, header)
	}
	return nil
}

// stagingPath is where a destination is written before it is atomically renamed into place.
func stagingPath(dest string) string {
	return dest + ".tmp"
}

func commitFile(staging, dest string) error {
	if err := os.Rename(staging, dest); err != nil {
		return fsError("rename", dest, err)
	}
	return nil
}

// removeFile deletes path, ignoring files that do not exist. Failures are only logged.
func removeFile(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("Cleanup failed")
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// stallTimer cancels an attempt once it has gone timeout without progress: no response
// yet, or no body bytes since the last read. A body that keeps arriving is never cut off.
type stallTimer struct {
	timeout time.Duration
	timer   *time.Timer
}

func withStallTimeout(ctx context.Context, timeout time.Duration) (context.Context, *stallTimer, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stall := &stallTimer{timeout: timeout}
	if timeout > 0 {
		stall.timer = time.AfterFunc(timeout, func() { cancel(errStalled) })
	}
	return ctx, stall, func() {
		if stall.timer != nil {
			stall.timer.Stop()
		}
		cancel(context.Canceled)
	}
}

func (s *stallTimer) progress() {
	if s.timer != nil {
		s.timer.Reset(s.timeout)
	}
}

// reader wraps r so every read that returns data counts as progress.
func (s *stallTimer) reader(r io.Reader) io.Reader {
	return &progressReader{r: r, stall: s}
}

type progressReader struct {
	r     io.Reader
	stall *stallTimer
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.stall.progress()
	}
	return n, err
}

// stallCause tags err with errStalled when ctx was canceled by a stallTimer.
func stallCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errStalled) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

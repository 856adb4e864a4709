package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pgrab/pgrab/pkg/client"
)

// RangeFetcher downloads one chunk of a resource into the chunk's part file.
type RangeFetcher struct {
	client  client.HTTPClient
	retry   RetryPolicy
	timeout time.Duration
}

func NewRangeFetcher(opts Options) *RangeFetcher {
	return &RangeFetcher{
		client:  opts.Primary,
		retry:   opts.Retry,
		timeout: opts.Timeout,
	}
}

// FetchRange writes bytes chunk.Start..chunk.End of url to chunk.PartPath. size is the
// total resource size, used to accept a 200 response for a chunk spanning the whole
// resource. An attempt that ends early is resumed from the bytes already on disk by the
// next attempt.
func (f *RangeFetcher) FetchRange(ctx context.Context, url string, chunk ChunkSpec, size int64) FetchOutcome {
	target := fmt.Sprintf("%s [%s]", url, rangeHeader(chunk.Start, chunk.End))
	ctx = client.WithRouteKey(ctx, client.RouteKey{URL: url, Chunk: chunk.Index})

	var received int64
	err := f.retry.Do(ctx, target, func(ctx context.Context) error {
		n, err := f.fetch(ctx, url, chunk, size, received)
		received += n
		return err
	})
	if err != nil {
		return FetchOutcome{BytesWritten: received, Path: PathRange, Err: err}
	}
	return FetchOutcome{Succeeded: true, BytesWritten: received, Path: PathRange}
}

// fetch is a single attempt, requesting the range starting offset bytes into the chunk.
func (f *RangeFetcher) fetch(ctx context.Context, url string, chunk ChunkSpec, size, offset int64) (int64, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(chunk.PartPath, flags, 0644)
	if err != nil {
		return 0, fsError("open", chunk.PartPath, err)
	}
	defer out.Close()

	ctx, stall, cancel := withStallTimeout(ctx, f.timeout)
	defer cancel()

	start := chunk.Start + offset
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, configError("range", url, err)
	}
	req.Header.Set("Range", rangeHeader(start, chunk.End))

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, networkError("range", url, stallCause(ctx, err))
	}
	defer resp.Body.Close()
	stall.progress()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if err := checkContentRange(resp.Header.Get("Content-Range"), start); err != nil {
			return 0, &Error{Kind: KindRangeNotSupported, Op: "range", Target: url, Err: err}
		}
	case resp.StatusCode == http.StatusOK && start == 0 && chunk.End == size-1:
		// a full body is exactly the range we asked for
	case resp.StatusCode == http.StatusOK:
		return 0, &Error{Kind: KindRangeNotSupported, Op: "range", Target: url, Err: errRangeIgnored}
	default:
		return 0, statusError("range", url, resp.StatusCode)
	}

	remaining := chunk.End - start + 1
	// read one byte past the range so an oversized body is detected
	n, err := io.Copy(out, io.LimitReader(stall.reader(resp.Body), remaining+1))
	if err != nil {
		return n, copyError("range", url, chunk.PartPath, stallCause(ctx, err))
	}
	if n > remaining {
		return n, &Error{Kind: KindRangeNotSupported, Op: "range", Target: url, Err: errOversizedBody}
	}
	if n < remaining {
		return n, networkError("range", url, fmt.Errorf("%w: got %d of %d bytes", errShortBody, n, remaining))
	}
	if err := out.Close(); err != nil {
		return n, fsError("close", chunk.PartPath, err)
	}
	return n, nil
}

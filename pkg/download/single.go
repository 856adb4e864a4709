package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/logging"
)

// SingleStreamFetcher downloads a whole resource over one connection. The primary client
// streams the body to disk; if every primary attempt fails, the secondary client is
// tried with a plain whole-body GET.
type SingleStreamFetcher struct {
	primary   client.HTTPClient
	secondary client.HTTPClient
	retry     RetryPolicy
	timeout   time.Duration
}

func NewSingleStreamFetcher(opts Options) *SingleStreamFetcher {
	return &SingleStreamFetcher{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		retry:     opts.Retry,
		timeout:   opts.Timeout,
	}
}

// FetchWhole saves url to dest. dest is only replaced once a path has fully succeeded.
func (f *SingleStreamFetcher) FetchWhole(ctx context.Context, url, dest string) FetchOutcome {
	logger := logging.GetLogger().With().Str("url", url).Str("dest", dest).Logger()
	staging := stagingPath(dest)

	var written int64
	primaryErr := f.retry.Do(ctx, url, func(ctx context.Context) error {
		n, err := f.stream(ctx, url, staging)
		written = n
		return err
	})
	if primaryErr == nil {
		return f.commit(staging, dest, written, PathStream)
	}
	removeFile(logger, staging)
	if f.secondary == nil || KindOf(primaryErr) == KindCanceled {
		return failed(primaryErr)
	}

	logger.Warn().Err(primaryErr).Msg("Streaming download failed, trying secondary transport")
	secondaryErr := f.retry.Do(ctx, url, func(ctx context.Context) error {
		n, err := f.whole(ctx, url, staging)
		written = n
		return err
	})
	if secondaryErr == nil {
		return f.commit(staging, dest, written, PathSecondary)
	}
	removeFile(logger, staging)
	logger.Error().Err(secondaryErr).Msg("Secondary transport failed")
	return failed(errors.Join(
		fmt.Errorf("primary: %w", primaryErr),
		fmt.Errorf("secondary: %w", secondaryErr),
	))
}

func (f *SingleStreamFetcher) commit(staging, dest string, written int64, path Path) FetchOutcome {
	if err := commitFile(staging, dest); err != nil {
		removeFile(logging.GetLogger(), staging)
		return failed(err)
	}
	return FetchOutcome{Succeeded: true, BytesWritten: written, Path: path}
}

// stream is one attempt of the primary method: the staging file is truncated, then the
// body is appended in streamBufferSize increments. The attempt only times out once the
// server stops sending.
func (f *SingleStreamFetcher) stream(ctx context.Context, url, staging string) (int64, error) {
	out, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fsError("open", staging, err)
	}
	defer out.Close()

	ctx, stall, cancel := withStallTimeout(ctx, f.timeout)
	defer cancel()
	resp, err := get(ctx, f.primary, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	stall.progress()
	body := stall.reader(resp.Body)

	buf := make([]byte, streamBufferSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fsError("write", staging, err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, networkError("read", url, stallCause(ctx, readErr))
		}
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return written, networkError("read", url, fmt.Errorf("%w: got %d of %d bytes", errShortBody, written, resp.ContentLength))
	}
	if err := out.Close(); err != nil {
		return written, fsError("close", staging, err)
	}
	return written, nil
}

// whole is one attempt of the secondary method: the body is read completely and written
// with a single call.
func (f *SingleStreamFetcher) whole(ctx context.Context, url, staging string) (int64, error) {
	ctx, stall, cancel := withStallTimeout(ctx, f.timeout)
	defer cancel()
	resp, err := get(ctx, f.secondary, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	stall.progress()

	body, err := io.ReadAll(stall.reader(resp.Body))
	if err != nil {
		return 0, networkError("read", url, stallCause(ctx, err))
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return 0, networkError("read", url, fmt.Errorf("%w: got %d of %d bytes", errShortBody, len(body), resp.ContentLength))
	}
	if err := os.WriteFile(staging, body, 0644); err != nil {
		return 0, fsError("write", staging, err)
	}
	return int64(len(body)), nil
}

// get issues a GET and turns transport failures and non-2xx responses into structured
// errors. The caller owns the body of a successful response.
func get(ctx context.Context, httpClient client.HTTPClient, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, configError("get", url, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, networkError("get", url, stallCause(ctx, err))
	}
	if !isSuccess(resp.StatusCode) {
		resp.Body.Close()
		return nil, statusError("get", url, resp.StatusCode)
	}
	return resp, nil
}

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/logging"
)

type state string

const (
	stateProbing      state = "PROBING"
	statePlanned      state = "PLANNED"
	stateFetching     state = "FETCHING_CHUNKS"
	stateReassembling state = "REASSEMBLING"
	stateFallback     state = "FALLBACK_SINGLE_STREAM"
	stateDone         state = "DONE"
	stateFailed       state = "FAILED"
)

const acceptRangesHeader = "Accept-Ranges"

// ResourceInfo is what the metadata probe learned about a resource.
type ResourceInfo struct {
	// URL is the location after redirects; chunk requests go straight there.
	URL       string
	TotalSize int64
}

// ChunkedCoordinator downloads a resource as concurrent byte ranges and reassembles
// them, delegating to a SingleStreamFetcher whenever the chunked path cannot complete.
type ChunkedCoordinator struct {
	client   client.HTTPClient
	retry    RetryPolicy
	timeout  time.Duration
	ranges   *RangeFetcher
	fallback *SingleStreamFetcher
}

func NewChunkedCoordinator(opts Options) *ChunkedCoordinator {
	return &ChunkedCoordinator{
		client:   opts.Primary,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		ranges:   NewRangeFetcher(opts),
		fallback: NewSingleStreamFetcher(opts),
	}
}

// Download fetches task.URL into task.Dest using up to connections concurrent range
// requests. Part files never outlive the call.
func (c *ChunkedCoordinator) Download(ctx context.Context, task Task, connections int) FetchOutcome {
	logger := logging.GetLogger().With().
		Str("task_id", task.ID).
		Str("url", task.URL).
		Str("dest", task.Dest).
		Logger()

	logger.Debug().Str("state", string(stateProbing)).Msg("Chunked download")
	info, err := c.Probe(ctx, task.URL)
	if err != nil {
		return c.fallBack(ctx, logger, task, err)
	}

	chunks, err := PlanChunks(info.TotalSize, connections, task.Dest)
	if err != nil {
		return c.fallBack(ctx, logger, task, err)
	}
	defer c.removeParts(logger, chunks)
	logger.Debug().
		Str("state", string(statePlanned)).
		Str("size", humanize.Bytes(uint64(info.TotalSize))).
		Int("connections", len(chunks)).
		Int64("chunk_size", chunks[0].Len()).
		Msg("Chunked download")

	logger.Debug().Str("state", string(stateFetching)).Msg("Chunked download")
	startTime := time.Now()
	if err := chunkFailures(c.fetchChunks(ctx, info, chunks)); err != nil {
		c.removeParts(logger, chunks)
		return c.fallBack(ctx, logger, task, err)
	}

	logger.Debug().Str("state", string(stateReassembling)).Msg("Chunked download")
	written, err := reassemble(task.Dest, chunks, info.TotalSize)
	if err != nil {
		c.removeParts(logger, chunks)
		return c.fallBack(ctx, logger, task, err)
	}

	elapsed := time.Since(startTime)
	logger.Debug().
		Str("state", string(stateDone)).
		Str("size", humanize.Bytes(uint64(written))).
		Str("elapsed", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Str("throughput", fmt.Sprintf("%s/s", humanize.Bytes(uint64(float64(written)/elapsed.Seconds())))).
		Msg("Chunked download")
	return FetchOutcome{Succeeded: true, BytesWritten: written, Path: PathChunked}
}

// Probe issues a HEAD request to learn the resource size. A server that advertises
// "Accept-Ranges: none" fails the probe with RangeNotSupported; an absent header is left
// to the per-chunk checks.
func (c *ChunkedCoordinator) Probe(ctx context.Context, url string) (ResourceInfo, error) {
	var info ResourceInfo
	err := c.retry.Do(ctx, url, func(ctx context.Context) error {
		var err error
		info, err = c.head(ctx, url)
		return err
	})
	return info, err
}

func (c *ChunkedCoordinator) head(ctx context.Context, url string) (ResourceInfo, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ResourceInfo{}, configError("probe", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ResourceInfo{}, networkError("probe", url, err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return ResourceInfo{}, statusError("probe", url, resp.StatusCode)
	}

	info := ResourceInfo{URL: url, TotalSize: resp.ContentLength}
	if resp.Request != nil && resp.Request.URL != nil {
		if trueURL := resp.Request.URL.String(); trueURL != url {
			logger := logging.GetLogger()
			logger.Info().Str("url", url).Str("redirect_url", trueURL).Msg("Redirect")
			info.URL = trueURL
		}
	}
	if info.TotalSize <= 0 {
		return ResourceInfo{}, &Error{
			Kind:   KindMissingSizeMetadata,
			Op:     "probe",
			Target: url,
			Err:    fmt.Errorf("unable to determine file size from Content-Length %q", resp.Header.Get("Content-Length")),
		}
	}
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get(acceptRangesHeader)), "none") {
		return ResourceInfo{}, &Error{Kind: KindRangeNotSupported, Op: "probe", Target: url, Err: errors.New("server advertises Accept-Ranges: none")}
	}
	return info, nil
}

// fetchChunks runs one RangeFetcher per chunk and waits for every one of them. Each
// goroutine owns its slot in the result, so failures never cancel siblings.
func (c *ChunkedCoordinator) fetchChunks(ctx context.Context, info ResourceInfo, chunks []ChunkSpec) []FetchOutcome {
	outcomes := make([]FetchOutcome, len(chunks))
	var eg errgroup.Group
	for i, chunk := range chunks {
		eg.Go(func() error {
			outcomes[i] = c.ranges.FetchRange(ctx, info.URL, chunk, info.TotalSize)
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

// chunkFailures joins the errors of every failed chunk, tagged with the chunk index.
func chunkFailures(outcomes []FetchOutcome) error {
	var errs []error
	for i, outcome := range outcomes {
		if !outcome.Succeeded {
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, outcome.Err))
		}
	}
	return errors.Join(errs...)
}

// reassemble concatenates the part files in ascending chunk index into a staging file
// and renames it onto dest.
func reassemble(dest string, chunks []ChunkSpec, size int64) (int64, error) {
	staging := stagingPath(dest)
	out, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fsError("open", staging, err)
	}

	var written int64
	for i, chunk := range chunks {
		if chunk.Index != i {
			out.Close()
			os.Remove(staging)
			return written, fsError("reassemble", dest, fmt.Errorf("chunk %d out of order at position %d", chunk.Index, i))
		}
		n, err := appendPart(out, chunk.PartPath)
		written += n
		if err != nil {
			out.Close()
			os.Remove(staging)
			return written, err
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(staging)
		return written, fsError("close", staging, err)
	}
	if written != size {
		os.Remove(staging)
		return written, fsError("reassemble", dest, fmt.Errorf("size mismatch: expected %d, got %d", size, written))
	}
	if err := commitFile(staging, dest); err != nil {
		os.Remove(staging)
		return written, err
	}
	return written, nil
}

func appendPart(out *os.File, path string) (int64, error) {
	part, err := os.Open(path)
	if err != nil {
		return 0, fsError("open", path, err)
	}
	defer part.Close()
	n, err := io.Copy(out, part)
	if err != nil {
		return n, fsError("copy", path, err)
	}
	return n, nil
}

func (c *ChunkedCoordinator) removeParts(logger zerolog.Logger, chunks []ChunkSpec) {
	for _, chunk := range chunks {
		removeFile(logger, chunk.PartPath)
	}
}

// fallBack hands the whole resource to the single-stream fetcher after the chunked path
// failed with cause.
func (c *ChunkedCoordinator) fallBack(ctx context.Context, logger zerolog.Logger, task Task, cause error) FetchOutcome {
	if KindOf(cause) == KindCanceled || ctx.Err() != nil {
		logger.Debug().Str("state", string(stateFailed)).Err(cause).Msg("Chunked download")
		return FetchOutcome{Err: cause, ChunkedErr: cause}
	}
	logger.Warn().
		Err(cause).
		Str("state", string(stateFallback)).
		Str("kind", KindOf(cause).String()).
		Msg("Chunked download failed, falling back to single stream")

	outcome := c.fallback.FetchWhole(ctx, task.URL, task.Dest)
	outcome.FellBack = true
	outcome.ChunkedErr = cause
	if outcome.Succeeded {
		logger.Debug().Str("state", string(stateDone)).Str("path", string(outcome.Path)).Msg("Chunked download")
	} else {
		logger.Debug().Str("state", string(stateFailed)).Err(outcome.Err).Msg("Chunked download")
	}
	return outcome
}

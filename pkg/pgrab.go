package pgrab

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pgrab/pgrab/pkg/cli"
	"github.com/pgrab/pgrab/pkg/client"
	"github.com/pgrab/pgrab/pkg/config"
	"github.com/pgrab/pgrab/pkg/download"
	"github.com/pgrab/pgrab/pkg/logging"
)

type Mode int

const (
	ModeSequential Mode = iota + 1
	ModeParallel
	ModeAdvanced
)

var modeNames = map[Mode]string{
	ModeSequential: "sequential",
	ModeParallel:   "parallel",
	ModeAdvanced:   "advanced",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts a mode name or its menu number.
func ParseMode(s string) (Mode, error) {
	choice := strings.ToLower(strings.TrimSpace(s))
	for mode, name := range modeNames {
		if choice == name || choice == fmt.Sprint(int(mode)) {
			return mode, nil
		}
	}
	return 0, &download.Error{Kind: download.KindConfig, Op: "mode", Target: s, Err: errors.New("expected sequential (1), parallel (2) or advanced (3)")}
}

// WholeFetcher downloads a resource over a single stream.
type WholeFetcher interface {
	FetchWhole(ctx context.Context, url, dest string) download.FetchOutcome
}

// ChunkedDownloader downloads a resource as concurrent byte ranges.
type ChunkedDownloader interface {
	Download(ctx context.Context, task download.Task, connections int) download.FetchOutcome
}

// PostProcessor transforms a downloaded file and returns the path of the result.
type PostProcessor interface {
	Process(path string) (string, error)
}

var _ WholeFetcher = &download.SingleStreamFetcher{}
var _ ChunkedDownloader = &download.ChunkedCoordinator{}

// Getter runs batches of downloads. Tasks never affect each other: a failed task is
// recorded in the Summary and the rest carry on.
type Getter struct {
	Single  WholeFetcher
	Chunked ChunkedDownloader

	// OutputDir is where Tasks places downloaded files.
	OutputDir string
	// MaxConcurrentFiles caps parallel and advanced batches. If zero, every task of a batch
	// runs at once.
	MaxConcurrentFiles int
	// PostProcess, if set, is applied to every successfully downloaded file.
	PostProcess PostProcessor

	clients []idleCloser
}

type idleCloser interface {
	CloseIdleConnections()
}

func NewGetter(opts download.Options, outputDir string) *Getter {
	g := &Getter{
		Single:    download.NewSingleStreamFetcher(opts),
		Chunked:   download.NewChunkedCoordinator(opts),
		OutputDir: outputDir,
	}
	for _, c := range []client.HTTPClient{opts.Primary, opts.Secondary} {
		if closer, ok := c.(idleCloser); ok {
			g.clients = append(g.clients, closer)
		}
	}
	return g
}

// CloseIdleConnections releases the keep-alive connections of the Getter's clients once
// no more batches will run.
func (g *Getter) CloseIdleConnections() {
	for _, c := range g.clients {
		c.CloseIdleConnections()
	}
}

// Tasks turns an ordered URL list into tasks with 1-based indexes and destinations in
// OutputDir.
func (g *Getter) Tasks(urls []string) []download.Task {
	tasks := make([]download.Task, len(urls))
	for i, url := range urls {
		index := i + 1
		tasks[i] = download.Task{
			ID:    uuid.NewString(),
			Index: index,
			URL:   url,
			Dest:  filepath.Join(g.OutputDir, cli.FilenameFromURL(url, index)),
		}
	}
	return tasks
}

// Sequential downloads urls one at a time, in input order, over a single stream each.
func (g *Getter) Sequential(ctx context.Context, urls []string) Summary {
	return g.Run(ctx, ModeSequential, g.Tasks(urls), 0)
}

// Parallel downloads urls concurrently, over a single stream each.
func (g *Getter) Parallel(ctx context.Context, urls []string) Summary {
	return g.Run(ctx, ModeParallel, g.Tasks(urls), 0)
}

// Advanced downloads urls concurrently, each split into up to connections ranges.
func (g *Getter) Advanced(ctx context.Context, urls []string, connections int) Summary {
	return g.Run(ctx, ModeAdvanced, g.Tasks(urls), connections)
}

// Run executes tasks in the given mode. connections is only used by ModeAdvanced. An
// invalid mode or connection count fails every task with a ConfigError without any
// network activity.
func (g *Getter) Run(ctx context.Context, mode Mode, tasks []download.Task, connections int) Summary {
	logger := logging.GetLogger()
	startTime := time.Now()
	summary := Summary{Mode: mode, Results: make([]TaskResult, len(tasks))}

	if err := validate(mode, connections); err != nil {
		for i, task := range tasks {
			summary.Results[i] = TaskResult{Task: task, Outcome: download.FetchOutcome{Err: err}, Started: startTime, Finished: startTime}
		}
		summary.Elapsed = time.Since(startTime)
		return summary
	}

	logger.Info().
		Str("mode", mode.String()).
		Int("files", len(tasks)).
		Int("connections", connections).
		Msg("Initiating")

	switch mode {
	case ModeSequential:
		for i, task := range tasks {
			summary.Results[i] = g.runTask(ctx, mode, task, connections)
		}
	default:
		var eg errgroup.Group
		if g.MaxConcurrentFiles > 0 {
			eg.SetLimit(g.MaxConcurrentFiles)
		}
		for i, task := range tasks {
			eg.Go(func() error {
				summary.Results[i] = g.runTask(ctx, mode, task, connections)
				return nil
			})
		}
		_ = eg.Wait()
	}

	summary.Elapsed = time.Since(startTime)
	return summary
}

func validate(mode Mode, connections int) error {
	if _, ok := modeNames[mode]; !ok {
		return &download.Error{Kind: download.KindConfig, Op: "mode", Target: mode.String(), Err: errors.New("unknown download mode")}
	}
	if mode == ModeAdvanced {
		return config.ValidateConnections(connections)
	}
	return nil
}

func (g *Getter) runTask(ctx context.Context, mode Mode, task download.Task, connections int) TaskResult {
	logger := logging.GetLogger().With().
		Str("task_id", task.ID).
		Int("index", task.Index).
		Str("url", task.URL).
		Logger()
	logger.Debug().Str("dest", task.Dest).Str("mode", mode.String()).Msg("Starting")

	result := TaskResult{Task: task, Started: time.Now(), Output: task.Dest}
	if mode == ModeAdvanced {
		result.Outcome = g.Chunked.Download(ctx, task, connections)
	} else {
		result.Outcome = g.Single.FetchWhole(ctx, task.URL, task.Dest)
	}

	if result.Outcome.Succeeded && g.PostProcess != nil {
		output, err := g.PostProcess.Process(task.Dest)
		if err != nil {
			result.Outcome.Succeeded = false
			result.Outcome.Err = &download.Error{Kind: download.KindFilesystem, Op: "decompress", Target: task.Dest, Err: err}
		} else {
			result.Output = output
		}
	}
	result.Finished = time.Now()
	logResult(logger, result)
	return result
}

func logResult(logger zerolog.Logger, result TaskResult) {
	outcome := result.Outcome
	elapsed := result.Elapsed()
	if !outcome.Succeeded {
		logger.Error().
			Err(outcome.Err).
			Str("kind", outcome.FailureKind().String()).
			Str("elapsed", fmt.Sprintf("%.3fs", elapsed.Seconds())).
			Msg("Failed")
		return
	}
	throughput := humanize.Bytes(uint64(float64(outcome.BytesWritten) / elapsed.Seconds()))
	logger.Info().
		Str("dest", result.Output).
		Str("size", humanize.Bytes(uint64(outcome.BytesWritten))).
		Str("strategy", string(outcome.Path)).
		Bool("fell_back", outcome.FellBack).
		Str("throughput", fmt.Sprintf("%s/s", throughput)).
		Str("elapsed", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Msg("Complete")
}

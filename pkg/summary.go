package pgrab

import (
	"errors"
	"fmt"
	"time"

	"github.com/pgrab/pgrab/pkg/download"
)

// TaskResult is the terminal state of one task.
type TaskResult struct {
	Task     download.Task
	Outcome  download.FetchOutcome
	Started  time.Time
	Finished time.Time
	// Output is the final path of the file, which differs from Task.Dest after
	// decompression.
	Output string
}

func (r TaskResult) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Summary holds one TaskResult per task, at the task's input position.
type Summary struct {
	Mode    Mode
	Results []TaskResult
	Elapsed time.Duration
}

func (s Summary) Succeeded() []TaskResult {
	return s.filter(true)
}

func (s Summary) Failed() []TaskResult {
	return s.filter(false)
}

func (s Summary) filter(succeeded bool) []TaskResult {
	var results []TaskResult
	for _, result := range s.Results {
		if result.Outcome.Succeeded == succeeded {
			results = append(results, result)
		}
	}
	return results
}

// BytesWritten is the total size of every successful download.
func (s Summary) BytesWritten() int64 {
	var total int64
	for _, result := range s.Succeeded() {
		total += result.Outcome.BytesWritten
	}
	return total
}

// Err joins the errors of every failed task, or returns nil when all succeeded.
func (s Summary) Err() error {
	var errs []error
	for _, result := range s.Failed() {
		errs = append(errs, fmt.Errorf("task %d (%s): %w", result.Task.Index, result.Task.URL, result.Outcome.Err))
	}
	return errors.Join(errs...)
}

package report_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgrab "github.com/pgrab/pgrab/pkg"
	"github.com/pgrab/pgrab/pkg/download"
	"github.com/pgrab/pgrab/pkg/report"
)

func TestRender(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	summary := pgrab.Summary{
		Mode:    pgrab.ModeAdvanced,
		Elapsed: 2 * time.Second,
		Results: []pgrab.TaskResult{
			{
				Task:     download.Task{Index: 1, Dest: "downloads/1_a.bin"},
				Outcome:  download.FetchOutcome{Succeeded: true, BytesWritten: 2_000_000, Path: download.PathChunked},
				Started:  start,
				Finished: start.Add(1500 * time.Millisecond),
				Output:   "downloads/1_a.bin",
			},
			{
				Task:     download.Task{Index: 2, Dest: "downloads/file_2.bin"},
				Outcome:  download.FetchOutcome{Succeeded: true, BytesWritten: 10, Path: download.PathStream, FellBack: true},
				Started:  start,
				Finished: start.Add(time.Second),
			},
			{
				Task:     download.Task{Index: 3, Dest: "downloads/3_c.bin"},
				Outcome:  download.FetchOutcome{Err: &download.Error{Kind: download.KindRetryExhausted, Err: errors.New("boom")}},
				Started:  start,
				Finished: start.Add(time.Second),
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.Render(&buf, summary))
	out := buf.String()

	for _, expected := range []string{"Status", "Strategy", "2.0 MB", "chunked", "stream (fallback)", "1.500s", "RetryExhausted", "FAILED", "downloads/file_2.bin"} {
		assert.Contains(t, out, expected)
	}
	assert.Less(t, strings.Index(out, "1_a.bin"), strings.Index(out, "3_c.bin"))
}

package download

import (
	"time"

	"github.com/pgrab/pgrab/pkg/client"
)

const DefaultTimeout = 20 * time.Second

type Options struct {
	// Retry bounds every network operation. A zero value makes a single attempt.
	Retry RetryPolicy

	// Timeout is how long an attempt may go without progress: waiting for the response,
	// or between two reads of the body. The metadata probe uses it as a deadline. If set
	// to zero, attempts are only bounded by the caller's context.
	Timeout time.Duration

	// Primary serves probes, range requests and the streaming single-stream method.
	Primary client.HTTPClient

	// Secondary is the structurally different client used once the primary
	// single-stream method is exhausted. If nil, the fallback is skipped.
	Secondary client.HTTPClient
}

// Task is one resource to download and the file it is saved to.
type Task struct {
	ID    string
	Index int
	URL   string
	Dest  string
}

package download

// Path names the strategy that produced a FetchOutcome.
type Path string

const (
	PathStream    Path = "stream"
	PathSecondary Path = "secondary"
	PathRange     Path = "range"
	PathChunked   Path = "chunked"
)

// FetchOutcome is the explicit result of a fetch. A failed fetch always carries Err.
type FetchOutcome struct {
	Succeeded    bool
	BytesWritten int64
	Path         Path
	Err          error

	// FellBack is set by the chunked coordinator when it delegated the resource to the
	// single-stream fetcher. ChunkedErr records why.
	FellBack   bool
	ChunkedErr error
}

// FailureKind is the kind of the failure, or KindUnknown for a successful outcome.
func (o FetchOutcome) FailureKind() Kind {
	if o.Succeeded || o.Err == nil {
		return KindUnknown
	}
	return KindOf(o.Err)
}

func failed(err error) FetchOutcome {
	return FetchOutcome{Err: err}
}

package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
)

// Kind classifies a download failure so callers can branch on the category instead of
// the message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindHTTPStatus
	KindMissingSizeMetadata
	KindRangeNotSupported
	KindFilesystem
	KindRetryExhausted
	KindConfig
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	KindNetwork:             "NetworkError",
	KindHTTPStatus:          "HTTPStatusError",
	KindMissingSizeMetadata: "MissingSizeMetadata",
	KindRangeNotSupported:   "RangeNotSupported",
	KindFilesystem:          "FilesystemError",
	KindRetryExhausted:      "RetryExhausted",
	KindConfig:              "ConfigError",
	KindCanceled:            "Canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether a RetryPolicy may attempt the operation again.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindHTTPStatus
}

// Error is the structured failure returned by every fetch operation.
type Error struct {
	Kind       Kind
	Op         string
	Target     string
	StatusCode int
	Attempts   int
	Err        error
}

var _ error = &Error{}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Kind, e.Op, e.Target)
	switch {
	case e.Kind == KindHTTPStatus:
		msg = fmt.Sprintf("%s: status code %d", msg, e.StatusCode)
	case e.Kind == KindRetryExhausted:
		msg = fmt.Sprintf("%s: giving up after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// IsKind reports whether any *Error in err's tree, joined errors included, has the given kind.
func IsKind(err error, kind Kind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *Error:
		if e.Kind == kind {
			return true
		}
		return IsKind(e.Err, kind)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsKind(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsKind(e.Unwrap(), kind)
	}
	return false
}

// StatusCode returns the HTTP status carried by the first HTTPStatusError in err, or 0.
func StatusCode(err error) int {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == KindHTTPStatus {
			return e.StatusCode
		}
		err = e.Err
	}
	return 0
}

func networkError(op, target string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Target: target, Err: err}
}

func statusError(op, target string, statusCode int) error {
	return &Error{
		Kind:       KindHTTPStatus,
		Op:         op,
		Target:     target,
		StatusCode: statusCode,
		Err:        errors.New(http.StatusText(statusCode)),
	}
}

func fsError(op, path string, err error) error {
	return &Error{Kind: KindFilesystem, Op: op, Target: path, Err: err}
}

func configError(op, target string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Target: target, Err: err}
}

// copyError splits a failed io.Copy into a filesystem error (the write side) or a
// network error (the read side).
func copyError(op, url, path string, err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fsError(op, path, err)
	}
	return networkError(op, url, err)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

package hl7

import (
	"errors"
	"fmt"
)

var (
	ErrMissingHeader       = errors.New("missing MSH header segment")
	ErrMalformedDelimiters = errors.New("malformed delimiter set")
	ErrTruncatedSegment    = errors.New("truncated segment")
	ErrDuplicateHeader     = errors.New("more than one MSH segment")
)

// ParseError is returned by Parse. It unwraps to one of the Err* sentinels.
// None of them is worth retrying for the same bytes.
type ParseError struct {
	Err     error
	Segment int // 1-based line number, 0 when not tied to a segment
	Detail  string
}

func (e *ParseError) Error() string {
	msg := "hl7: " + e.Err.Error()
	if e.Segment > 0 {
		msg += fmt.Sprintf(" (segment %d)", e.Segment)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(err error, segment int, format string, args ...any) *ParseError {
	return &ParseError{Err: err, Segment: segment, Detail: fmt.Sprintf(format, args...)}
}

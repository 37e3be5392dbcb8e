// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"errors"
	"fmt"
)

// Sentinel errors for boundary/configuration defects (spec §7). These are
// never retried.
var (
	// ErrIllegalArgument is returned for option/shape violations detected
	// synchronously at the boundary (missing target URLs, non-positive
	// sizes, etc).
	ErrIllegalArgument = errors.New("xfer: illegal argument")

	// ErrMissingContentLength is returned when the planner needs a
	// content length that was never supplied or resolved.
	ErrMissingContentLength = errors.New("xfer: missing content length")

	// ErrNoTargetURLs is returned when a multipart target names zero
	// URLs.
	ErrNoTargetURLs = errors.New("xfer: no target URLs")

	// ErrUnsupportedTarget is returned when neither side of an asset
	// names a usable local path or URL.
	ErrUnsupportedTarget = errors.New("xfer: unsupported target")

	// ErrOutOfMemoryPool is returned when a requested buffer size
	// exceeds the pool's entire capacity: no amount of waiting will ever
	// satisfy it. Fatal for the part.
	ErrOutOfMemoryPool = errors.New("xfer: requested size exceeds memory pool capacity")
)

// FileTooLargeError is returned by the Part Planner when the asset cannot
// fit into the available target URIs under the max-part-size constraint.
type FileTooLargeError struct {
	ContentLength int64
	URLCount      int
	MaxPartSize   int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("xfer: content length %d does not fit in %d URL(s) at max part size %d",
		e.ContentLength, e.URLCount, e.MaxPartSize)
}

// RangeNotRespectedError means the server returned an unexpected status or
// a Content-Range/Content-Length that doesn't match the requested range.
// Fatal for the part; never retried (protocol violation, not transient).
type RangeNotRespectedError struct {
	URL            string
	RequestedRange Range
	Status         int
}

func (e *RangeNotRespectedError) Error() string {
	return fmt.Sprintf("xfer: range not respected for %s: requested [%d,%d), got status %d",
		e.URL, e.RequestedRange.Start, e.RequestedRange.End, e.Status)
}

// TruncatedError means the streamed body was shorter than declared. Fatal
// for the part; never retried.
type TruncatedError struct {
	URL      string
	Expected int64
	Got      int64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("xfer: truncated body from %s: expected %d bytes, got %d", e.URL, e.Expected, e.Got)
}

// HTTPStatusError surfaces a non-2xx (or non-206/200 for downloads) HTTP
// response. Retried per the rules in retry.go.
type HTTPStatusError struct {
	Status int
	Method string
	URL    string
	Body   string // first 10000 bytes of a text/* or JSON error body
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("xfer: %s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("xfer: %s %s: status %d", e.Method, e.URL, e.Status)
}

// HTTPConnectError surfaces a transport-layer failure (DNS, connection
// reset, timeout). Retried per the rules in retry.go.
type HTTPConnectError struct {
	Method string
	URL    string
	Cause  error
}

func (e *HTTPConnectError) Error() string {
	return fmt.Sprintf("xfer: %s %s: %v", e.Method, e.URL, e.Cause)
}

func (e *HTTPConnectError) Unwrap() error { return e.Cause }

// IsFatalPartError reports whether err is one of the part-terminal error
// kinds that must never be retried, regardless of retry configuration.
func IsFatalPartError(err error) bool {
	var rnr *RangeNotRespectedError
	var trunc *TruncatedError
	return errors.As(err, &rnr) || errors.As(err, &trunc) || errors.Is(err, ErrOutOfMemoryPool)
}

package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProgressFunc receives cumulative transfer progress. downloaded never
// decreases within one download. total <= 0 means the origin did not
// disclose a length. speedBps <= 0 and eta == 0 mean unknown.
type ProgressFunc func(downloaded, total int64, speedBps float64, eta time.Duration)

// Metadata carries optional descriptive fields discovered by an adapter.
type Metadata struct {
	Title     string
	Performer string
	Duration  time.Duration
}

// Result describes a successfully retrieved payload. Path always points to an
// existing, non-empty file inside a scratch directory owned by this download;
// callers remove that directory when the payload is no longer needed.
type Result struct {
	Path     string
	Filename string
	Size     int64
	Meta     *Metadata
}

// Adapter turns a URL into local bytes plus progress events.
//
// Implementations throttle progress callbacks to roughly one per second and
// guarantee that any partially written file is deleted before returning an
// error.
type Adapter interface {
	Download(ctx context.Context, rawURL string, progress ProgressFunc) (*Result, error)
}

// ErrContentInvalid marks an origin that returned something structurally
// unexpected, e.g. an HTML page where a binary was expected.
var ErrContentInvalid = errors.New("source returned unexpected content")

// ErrUnavailable marks a network, DNS or HTTP-status failure reaching the origin.
var ErrUnavailable = errors.New("source unavailable")

// SizeLimitError reports a declared or realized payload size above the ceiling.
type SizeLimitError struct {
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("payload size %d exceeds limit %d", e.Size, e.Limit)
	}
	return fmt.Sprintf("payload exceeds limit %d", e.Limit)
}

// ResolverReason distinguishes media-resolver failures the user can act on.
type ResolverReason string

const (
	ReasonMissingTool ResolverReason = "missing_tool"
	ReasonRestricted  ResolverReason = "restricted"
	ReasonGeneric     ResolverReason = "generic"
)

// ResolverError is a failure surfaced by the media resolver adapter.
type ResolverError struct {
	Reason ResolverReason
	Detail string
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("media resolver failed (%s): %s", e.Reason, e.Detail)
}

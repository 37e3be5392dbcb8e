// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"fmt"
	"sync"
)

// Range is a half-open byte interval [Start, End) over a 64-bit address
// space.
type Range struct {
	Start int64
	End   int64
}

// Length returns End-Start.
func (r Range) Length() int64 {
	return r.End - r.Start
}

// Contains reports whether off falls inside [Start, End).
func (r Range) Contains(off int64) bool {
	return off >= r.Start && off < r.End
}

// Union returns the smallest range spanning both r and o. It is only
// meaningful when the two ranges are adjacent or overlapping; callers are
// responsible for that check.
func (r Range) Union(o Range) Range {
	u := Range{Start: r.Start, End: r.End}
	if o.Start < u.Start {
		u.Start = o.Start
	}
	if o.End > u.End {
		u.End = o.End
	}
	return u
}

// Subdivide splits r into consecutive sub-ranges of at most chunk bytes
// each; the last sub-range may be shorter. Subdivide(0) or a non-positive
// chunk returns r unchanged as the sole element.
func (r Range) Subdivide(chunk int64) []Range {
	if chunk <= 0 || chunk >= r.Length() {
		return []Range{r}
	}
	var out []Range
	for start := r.Start; start < r.End; start += chunk {
		end := start + chunk
		if end > r.End {
			end = r.End
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}

// Endpoint names one side (source or target) of an Asset: either a local
// filesystem path, or one or more remote URIs. A multipart target/source is
// represented by len(URLs) > 1, one URL per part.
type Endpoint struct {
	// LocalPath is set when this side is the filesystem.
	LocalPath string
	// URLs holds one URI for a single-part remote endpoint, or N URIs for
	// an N-way multipart endpoint.
	URLs []string
}

// IsRemote reports whether this endpoint names one or more HTTP(S) URIs.
func (e Endpoint) IsRemote() bool { return len(e.URLs) > 0 }

// IsLocal reports whether this endpoint names a local filesystem path.
func (e Endpoint) IsLocal() bool { return e.LocalPath != "" }

// IsMultipart reports whether this endpoint is addressed by more than one
// URI.
func (e Endpoint) IsMultipart() bool { return len(e.URLs) > 1 }

// Asset is the immutable description of one logical unit to transfer: a
// source descriptor and a target descriptor, each either a single URI or an
// ordered list of URIs, plus request headers and metadata. At least one of
// Source/Target must be remote and the other local; a multipart endpoint's
// URL list must be non-empty.
type Asset struct {
	// ID uniquely identifies the asset within a batch. DownloadFiles and
	// UploadFiles assign a fresh one to every asset they build;
	// NewTransferAsset keeps whatever is set here, empty or not.
	ID string

	Source Endpoint
	Target Endpoint

	// Headers are applied to every request made for this asset.
	Headers map[string]string
	// MultipartHeaders are applied in addition to Headers, only for
	// multipart upload parts.
	MultipartHeaders map[string]string

	// AcceptRanges indicates the source honours Range requests. When
	// false and the remote side (Source for downloads, Target for uploads)
	// is a single URI, the planner emits exactly one whole-asset part.
	AcceptRanges bool

	// Size is the declared content length. Required unless a resolver
	// stage fills it in from a HEAD probe.
	Size int64
	// ContentType is advisory metadata; the resolver fills it from the
	// probe's Content-Type when empty. It is not sent as a request header.
	ContentType string

	// PreferredPartSize, MinPartSize and MaxPartSize drive the Part
	// Planner (spec §4.1). Zero means "use the pipeline default" for
	// PreferredPartSize, 1 for MinPartSize and the asset's Size for
	// MaxPartSize.
	PreferredPartSize int64
	MinPartSize       int64
	MaxPartSize       int64

	// Method overrides the upload HTTP method (default PUT; POST
	// accepted).
	Method string
}

// AssetState is the lifecycle state of a TransferAsset.
type AssetState int32

const (
	// StatePending is the initial state: no part has been dispatched yet.
	StatePending AssetState = iota
	// StateInProgress means at least one part has been dispatched.
	StateInProgress
	// StateFailed is terminal: some part could not complete.
	StateFailed
	// StateCompleted is terminal: every part completed successfully.
	StateCompleted
)

func (s AssetState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateFailed:
		return "failed"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// TransferAsset pairs an Asset with its mutable pipeline state: lifecycle
// state, first recorded error, and part-count/byte tracker. State changes
// only through the unexported methods below, which the Controller, the
// Joiner and the pipeline driver call; other stages only read it.
type TransferAsset struct {
	Asset

	mu                sync.Mutex
	state             AssetState
	err               error
	partsTotal        int
	partsTotalKnown   bool
	partsCompleted    int
	bytesTransferred  int64
	dispatchedAnyPart bool
	startGate         chan struct{}
}

// NewTransferAsset wraps an Asset for pipeline processing.
func NewTransferAsset(a Asset) *TransferAsset {
	return &TransferAsset{Asset: a, state: StatePending, startGate: make(chan struct{})}
}

// State returns the asset's current lifecycle state.
func (t *TransferAsset) State() AssetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the first recorded error, or nil.
func (t *TransferAsset) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Failed reports whether this asset has already recorded a terminal error.
// The Failed-Asset Filter (spec §4.7) calls this to decide whether to drop
// a part without emitting it.
func (t *TransferAsset) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateFailed
}

// tryDispatchFirst transitions PENDING -> IN_PROGRESS at most once and
// reports whether this call performed the transition (i.e. whether this is
// the part that should trigger FILE_START).
func (t *TransferAsset) tryDispatchFirst() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dispatchedAnyPart {
		return false
	}
	t.dispatchedAnyPart = true
	if t.state == StatePending {
		t.state = StateInProgress
	}
	return true
}

// recordError records err as the asset's error if none is recorded yet
// (compare-and-set semantics: first error sticks) and transitions the asset
// to FAILED. Returns true iff this call recorded the (first) error.
func (t *TransferAsset) recordError(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return false
	}
	t.err = err
	t.state = StateFailed
	return true
}

// setPartsTotal records how many parts the planner produced for this
// asset. Called once, when planning finishes.
func (t *TransferAsset) setPartsTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partsTotal = n
	t.partsTotalKnown = true
	if n == 0 {
		t.state = StateCompleted
	}
}

// completePart records a completed part's byte count and reports the
// updated (partsCompleted, bytesTransferred, isDone) triple. isDone is true
// iff this call caused the asset to reach COMPLETED.
func (t *TransferAsset) completePart(n int64) (completed int, transferred int64, isDone bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partsCompleted++
	t.bytesTransferred += n
	if t.partsTotalKnown && t.partsCompleted == t.partsTotal && t.state != StateFailed {
		t.state = StateCompleted
		isDone = true
	}
	return t.partsCompleted, t.bytesTransferred, isDone
}

// Part is a reference to a TransferAsset plus a byte Range, plus the
// target-side URI this range must be sent to or fetched from (which differs
// from the asset's base URI when multipart). Immutable after construction.
type Part struct {
	AssetID string
	Range   Range
	URI     string
}

// TransferPart carries up to two Parts (source-side and target-side) for
// the same byte range of one asset, plus the whole-file flag and the buffer
// leased while the part is in flight. A
// TransferPart is uniquely identified within its asset by its Range.Start.
type TransferPart struct {
	Asset  *TransferAsset
	Range  Range
	Source *Part
	Target *Part

	// WholeFile is set when this part must be requested without a Range
	// header (the planner's "targets lacking range support" case).
	WholeFile bool

	// block is the leased buffer backing this part's in-flight transfer,
	// set by Operation for the duration of Execute and cleared once the
	// block is released. Nil outside that window.
	block *MemoryBlock
}

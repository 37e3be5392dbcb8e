// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import "sync"

// Event kind identifiers for the Controller's subscription interface
// (spec §6 "Invocation surface": filestart, fileprogress, fileend,
// fileerror).
const (
	EventFileStart    = "filestart"
	EventFileProgress = "fileprogress"
	EventFileEnd      = "fileend"
	EventFileError    = "fileerror"
)

// AssetEvent is the payload delivered to event handlers: the asset's
// event-data record (spec §4.8).
type AssetEvent struct {
	AssetID     string
	Path        string
	Total       int64
	Transferred int64
	Err         error
}

// Controller is the pipeline's event bus. It aggregates the first error per
// asset (moving that asset to FAILED) and fans out lifecycle events to
// registered handlers (dispatched synchronously, in registration order, per
// event kind). Closing file handles at the end of a run is done by
// runPipeline, not by the Controller.
type Controller struct {
	mu       sync.Mutex
	handlers map[string][]func(AssetEvent)

	firstErrOnce sync.Once
	firstErr     error
}

// NewController returns an empty, ready-to-use Controller.
func NewController() *Controller {
	return &Controller{handlers: make(map[string][]func(AssetEvent))}
}

// On registers fn to run whenever event fires. Handlers for the same event
// run in registration order.
func (c *Controller) On(event string, fn func(AssetEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *Controller) dispatch(event string, ev AssetEvent) {
	c.mu.Lock()
	fns := append([]func(AssetEvent){}, c.handlers[event]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func assetPath(asset *TransferAsset) string {
	if asset.Source.IsLocal() {
		return asset.Source.LocalPath
	}
	return asset.Target.LocalPath
}

// dispatchStart is the hook ConcurrentMapper.BeforeExecute calls for every
// part; it emits FILE_START exactly once per asset, the instant the first
// part is about to run. Every other part of the same asset blocks here until
// that FILE_START dispatch has actually completed, so a sibling part can
// never finish and reach FILE_PROGRESS/FILE_END before FILE_START has fired
// (spec §5's ordering guarantee), regardless of goroutine scheduling.
func (c *Controller) dispatchStart(asset *TransferAsset) {
	if !asset.tryDispatchFirst() {
		<-asset.startGate
		return
	}
	c.dispatch(EventFileStart, AssetEvent{AssetID: asset.ID, Path: assetPath(asset), Total: asset.Size})
	close(asset.startGate)
}

func (c *Controller) emitProgress(asset *TransferAsset, transferred int64) {
	c.dispatch(EventFileProgress, AssetEvent{AssetID: asset.ID, Path: assetPath(asset), Total: asset.Size, Transferred: transferred})
}

func (c *Controller) emitEnd(asset *TransferAsset) {
	c.dispatch(EventFileEnd, AssetEvent{AssetID: asset.ID, Path: assetPath(asset), Total: asset.Size, Transferred: asset.Size})
}

// recordFailure records err as asset's first error (CAS: later errors for
// the same asset are dropped), emits FILE_ERROR exactly once for it, and
// records it as the pipeline's first error too if none is set yet. Other
// assets' errors are observable only through their own FILE_ERROR event,
// matching spec §7's propagation rule.
func (c *Controller) recordFailure(asset *TransferAsset, err error) {
	if !asset.recordError(err) {
		return
	}
	c.dispatch(EventFileError, AssetEvent{AssetID: asset.ID, Path: assetPath(asset), Total: asset.Size, Err: err})
	c.firstErrOnce.Do(func() { c.firstErr = err })
}

// FirstError returns the first asset-level error recorded across the whole
// run, or nil. The outer driver re-throws this at pipeline completion
// (spec §4.8 Cleanup); every other error remains observable only via its
// asset's fileerror event.
func (c *Controller) FirstError() error {
	return c.firstErr
}

// filteredOut records an asset as FAILED before any part ever dispatches
// (e.g. a planning-time error), so that exactly one of FILE_END/FILE_ERROR
// fires for every asset that entered the pipeline, per spec §5's ordering
// guarantee covering assets filtered out pre-dispatch.
func (c *Controller) filteredOut(asset *TransferAsset, err error) {
	c.recordFailure(asset, err)
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPreferredPartSize is used when Options.PreferredPartSize is zero
// (spec §6 configuration table).
const DefaultPreferredPartSize = 10 << 20 // 10 MiB

// DefaultMaxConcurrent is used when Options.MaxConcurrent is zero.
const DefaultMaxConcurrent = 8

// DownloadRequest describes one asset to fetch from a single remote URL
// into a local path.
type DownloadRequest struct {
	URL  string
	Path string

	// Size, if already known, skips the metadata-resolution probe.
	Size int64
	// AcceptRanges states that URL honours Range requests. The probe runs
	// only when Size is zero; when AcceptRanges is false and Size is set,
	// the file is fetched with one GET without a Range header.
	AcceptRanges bool

	Headers                               map[string]string
	PreferredPartSize, MinPartSize, MaxPartSize int64
}

// UploadRequest describes one asset to push from a local path to one or
// more remote URLs. URLs takes precedence over URL when both are set; a
// single URL uploads the whole file in one request, an N-URL list splits
// the file into at most N parts (sized by the planner), one PUT per URL in
// list order.
type UploadRequest struct {
	URL  string
	URLs []string
	Path string

	// Size, if zero, is resolved via os.Stat.
	Size int64

	Headers, MultipartHeaders                   map[string]string
	Method                                       string
	PreferredPartSize, MinPartSize, MaxPartSize int64
}

// Options configures a DownloadFiles/UploadFiles run (spec §6).
type Options struct {
	// MaxConcurrent bounds in-flight part operations across the whole
	// batch. Default DefaultMaxConcurrent.
	MaxConcurrent int
	// PreferredPartSize is the planner's default when a request doesn't
	// set its own. Default DefaultPreferredPartSize.
	PreferredPartSize int64
	// Headers are merged into every asset's request headers, the
	// per-request Headers taking precedence.
	Headers map[string]string
	// Retry configures the Retry Engine. Zero value uses
	// DefaultRetryConfig.
	Retry RetryConfig
	// Timeout bounds each individual HTTP request (not the whole batch).
	Timeout time.Duration
	// Mkdirs creates a download's destination directory if missing.
	Mkdirs bool
	// PoolCapacity requests a Memory Pool of this size; zero uses
	// NewMemoryPool's default sizing.
	PoolCapacity int64
}

func (o Options) effectiveMaxConcurrent() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

func (o Options) effectivePreferredPartSize() int64 {
	if o.PreferredPartSize > 0 {
		return o.PreferredPartSize
	}
	return DefaultPreferredPartSize
}

func (o Options) effectiveRetry() RetryConfig {
	z := RetryConfig{}
	if o.Retry == z {
		return DefaultRetryConfig()
	}
	return o.Retry
}

// Handle is the caller's view of a running (or not-yet-started) batch: a
// place to subscribe to lifecycle events before calling Wait, which drives
// the batch to completion. Subscribing after Wait has started delivering
// events has no effect on events already dispatched.
type Handle struct {
	ctrl *Controller
	run  func() error

	once sync.Once
	err  error
}

// On registers fn to run whenever event fires, for any asset in the batch.
// Must be called before Wait to see every event.
func (h *Handle) On(event string, fn func(AssetEvent)) {
	h.ctrl.On(event, fn)
}

// Wait drives the batch to completion (blocking) and returns the first
// asset-level error recorded across the run, if any, or ctx's error if the
// run was canceled before every asset finished. Calling Wait more than once
// returns the first call's result without re-running anything.
func (h *Handle) Wait() error {
	h.once.Do(func() { h.err = h.run() })
	return h.err
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func newAssetID() string {
	return uuid.NewString()
}

func buildDownloadAsset(req DownloadRequest, opts Options) (*TransferAsset, error) {
	if req.URL == "" || req.Path == "" {
		return nil, ErrIllegalArgument
	}
	a := Asset{
		ID:                newAssetID(),
		Source:            Endpoint{URLs: []string{req.URL}},
		Target:            Endpoint{LocalPath: req.Path},
		Headers:           mergeHeaders(opts.Headers, req.Headers),
		AcceptRanges:      req.AcceptRanges,
		Size:              req.Size,
		PreferredPartSize: req.PreferredPartSize,
		MinPartSize:       req.MinPartSize,
		MaxPartSize:       req.MaxPartSize,
	}
	return NewTransferAsset(a), nil
}

func buildUploadAsset(req UploadRequest, opts Options) (*TransferAsset, error) {
	urls := req.URLs
	if len(urls) == 0 {
		if req.URL == "" {
			return nil, ErrNoTargetURLs
		}
		urls = []string{req.URL}
	}
	if req.Path == "" {
		return nil, ErrIllegalArgument
	}
	a := Asset{
		ID:                newAssetID(),
		Source:            Endpoint{LocalPath: req.Path},
		Target:            Endpoint{URLs: urls},
		Headers:           mergeHeaders(opts.Headers, req.Headers),
		MultipartHeaders:  req.MultipartHeaders,
		AcceptRanges:      true,
		Size:              req.Size,
		Method:            req.Method,
		PreferredPartSize: req.PreferredPartSize,
		MinPartSize:       req.MinPartSize,
		MaxPartSize:       req.MaxPartSize,
	}
	return NewTransferAsset(a), nil
}

// DownloadFiles submits reqs as one batch. It validates every request
// synchronously (spec §7: IllegalArgument is thrown synchronously, never
// retried) and returns a Handle on success; call Handle.On to subscribe,
// then Handle.Wait to run the batch and block for its result.
func DownloadFiles(ctx context.Context, reqs []DownloadRequest, opts Options) (*Handle, error) {
	assets := make([]*TransferAsset, 0, len(reqs))
	for _, req := range reqs {
		a, err := buildDownloadAsset(req, opts)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return newHandle(ctx, assets, Download, opts), nil
}

// UploadFiles submits reqs as one batch, symmetric to DownloadFiles.
func UploadFiles(ctx context.Context, reqs []UploadRequest, opts Options) (*Handle, error) {
	assets := make([]*TransferAsset, 0, len(reqs))
	for _, req := range reqs {
		a, err := buildUploadAsset(req, opts)
		if err != nil {
			return nil, err
		}
		if a.Size <= 0 {
			fi, err := os.Stat(a.Source.LocalPath)
			if err != nil {
				return nil, err
			}
			a.Size = fi.Size()
		}
		assets = append(assets, a)
	}
	return newHandle(ctx, assets, Upload, opts), nil
}

func newHandle(ctx context.Context, assets []*TransferAsset, dir Direction, opts Options) *Handle {
	ctrl := NewController()
	return &Handle{
		ctrl: ctrl,
		run:  func() error { return runPipeline(ctx, ctrl, assets, dir, opts) },
	}
}

// runPipeline wires the resolver, planner, pool, file accessor, HTTP
// adapter, failed-asset filter, concurrent mapper, joiner and controller
// into one end-to-end run over assets, per spec §3's stage diagram.
func runPipeline(ctx context.Context, ctrl *Controller, assets []*TransferAsset, dir Direction, opts Options) error {
	pool := NewMemoryPool(opts.PoolCapacity)
	files := NewFileAccessor()
	adapter := NewHTTPAdapter(opts.Timeout)
	defer files.Close()

	for _, a := range assets {
		if a.Size > 0 {
			continue
		}
		if err := ResolveMetadata(ctx, adapter, a); err != nil {
			ctrl.filteredOut(a, err)
		}
	}

	partSize := opts.effectivePreferredPartSize()
	partsCh := make(chan *TransferPart)
	go func() {
		defer close(partsCh)
		for _, a := range assets {
			if a.Failed() {
				continue
			}
			if dir == Download && opts.Mkdirs {
				if dirName := filepath.Dir(a.Target.LocalPath); dirName != "." {
					os.MkdirAll(dirName, 0o755)
				}
			}
			parts, err := PlanParts(a, dir, partSize)
			if err != nil {
				ctrl.filteredOut(a, err)
				continue
			}
			a.setPartsTotal(len(parts))
			for _, p := range parts {
				select {
				case partsCh <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	filtered := FilterFailedAssets(ctx, partsCh)

	op := &Operation{HTTP: adapter, Pool: pool, Files: files, Retry: opts.effectiveRetry()}
	mapper := &ConcurrentMapper{
		Op:            op,
		Dir:           dir,
		MaxConcurrent: opts.effectiveMaxConcurrent(),
		BeforeExecute: func(tp *TransferPart) { ctrl.dispatchStart(tp.Asset) },
	}
	results := mapper.Run(ctx, filtered)

	joiner := &Joiner{Controller: ctrl}
	joiner.Run(results)

	if err := ctrl.FirstError(); err != nil {
		return err
	}
	return ctx.Err()
}

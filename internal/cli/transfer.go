// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/bodaay/HuggingFaceModelDownloader/pkg/xfer"
)

// transferManifestEntry is one line of a transfer manifest: either a
// download (URL(s) -> local path) or an upload (local path -> URL(s)),
// distinguished by which side of the asset already exists.
type transferManifestEntry struct {
	URL               string            `json:"url"`
	URLs              []string          `json:"urls"`
	Path              string            `json:"path"`
	Size              int64             `json:"size"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	MultipartHeaders  map[string]string `json:"multipartHeaders"`
	AcceptRanges      bool              `json:"acceptRanges"`
	PreferredPartSize int64             `json:"preferredPartSize"`
	MinPartSize       int64             `json:"minPartSize"`
	MaxPartSize       int64             `json:"maxPartSize"`
}

func (e transferManifestEntry) urls() []string {
	if len(e.URLs) > 0 {
		return e.URLs
	}
	if e.URL != "" {
		return []string{e.URL}
	}
	return nil
}

func newTransferCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		manifestPath  string
		upload        bool
		maxConcurrent int
		partSize      int64
		retries       int
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Download or upload a batch of presigned-URL assets from a manifest",
		Long: `Drives the block-transfer core directly for presigned-URL workflows that
have nothing to do with the Hugging Face Hub: feed it a JSON manifest of
{url, path, size?} entries and it downloads them (a download takes exactly
one URL; a one-element urls list is also accepted), or
{path, url|urls} entries and it uploads them.

Example manifest (download):
  [
    {"url": "https://example.com/part", "path": "./out/part.bin"},
    {"url": "https://example.com/big", "path": "./out/big.bin", "size": 2048}
  ]

Example:
  hfdownloader transfer --manifest manifest.json
  hfdownloader transfer --manifest manifest.json --upload`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("reading manifest: %w", err)
			}
			var entries []transferManifestEntry
			if err := json.Unmarshal(b, &entries); err != nil {
				return fmt.Errorf("parsing manifest: %w", err)
			}
			if len(entries) == 0 {
				return fmt.Errorf("manifest %s has no entries", manifestPath)
			}

			opts := xfer.Options{
				MaxConcurrent:     maxConcurrent,
				PreferredPartSize: partSize,
				Retry: xfer.RetryConfig{
					Enabled:  retries > 0,
					MaxCount: retries + 1,
				},
				Mkdirs: true,
			}
			if token := ro.Token; token != "" {
				opts.Headers = map[string]string{"Authorization": "Bearer " + token}
			}

			var h *xfer.Handle
			if upload {
				reqs := make([]xfer.UploadRequest, len(entries))
				for i, e := range entries {
					reqs[i] = xfer.UploadRequest{
						URL:               e.URL,
						URLs:              e.urls(),
						Path:              e.Path,
						Size:              e.Size,
						Headers:           e.Headers,
						MultipartHeaders:  e.MultipartHeaders,
						Method:            e.Method,
						PreferredPartSize: e.PreferredPartSize,
						MinPartSize:       e.MinPartSize,
						MaxPartSize:       e.MaxPartSize,
					}
				}
				h, err = xfer.UploadFiles(ctx, reqs, opts)
			} else {
				reqs := make([]xfer.DownloadRequest, len(entries))
				for i, e := range entries {
					urls := e.urls()
					if len(urls) != 1 {
						return fmt.Errorf("manifest entry %d: download requires exactly one url, got %d", i, len(urls))
					}
					reqs[i] = xfer.DownloadRequest{
						URL:               urls[0],
						Path:              e.Path,
						Size:              e.Size,
						AcceptRanges:      e.AcceptRanges,
						Headers:           e.Headers,
						PreferredPartSize: e.PreferredPartSize,
						MinPartSize:       e.MinPartSize,
						MaxPartSize:       e.MaxPartSize,
					}
				}
				h, err = xfer.DownloadFiles(ctx, reqs, opts)
			}
			if err != nil {
				return err
			}

			if ro.JSONOut {
				attachJSONEventPrinter(h, os.Stdout)
				return h.Wait()
			}

			paths := make(map[string]int64, len(entries))
			for _, e := range entries {
				paths[e.Path] = e.Size
			}
			finish := attachBarEventPrinter(h, paths)
			err = h.Wait()
			finish()
			return err
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to the JSON transfer manifest (required)")
	cmd.Flags().BoolVar(&upload, "upload", false, "Treat manifest entries as uploads instead of downloads")
	cmd.Flags().IntVarP(&maxConcurrent, "connections", "c", xfer.DefaultMaxConcurrent, "Max concurrent parts in flight across the whole batch")
	cmd.Flags().Int64Var(&partSize, "part-size", xfer.DefaultPreferredPartSize, "Preferred part size in bytes")
	cmd.Flags().IntVar(&retries, "retries", 4, "Max retry attempts per part")
	cmd.MarkFlagRequired("manifest")

	return cmd
}

// attachJSONEventPrinter wires h's four event kinds to a JSON-lines writer,
// mirroring jsonProgress's handling of hfdownloader.ProgressEvent.
func attachJSONEventPrinter(h *xfer.Handle, w *os.File) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	print := func(kind string) func(xfer.AssetEvent) {
		return func(e xfer.AssetEvent) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(struct {
				Event string `json:"event"`
				xfer.AssetEvent
			}{kind, e})
		}
	}
	h.On(xfer.EventFileStart, print(xfer.EventFileStart))
	h.On(xfer.EventFileProgress, print(xfer.EventFileProgress))
	h.On(xfer.EventFileEnd, print(xfer.EventFileEnd))
	h.On(xfer.EventFileError, print(xfer.EventFileError))
}

// attachBarEventPrinter gives every path in paths its own cheggaaa/pb bar,
// all started together in one pool so concurrent asset progress renders as
// a stable multi-line display instead of interleaved log lines. Returns a
// finish func the caller must run once h.Wait() returns.
func attachBarEventPrinter(h *xfer.Handle, paths map[string]int64) func() {
	bars := make(map[string]*pb.ProgressBar, len(paths))
	ordered := make([]*pb.ProgressBar, 0, len(paths))
	for path, size := range paths {
		bar := pb.New64(size).SetTemplateString(
			`{{ string . "prefix" }} {{ counters . }} {{ bar . }} {{ percent . }} {{ speed . }}`,
		)
		bar.Set("prefix", path)
		bars[path] = bar
		ordered = append(ordered, bar)
	}
	pool, err := pb.StartPool(ordered...)
	if err != nil {
		pool = nil
	}

	update := func(e xfer.AssetEvent, fn func(*pb.ProgressBar)) {
		if bar, ok := bars[e.Path]; ok {
			fn(bar)
		}
	}
	h.On(xfer.EventFileProgress, func(e xfer.AssetEvent) {
		update(e, func(bar *pb.ProgressBar) { bar.SetCurrent(e.Transferred) })
	})
	h.On(xfer.EventFileEnd, func(e xfer.AssetEvent) {
		update(e, func(bar *pb.ProgressBar) { bar.SetCurrent(e.Total); bar.Finish() })
	})
	h.On(xfer.EventFileError, func(e xfer.AssetEvent) {
		update(e, func(bar *pb.ProgressBar) {
			bar.Set("prefix", e.Path+" FAILED: "+e.Err.Error())
			bar.Finish()
		})
	})

	return func() {
		if pool != nil {
			pool.Stop()
		}
	}
}

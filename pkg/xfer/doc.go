// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package xfer implements a concurrent block-transfer pipeline for moving
binary assets between the local filesystem and HTTP(S) endpoints, in either
direction.

An asset may be split across multiple distinct target URLs (one URL per
part, as handed out by object-storage "multipart upload" APIs) or transferred
as byte-range slices against a single URL. The pipeline plans how an asset is
partitioned into parts, dispatches parts as HTTP range/put requests with
bounded concurrency and retries, streams bytes through a pooled memory
buffer, and surfaces progress and errors as an ordered event stream while
letting sibling assets in the same batch keep making progress after one
fails.

# Pipeline stages

The pipeline is a sequence of stages, each consuming the previous stage's
output:

  - resolver.go:      fills in size / content-type / accept-ranges for assets
    that did not supply them.
  - planner.go:       computes part size and emits an ordered list of parts
    covering the asset's byte range exactly.
  - pool.go:           lends fixed-region buffer slices to in-flight parts.
  - fileaccessor.go:   positional read/write against local files shared by
    concurrent parts.
  - mapper.go:         runs a bounded number of part transfers concurrently.
  - operation.go:      the per-part HTTP GET/PUT, with retries.
  - joiner.go:         folds completed parts back into per-asset progress,
    and filters out parts belonging to an already-failed asset.
  - controller.go:     the event bus and per-asset failure recording; file
    handles are closed by the pipeline driver when a run ends.
  - retry.go:          exponential backoff with a pluggable retryable-error
    predicate.
  - httpadapter.go:    wraps an *http.Client to expose range-get and put
    contracts plus a HEAD-based (with GET-range fallback) metadata probe.

# Usage

	reqs := []xfer.DownloadRequest{
		{URL: "https://example.com/model.bin", Path: "./model.bin"},
	}
	h, err := xfer.DownloadFiles(ctx, reqs, xfer.Options{MaxConcurrent: 8})
	if err != nil {
		log.Fatal(err)
	}
	h.On(xfer.EventFileProgress, func(e xfer.AssetEvent) {
		fmt.Printf("%s: %d/%d\n", e.Path, e.Transferred, e.Total)
	})
	if err := h.Wait(); err != nil {
		log.Fatal(err)
	}

Uploads follow the same shape via UploadFiles and UploadRequest, with
UploadRequest.URL for one URL or UploadRequest.URLs for a list of URLs
(multipart target).
*/
package xfer

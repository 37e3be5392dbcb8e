// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import "context"

// FilterFailedAssets sits between the Part Planner and the Concurrent
// Mapper (spec §4.7). For each incoming TransferPart it checks the part's
// asset's error slot and drops the part — without forwarding it — if that
// slot is already set, so no further HTTP/file work happens for an asset
// once one of its parts has failed.
func FilterFailedAssets(ctx context.Context, in <-chan *TransferPart) <-chan *TransferPart {
	out := make(chan *TransferPart)
	go func() {
		defer close(out)
		for tp := range in {
			if tp.Asset.Failed() {
				continue
			}
			select {
			case out <- tp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Joiner receives PartResults from the Concurrent Mapper, folds them back
// into per-asset progress, and reports each completed/failed/progressed
// asset to the Controller (spec §4.7, §4.8).
type Joiner struct {
	Controller *Controller
}

// Run ranges over results until the channel closes. It never returns an
// error itself; all failures are surfaced as FILE_ERROR events and, at the
// end of the run, as the Controller's first recorded error.
func (j *Joiner) Run(results <-chan *PartResult) {
	for r := range results {
		asset := r.Part.Asset
		if r.Err != nil {
			j.Controller.recordFailure(asset, r.Err)
			continue
		}
		if asset.Failed() {
			continue
		}
		completed, transferred, done := asset.completePart(r.Part.Range.Length())
		_ = completed
		if asset.Failed() {
			continue
		}
		j.Controller.emitProgress(asset, transferred)
		if done {
			j.Controller.emitEnd(asset)
		}
	}
}

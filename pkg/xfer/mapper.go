// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// PartResult is what the Concurrent Mapper emits for each TransferPart it
// finishes: the part plus the error from running it, if any.
type PartResult struct {
	Part *TransferPart
	Err  error
}

// ConcurrentMapper applies an Operation to an input sequence of
// TransferParts with at most MaxConcurrent in flight, emitting results in
// completion order (not input order). A part's terminal failure does not
// stop the mapper from continuing to process other parts, including parts
// of other assets; it is up to the caller (the Joiner/Controller) to gate
// further parts of the failed part's asset.
//
// The bounded-concurrency gate is golang.org/x/sync/semaphore rather than a
// bare buffered channel of tokens, so a cancellation mid-acquire surfaces
// through ctx instead of silently blocking forever.
type ConcurrentMapper struct {
	Op            *Operation
	Dir           Direction
	MaxConcurrent int
	// BeforeExecute, if set, is called synchronously just before each
	// part's Operation.Execute — this is where FILE_START dispatch is
	// detected (spec §4.8: "first part of an asset is about to be
	// dispatched").
	BeforeExecute func(tp *TransferPart)
}

// Run consumes in until it is closed or ctx is canceled, and returns a
// channel of PartResults that closes once every accepted part has
// completed.
func (m *ConcurrentMapper) Run(ctx context.Context, in <-chan *TransferPart) <-chan *PartResult {
	out := make(chan *PartResult)
	max := int64(m.MaxConcurrent)
	if max <= 0 {
		max = 1
	}
	sem := semaphore.NewWeighted(max)

	go func() {
		defer close(out)
		var wg sync.WaitGroup

		for tp := range in {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancellation: report this part as aborted and stop
				// pulling new work, but drain what's left so any
				// upstream producer blocked on a send doesn't leak.
				out <- &PartResult{Part: tp, Err: err}
				for range in {
				}
				break
			}
			wg.Add(1)
			go func(tp *TransferPart) {
				defer wg.Done()
				defer sem.Release(1)
				if m.BeforeExecute != nil {
					m.BeforeExecute(tp)
				}
				err := m.Op.Execute(ctx, m.Dir, tp)
				out <- &PartResult{Part: tp, Err: err}
			}(tp)
		}

		wg.Wait()
	}()

	return out
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPool_ObtainReleaseRoundTrip(t *testing.T) {
	p := &MemoryPool{backing: make([]byte, 100), capacity: 100}

	b, err := p.Obtain(context.Background(), 40)
	require.NoError(t, err)
	require.Equal(t, int64(0), b.StartIndex())
	require.Equal(t, int64(40), b.Size())
	require.Equal(t, int64(60), p.AvailableSize())

	b.Release()
	require.Equal(t, int64(100), p.AvailableSize())
	require.Equal(t, int64(-1), b.StartIndex())
	require.Nil(t, b.View())
}

func TestMemoryPool_ReleaseIsIdempotent(t *testing.T) {
	p := &MemoryPool{backing: make([]byte, 10), capacity: 10}
	b, err := p.Obtain(context.Background(), 10)
	require.NoError(t, err)
	b.Release()
	b.Release() // must not panic or double-credit capacity
	require.Equal(t, int64(10), p.AvailableSize())
}

func TestMemoryPool_FirstFitReusesHoles(t *testing.T) {
	p := &MemoryPool{backing: make([]byte, 30), capacity: 30}
	ctx := context.Background()

	a, err := p.Obtain(ctx, 10) // [0,10)
	require.NoError(t, err)
	b, err := p.Obtain(ctx, 10) // [10,20)
	require.NoError(t, err)
	_, err = p.Obtain(ctx, 10) // [20,30)
	require.NoError(t, err)

	a.Release() // frees the hole at [0,10)
	b.Release() // frees the hole at [10,20), adjacent to the first

	// A request that fits only in the combined-but-not-yet-merged hole
	// region must land at the lowest freed index, not append past capacity.
	d, err := p.Obtain(ctx, 15)
	require.NoError(t, err)
	require.Equal(t, int64(0), d.StartIndex())
}

func TestMemoryPool_OversizeFailsImmediately(t *testing.T) {
	p := &MemoryPool{backing: make([]byte, 10), capacity: 10}
	_, err := p.Obtain(context.Background(), 11)
	require.ErrorIs(t, err, ErrOutOfMemoryPool)
}

func TestMemoryPool_ObtainBlocksUntilSpaceFreed(t *testing.T) {
	p := &MemoryPool{backing: make([]byte, 10), capacity: 10}
	ctx := context.Background()

	first, err := p.Obtain(ctx, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var second *MemoryBlock
	go func() {
		defer wg.Done()
		b, err := p.Obtain(ctx, 5)
		require.NoError(t, err)
		second = b
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine enqueue as a waiter
	first.Release()
	wg.Wait()

	require.NotNil(t, second)
	require.Equal(t, int64(0), second.StartIndex())
}

func TestMemoryPool_ObtainRespectsCancellation(t *testing.T) {
	p := &MemoryPool{backing: make([]byte, 10), capacity: 10}
	ctx, cancel := context.WithCancel(context.Background())

	_, err := p.Obtain(context.Background(), 10)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Obtain(ctx, 5)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Obtain did not return after cancellation")
	}
}

func TestNewMemoryPool_DefaultsWhenNonPositive(t *testing.T) {
	p := NewMemoryPool(0)
	require.True(t, p.Capacity() > 0)
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type kindedEvent struct {
	Kind string
	AssetEvent
}

func collectEvents(h *Handle) *[]kindedEvent {
	events := []kindedEvent{}
	var mu sync.Mutex
	record := func(kind string) func(AssetEvent) {
		return func(e AssetEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, kindedEvent{Kind: kind, AssetEvent: e})
		}
	}
	h.On(EventFileStart, record(EventFileStart))
	h.On(EventFileProgress, record(EventFileProgress))
	h.On(EventFileEnd, record(EventFileEnd))
	h.On(EventFileError, record(EventFileError))
	return &events
}

func TestDownloadFiles_SinglePart(t *testing.T) {
	const body = "hello world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	h, err := DownloadFiles(context.Background(), []DownloadRequest{
		{URL: srv.URL + "/f", Path: dest, Size: int64(len(body))},
	}, Options{})
	require.NoError(t, err)
	events := collectEvents(h)

	require.NoError(t, h.Wait())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, string(got))

	kinds := eventKinds(*events)
	require.Equal(t, []string{EventFileStart, EventFileProgress, EventFileEnd}, kinds)
}

func eventKinds(events []kindedEvent) []string {
	kinds := make([]string, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestDownloadFiles_MultiChunk(t *testing.T) {
	const body = "abcde"
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		rangeHeader := r.Header.Get("Range")
		require.NotEmpty(t, rangeHeader)
		var start, end int
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, body[start:end+1])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	h, err := DownloadFiles(context.Background(), []DownloadRequest{
		{URL: srv.URL + "/f", Path: dest, Size: int64(len(body)), AcceptRanges: true, PreferredPartSize: 1},
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	require.Equal(t, int32(5), atomic.LoadInt32(&gets))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
}

func TestUploadFiles_MultipartJustEnoughURIs(t *testing.T) {
	const body = "hello world 123"
	var mu sync.Mutex
	received := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		received[r.URL.Path] = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte(body), 0o644))

	h, err := UploadFiles(context.Background(), []UploadRequest{
		{
			Path:        src,
			URLs:        []string{srv.URL + "/u1", srv.URL + "/u2"},
			Size:        int64(len(body)),
			MaxPartSize: 8,
		},
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, body, received["/u1"]+received["/u2"])
	require.LessOrEqual(t, len(received["/u1"]), 8)
	require.LessOrEqual(t, len(received["/u2"]), 8)
}

func TestUploadFiles_MultipartInsufficientURIsFails(t *testing.T) {
	const body = "hello world 123"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should have been sent")
	}))
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte(body), 0o644))

	h, err := UploadFiles(context.Background(), []UploadRequest{
		{
			Path:        src,
			URLs:        []string{srv.URL + "/u1", srv.URL + "/u2"},
			Size:        int64(len(body)),
			MaxPartSize: 5,
		},
	}, Options{})
	require.NoError(t, err)
	events := collectEvents(h)

	err = h.Wait()
	require.Error(t, err)
	var tooLarge *FileTooLargeError
	require.ErrorAs(t, err, &tooLarge)

	require.Equal(t, []string{EventFileError}, eventKinds(*events))
}

func TestDownloadFiles_TransientFailureRetried(t *testing.T) {
	const body = "retried"
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	h, err := DownloadFiles(context.Background(), []DownloadRequest{
		{URL: srv.URL + "/f", Path: dest, Size: int64(len(body))},
	}, Options{Retry: RetryConfig{Enabled: true, MaxCount: 3, InitialDelay: time.Millisecond, Backoff: 1}})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
}

func TestDownloadFiles_OneAssetFailsOthersSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Header().Set("Content-Length", "4")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "good")
		case "/bad":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	goodDest := filepath.Join(dir, "good")
	badDest := filepath.Join(dir, "bad")

	h, err := DownloadFiles(context.Background(), []DownloadRequest{
		{URL: srv.URL + "/bad", Path: badDest, Size: 4},
		{URL: srv.URL + "/good", Path: goodDest, Size: 4},
	}, Options{Retry: RetryConfig{Enabled: false}})
	require.NoError(t, err)
	events := collectEvents(h)

	err = h.Wait()
	require.Error(t, err) // the bad asset's error surfaces as the pipeline's first error

	got, readErr := os.ReadFile(goodDest)
	require.NoError(t, readErr)
	require.Equal(t, "good", string(got))

	var sawEndForGood, sawErrorForBad bool
	for _, e := range *events {
		if e.Path == goodDest {
			sawEndForGood = sawEndForGood || e.Err == nil && e.Transferred == e.Total && e.Total > 0
		}
		if e.Path == badDest && e.Err != nil {
			sawErrorForBad = true
		}
	}
	require.True(t, sawEndForGood, "good asset should have completed despite the bad asset's failure")
	require.True(t, sawErrorForBad)
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfdownloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestDownloadMultipart_DelegatesToXfer(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			t.Fatalf("expected a Range header, got none")
		}
		var start, end int
		fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, body[start:end+1])
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	it := PlanItem{
		URL:          srv.URL + "/f",
		RelativePath: "f",
		Size:         int64(len(body)),
		AcceptRanges: true,
	}
	cfg := Settings{Concurrency: 4, Retries: 2}

	var events []ProgressEvent
	emit := func(e ProgressEvent) { events = append(events, e) }

	if err := downloadMultipart(context.Background(), http.DefaultClient, "", Job{}, cfg, it, dst, emit); err != nil {
		t.Fatalf("downloadMultipart: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != body {
		t.Fatalf("content mismatch: got %q, want %q", string(got), body)
	}
	if atomic.LoadInt32(&gets) < 2 {
		t.Fatalf("expected more than one ranged GET for a %d-byte file at concurrency 4, got %d", len(body), gets)
	}

	var sawProgress bool
	for _, e := range events {
		if e.Event == "file_progress" {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatalf("expected at least one file_progress event")
	}
}

func TestDownloadMultipart_PropagatesPartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.bin")
	it := PlanItem{
		URL:          srv.URL + "/missing",
		RelativePath: "missing",
		Size:         16,
		AcceptRanges: true,
	}
	cfg := Settings{Concurrency: 2, Retries: 0}

	err := downloadMultipart(context.Background(), http.DefaultClient, "", Job{}, cfg, it, dst, func(ProgressEvent) {})
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	if _, statErr := os.Stat(dst); statErr == nil {
		t.Fatal("destination file should not exist after a failed transfer")
	}
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBodyChars = 10000

// HTTPAdapter wraps an *http.Client to expose the "range-get to buffer" and
// "put buffer" contracts the Transfer Operation needs (spec §6, §11 in the
// overview table). It never touches module-level state; every adapter is
// an explicit dependency constructed by the caller, so fault injection in
// tests is just a matter of passing a different *http.Client (e.g. one
// whose Transport is a RoundTripper stub) instead of a global toggle.
type HTTPAdapter struct {
	Client *http.Client
}

// NewHTTPAdapter builds an adapter with sensible transport defaults,
// mirroring the teacher's buildHTTPClient.
func NewHTTPAdapter(timeout time.Duration) *HTTPAdapter {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPAdapter{Client: &http.Client{Transport: tr, Timeout: timeout}}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// RangeGet issues a GET for rng against url, omitting the Range header
// entirely when wholeFile is true (spec §4.4 step 2). The caller owns the
// returned response body and must close it.
func (a *HTTPAdapter) RangeGet(ctx context.Context, url string, headers map[string]string, rng Range, wholeFile bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)
	if !wholeFile {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End-1))
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, &HTTPConnectError{Method: http.MethodGet, URL: url, Cause: err}
	}
	return resp, nil
}

// Put issues a PUT (or method, if non-empty) of body to url with
// Content-Length set explicitly. The caller's headers and any
// multipartHeaders are merged in, multipartHeaders taking precedence.
func (a *HTTPAdapter) Put(ctx context.Context, method, url string, headers, multipartHeaders map[string]string, body []byte) (*http.Response, error) {
	if method == "" {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	applyHeaders(req, headers)
	applyHeaders(req, multipartHeaders)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, &HTTPConnectError{Method: method, URL: url, Cause: err}
	}
	return resp, nil
}

// CheckUploadStatus accepts any 2xx response, otherwise builds an
// HTTPStatusError, capturing up to the first 10000 bytes of a text/* or
// JSON body as the error message (spec §6).
func CheckUploadStatus(resp *http.Response, method, url string) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return &HTTPStatusError{Status: resp.StatusCode, Method: method, URL: url, Body: readErrorBody(resp)}
}

func readErrorBody(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "json") {
		return ""
	}
	buf := make([]byte, maxErrorBodyChars)
	n, _ := io.ReadFull(resp.Body, buf)
	return string(buf[:n])
}

// Metadata is what the metadata probe (spec §6) resolves for an asset.
type Metadata struct {
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
	AcceptRanges bool
}

// HeadMeta probes url for size/content-type/accept-ranges via HEAD. Some
// S3-compatible hosts reject HEAD on presigned GET URLs; when HEAD fails
// outright (transport error) or returns any status of 400 or above, it falls back to a
// GET with "Range: bytes=0-0" and reads headers off the 206 response.
func (a *HTTPAdapter) HeadMeta(ctx context.Context, url string, headers map[string]string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Metadata{}, err
	}
	applyHeaders(req, headers)
	resp, err := a.Client.Do(req)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		return a.headByRangeFallback(ctx, url, headers)
	}
	defer resp.Body.Close()
	return metadataFromHeader(resp.Header, resp.StatusCode == http.StatusPartialContent), nil
}

func (a *HTTPAdapter) headByRangeFallback(ctx context.Context, url string, headers map[string]string) (Metadata, error) {
	resp, err := a.RangeGet(ctx, url, headers, Range{Start: 0, End: 1}, false)
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return Metadata{}, &HTTPStatusError{Status: resp.StatusCode, Method: http.MethodGet, URL: url}
	}
	md := metadataFromHeader(resp.Header, resp.StatusCode == http.StatusPartialContent)
	if md.Size == 0 {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			var start, end, total int64
			if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err == nil {
				md.Size = total
			}
		}
	}
	md.AcceptRanges = true // it just answered a range request
	return md, nil
}

func metadataFromHeader(h http.Header, partial bool) Metadata {
	md := Metadata{
		ContentType:  h.Get("Content-Type"),
		ETag:         h.Get("ETag"),
		AcceptRanges: partial || strings.Contains(strings.ToLower(h.Get("Accept-Ranges")), "bytes"),
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			md.LastModified = t
		}
	}
	if cl := h.Get("Content-Length"); cl != "" {
		fmt.Sscan(cl, &md.Size)
	}
	return md
}

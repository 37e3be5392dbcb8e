// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Operation executes individual TransferParts: the per-part HTTP GET/PUT,
// positional file I/O, and buffer lifecycle described in spec §4.4. One
// Operation is shared by every concurrent part in a pipeline run.
type Operation struct {
	HTTP    *HTTPAdapter
	Pool    *MemoryPool
	Files   *FileAccessor
	Retry   RetryConfig
	OnRetry func(part *TransferPart, attempt int, err error)
}

// Execute runs one TransferPart to completion (including retries) and
// returns the final error, if any. The caller is responsible for releasing
// the part's buffer on cancellation paths this function cannot reach (it
// always releases on every return path itself).
func (o *Operation) Execute(ctx context.Context, dir Direction, tp *TransferPart) error {
	if dir == Download {
		return o.executeDownload(ctx, tp)
	}
	return o.executeUpload(ctx, tp)
}

func (o *Operation) executeDownload(ctx context.Context, tp *TransferPart) error {
	size := tp.Range.Length()
	block, err := o.Pool.Obtain(ctx, size)
	if err != nil {
		return err
	}
	tp.block = block
	defer func() {
		block.Release()
		tp.block = nil
	}()

	err = withRetry(ctx, o.Retry, o.retryEmitter(tp), func(int) error {
		return o.downloadOnce(ctx, tp)
	})
	if err != nil {
		return err
	}
	return o.Files.Write(tp.Target.URI, tp.Range.Start, tp.block.View())
}

func (o *Operation) downloadOnce(ctx context.Context, tp *TransferPart) error {
	block := tp.block
	resp, err := o.HTTP.RangeGet(ctx, tp.Source.URI, tp.Asset.Headers, tp.Range, tp.WholeFile)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	size := tp.Range.Length()
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cl := resp.ContentLength; cl >= 0 && cl != size {
			return &RangeNotRespectedError{URL: tp.Source.URI, RequestedRange: tp.Range, Status: resp.StatusCode}
		}
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			var start, end, total int64
			if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err == nil && start != tp.Range.Start {
				return &RangeNotRespectedError{URL: tp.Source.URI, RequestedRange: tp.Range, Status: resp.StatusCode}
			}
		}
	case http.StatusOK:
		if !tp.WholeFile {
			return &RangeNotRespectedError{URL: tp.Source.URI, RequestedRange: tp.Range, Status: resp.StatusCode}
		}
	default:
		return &HTTPStatusError{Status: resp.StatusCode, Method: http.MethodGet, URL: tp.Source.URI, Body: readErrorBody(resp)}
	}

	view := block.View()
	if int64(len(view)) != size {
		// Block was released out from under us (shouldn't happen); guard
		// against writing past the lease.
		view = view[:size]
	}
	n, err := io.ReadFull(resp.Body, view)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	if int64(n) != size {
		return &TruncatedError{URL: tp.Source.URI, Expected: size, Got: int64(n)}
	}
	return nil
}

func (o *Operation) executeUpload(ctx context.Context, tp *TransferPart) error {
	size := tp.Range.Length()
	block, err := o.Pool.Obtain(ctx, size)
	if err != nil {
		return err
	}
	tp.block = block
	defer func() {
		block.Release()
		tp.block = nil
	}()

	view := block.View()
	if _, err := readFullAt(o.Files, tp.Source.URI, tp.Range.Start, view); err != nil {
		return err
	}

	var multipartHeaders map[string]string
	if tp.Asset.Target.IsMultipart() {
		multipartHeaders = tp.Asset.MultipartHeaders
	}
	return withRetry(ctx, o.Retry, o.retryEmitter(tp), func(int) error {
		resp, err := o.HTTP.Put(ctx, tp.Asset.Method, tp.Target.URI, tp.Asset.Headers, multipartHeaders, tp.block.View())
		if err != nil {
			return err
		}
		return CheckUploadStatus(resp, tp.Asset.Method, tp.Target.URI)
	})
}

func readFullAt(files *FileAccessor, path string, offset int64, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := files.Read(path, offset+int64(total), buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (o *Operation) retryEmitter(tp *TransferPart) func(attempt int, err error) {
	return func(attempt int, err error) {
		if o.OnRetry != nil {
			o.OnRetry(tp, attempt, err)
		}
	}
}

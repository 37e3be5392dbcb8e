// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

// Direction tells the planner which side of the asset is remote-HTTP and
// which is local-filesystem.
type Direction int

const (
	// Download: Source is remote, Target is local.
	Download Direction = iota
	// Upload: Source is local, Target is remote.
	Upload
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PlanParts computes part size and emits the ordered list of TransferParts
// covering [0, asset.Size) exactly, per spec §4.1.
func PlanParts(asset *TransferAsset, dir Direction, defaultPreferredPartSize int64) ([]*TransferPart, error) {
	if asset.Size <= 0 {
		return nil, ErrMissingContentLength
	}

	remote, local := remoteAndLocal(asset, dir)

	n := len(remote.URLs)
	if n == 0 {
		return nil, ErrNoTargetURLs
	}
	minPart := asset.MinPartSize
	maxPart := asset.MaxPartSize
	if maxPart <= 0 {
		maxPart = asset.Size
	}
	if minPart <= 0 {
		minPart = 1
	}

	// "Targets lacking range support": a single remote URI on an asset
	// without range support gets exactly one whole-asset part.
	if n == 1 && !asset.AcceptRanges {
		return []*TransferPart{wholeFilePart(asset, dir, remote, local)}, nil
	}

	// The N-URI floor (each part needs its own remote slot) only binds on
	// the side that actually hands out one URI per part: a multipart
	// upload target, or — rarely — a multi-source download. A single
	// remote URI imposes no such floor, since range-addressed requests can
	// hit it any number of times; uploads to a single URI, by contrast,
	// get exactly one whole-body PUT, since there is no standard partial
	// upload semantics to fall back on.
	var required int64
	switch {
	case n > 1:
		required = ceilDiv(asset.Size, int64(n))
	case dir == Upload:
		maxPart = asset.Size
		minPart = 1
		required = asset.Size
	default:
		required = minPart
	}
	if required < minPart {
		required = minPart
	}
	if required > maxPart {
		return nil, &FileTooLargeError{ContentLength: asset.Size, URLCount: n, MaxPartSize: maxPart}
	}

	partSize := required
	preferred := asset.PreferredPartSize
	if preferred == 0 {
		preferred = defaultPreferredPartSize
	}
	if preferred > 0 {
		partSize = clamp(preferred, required, maxPart)
	}

	var parts []*TransferPart
	start := int64(0)
	i := 0
	for start < asset.Size {
		end := start + partSize
		if end > asset.Size {
			end = asset.Size
		}
		r := Range{Start: start, End: end}

		uri := ""
		if n > 1 {
			uri = remote.URLs[i]
		} else if len(remote.URLs) == 1 {
			uri = remote.URLs[0]
		}
		parts = append(parts, buildPart(asset, dir, r, uri, local))

		start = end
		i++
	}
	return parts, nil
}

func wholeFilePart(asset *TransferAsset, dir Direction, remote Endpoint, local Endpoint) *TransferPart {
	uri := ""
	if len(remote.URLs) > 0 {
		uri = remote.URLs[0]
	}
	r := Range{Start: 0, End: asset.Size}
	tp := buildPart(asset, dir, r, uri, local)
	tp.WholeFile = true
	return tp
}

func buildPart(asset *TransferAsset, dir Direction, r Range, remoteURI string, local Endpoint) *TransferPart {
	tp := &TransferPart{Asset: asset, Range: r}
	remotePart := &Part{AssetID: asset.ID, Range: r, URI: remoteURI}
	localPart := &Part{AssetID: asset.ID, Range: r, URI: local.LocalPath}
	if dir == Download {
		tp.Source = remotePart
		tp.Target = localPart
	} else {
		tp.Source = localPart
		tp.Target = remotePart
	}
	return tp
}

func remoteAndLocal(asset *TransferAsset, dir Direction) (remote, local Endpoint) {
	if dir == Download {
		return asset.Source, asset.Target
	}
	return asset.Target, asset.Source
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"os"
)

// ResolveMetadata populates an asset's Size / ContentType / AcceptRanges
// when the caller didn't already supply them, via a HEAD probe (falling
// back to a ranged GET per HTTPAdapter.HeadMeta) for remote sources, or a
// stat for local sources.
func ResolveMetadata(ctx context.Context, adapter *HTTPAdapter, asset *TransferAsset) error {
	if asset.Size > 0 {
		return nil
	}

	if asset.Source.IsLocal() {
		fi, err := os.Stat(asset.Source.LocalPath)
		if err != nil {
			return err
		}
		asset.Size = fi.Size()
		return nil
	}

	if !asset.Source.IsRemote() || len(asset.Source.URLs) == 0 {
		return ErrUnsupportedTarget
	}

	md, err := adapter.HeadMeta(ctx, asset.Source.URLs[0], asset.Headers)
	if err != nil {
		return err
	}
	asset.Size = md.Size
	if asset.ContentType == "" {
		asset.ContentType = md.ContentType
	}
	if !asset.AcceptRanges {
		asset.AcceptRanges = md.AcceptRanges
	}
	return nil
}

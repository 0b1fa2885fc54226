package interfaces

import "context"

// AssetProber checks that an asset exists before a worker is invited to render it
type AssetProber interface {
	// Exists returns model.ErrBucketNameMissing when no bucket is configured
	// and model.ErrAssetNotFound when the object is absent
	Exists(ctx context.Context, assetName string) error
}

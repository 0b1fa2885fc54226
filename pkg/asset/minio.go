package asset

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"vpool/internal/model"
	"vpool/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioProber checks asset existence in an S3 compatible bucket
type MinioProber struct {
	client *minio.Client
	bucket string
}

// NewMinioProber creates a prober. Without an endpoint the prober has no client
// and only the bucket check applies.
func NewMinioProber(cfg config.AssetConfig) (*MinioProber, error) {
	p := &MinioProber{bucket: strings.TrimSpace(cfg.Bucket)}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return p, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	p.client = client
	return p, nil
}

// Exists implements interfaces.AssetProber
func (p *MinioProber) Exists(ctx context.Context, assetName string) error {
	if p.bucket == "" {
		return model.ErrBucketNameMissing
	}
	if p.client == nil {
		return fmt.Errorf("asset store endpoint is not configured")
	}

	_, err := p.client.StatObject(ctx, p.bucket, assetName, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return model.ErrAssetNotFound.WithMessage(fmt.Sprintf("asset %s not found in bucket %s", assetName, p.bucket))
	default:
		return fmt.Errorf("failed to stat asset %s: %w", assetName, err)
	}
}

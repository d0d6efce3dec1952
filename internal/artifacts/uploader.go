// Package artifacts archives evaluator output to S3-compatible object
// storage. Optional: when no backend is configured the service keeps
// results on the local filesystem only.
package artifacts

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/modelforge/scoregate/internal/config"
)

// Uploader copies result artifacts into a MinIO bucket, one object per job.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader connects to the configured MinIO endpoint and makes sure the
// bucket exists.
func NewUploader(ctx context.Context, cfg config.ArtifactsConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// UploadResult stores the job's result artifact under <bucket>/<jobID>/ and
// returns the object URI.
func (u *Uploader) UploadResult(ctx context.Context, jobID, artifactPath string) (string, error) {
	object := path.Join(jobID, path.Base(artifactPath))
	if _, err := u.client.FPutObject(ctx, u.bucket, object, artifactPath,
		minio.PutObjectOptions{ContentType: "text/csv"}); err != nil {
		return "", fmt.Errorf("upload artifact for job %s: %w", jobID, err)
	}
	return fmt.Sprintf("artifact://%s/%s", u.bucket, object), nil
}

package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/mpsflow/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

// NewMinIOUploader connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewMinIOUploader(ctx context.Context, cfg config.MinIOConfig) (Uploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when artifacts.backend=minio")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "mpsflow-artifacts"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", bucket, err)
		}
	}
	return &minioUploader{client: client, bucket: bucket}, nil
}

func (u *minioUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	objectPath = strings.TrimPrefix(objectPath, "/")
	_, err := u.client.PutObject(ctx, u.bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("minio put %s: %w", objectPath, err)
	}
	return objectURL(u.client.EndpointURL(), u.bucket, objectPath), nil
}

func objectURL(endpoint *url.URL, bucket, objectPath string) string {
	u := *endpoint
	u.Path = "/" + bucket + "/" + objectPath
	return u.String()
}

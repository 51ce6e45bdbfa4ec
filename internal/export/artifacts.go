package export

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArtifactStore uploads generated PDFs to S3-compatible object storage and
// hands back presigned download links. It is optional; exports still work
// without it, the response just carries no artifact URL.
type ArtifactStore struct {
	client *minio.Client
	bucket string
}

// NewArtifactStore connects to the object store and ensures the bucket exists.
func NewArtifactStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ArtifactStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Printf("export: created artifact bucket %s", bucket)
	}

	return &ArtifactStore{client: client, bucket: bucket}, nil
}

// Put uploads a PDF under the session's prefix and returns a presigned URL
// valid for 24 hours.
func (s *ArtifactStore) Put(ctx context.Context, sessionID string, result *Result) (string, error) {
	objectName := fmt.Sprintf("%s/%d-%s", sessionID, time.Now().Unix(), result.Filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(result.Data), int64(len(result.Data)),
		minio.PutObjectOptions{ContentType: result.MimeType})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign artifact: %w", err)
	}
	return url.String(), nil
}

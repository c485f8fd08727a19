package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxChartBytes int64 = 2 * 1024 * 1024

// ChartStorage stores rendered chart specifications in MinIO/S3 so the
// frontend can fetch them by URL instead of carrying the payload inline.
type ChartStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewChartStorageFromEnv initialises ChartStorage using MINIO_* environment
// variables. Returns (nil, nil) when the variables are absent so chart
// hand-off degrades gracefully in deployments without object storage.
func NewChartStorageFromEnv() (*ChartStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &ChartStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// UploadSpec stores a chart specification document and returns its public URL.
// The object key is charts/<uuid>.json.
func (s *ChartStorage) UploadSpec(ctx context.Context, payload []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("chart storage not configured")
	}
	if len(payload) == 0 {
		return "", errors.New("chart payload not provided")
	}
	if int64(len(payload)) > maxChartBytes {
		return "", fmt.Errorf("chart payload exceeds %d bytes", maxChartBytes)
	}

	objectName := path.Join("charts", fmt.Sprintf("%s.json", uuid.NewString()))

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	reader := bytes.NewReader(payload)
	_, err := s.client.PutObject(uploadCtx, s.bucket, objectName, reader, int64(len(payload)), minio.PutObjectOptions{
		ContentType:  "application/json",
		CacheControl: "public, max-age=604800",
	})
	if err != nil {
		return "", fmt.Errorf("upload chart: %w", err)
	}

	return s.buildPublicURL(objectName), nil
}

func (s *ChartStorage) buildPublicURL(objectName string) string {
	base := strings.TrimSuffix(s.publicURL, "/")
	object := strings.TrimPrefix(objectName, "/")
	return fmt.Sprintf("%s/%s/%s", base, s.bucket, object)
}

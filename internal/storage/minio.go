package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"

	"resume-intake/internal/config"
	"resume-intake/internal/logger"
)

// MinIO keeps original attachments in a single bucket.
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	log    zerolog.Logger
}

// NewMinIO creates the client, makes sure the bucket exists and installs the
// expiry rule when one is configured.
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, errors.New("minio config is nil")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.Bucket,
		log:    logger.Component("minio"),
	}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	if cfg.ExpireDays > 0 {
		if err := m.setupExpiry(ctx, cfg.ExpireDays); err != nil {
			m.log.Warn().Err(err).Str("bucket", m.bucket).Msg("bucket lifecycle rule not applied")
		}
	}

	m.log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", m.bucket).Msg("minio client ready")
	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		// Another instance may have created it in between.
		if exists, errExists := m.client.BucketExists(ctx, m.bucket); errExists == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.log.Info().Str("bucket", m.bucket).Msg("bucket created")
	return nil
}

func (m *MinIO) setupExpiry(ctx context.Context, days int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "expire-attachments",
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

// PutAttachment stores data under attachments/<key>/<filename> and returns the
// object name.
func (m *MinIO) PutAttachment(ctx context.Context, key, filename string, data []byte) (string, error) {
	objectName := path.Join("attachments", key, filename)
	_, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: ContentType(path.Ext(filename))})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", m.bucket, objectName, err)
	}
	return objectName, nil
}

// GetAttachment reads the object back.
func (m *MinIO) GetAttachment(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", m.bucket, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", m.bucket, objectName, err)
	}
	return data, nil
}

// DeleteAttachment removes the object. Missing objects are not an error.
func (m *MinIO) DeleteAttachment(ctx context.Context, objectName string) error {
	err := m.client.RemoveObject(ctx, m.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove object %s/%s: %w", m.bucket, objectName, err)
	}
	return nil
}

// PresignedURL returns a time-limited download link.
func (m *MinIO) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", m.bucket, objectName, err)
	}
	return u.String(), nil
}

// ContentType maps an attachment extension to its MIME type.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

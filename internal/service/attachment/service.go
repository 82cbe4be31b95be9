package attachment

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"teamspace-backend/internal/config"
	"teamspace-backend/pkg/logger"
)

const (
	uploadExpiry   = 15 * time.Minute
	downloadExpiry = 1 * time.Hour

	// Per-file ceiling; the bytes never pass through this service, so
	// the limit is advisory and enforced at presign time only
	maxAttachmentSize = 100 << 20
)

// ObjectStorage is the subset of the MinIO client the service uses
type ObjectStorage interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Service issues presigned URLs for attachment upload and download.
// Clients talk to object storage directly; messages carry only the
// resulting references.
type Service struct {
	storage ObjectStorage
	bucket  string
}

// NewService connects to MinIO and ensures the bucket exists
func NewService(ctx context.Context, cfg config.MinIOConfig) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	svc := &Service{storage: client, bucket: cfg.Bucket}
	if err := svc.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// NewServiceWithStorage wires an existing storage backend
func NewServiceWithStorage(storage ObjectStorage, bucket string) *Service {
	return &Service{storage: storage, bucket: bucket}
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.storage.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.storage.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created attachment bucket", zap.String("bucket", s.bucket))
	}
	return nil
}

// UploadTicket is everything a client needs to upload one file
type UploadTicket struct {
	UploadURL string    `json:"upload_url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignUpload issues a presigned PUT URL for one attachment. The
// object key namespaces by uploader so keys never collide.
func (s *Service) PresignUpload(ctx context.Context, userID uuid.UUID, filename string, size int64) (*UploadTicket, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if size <= 0 || size > maxAttachmentSize {
		return nil, fmt.Errorf("file size must be between 1 byte and %d bytes", maxAttachmentSize)
	}

	objectKey := path.Join(userID.String(), uuid.NewString(), sanitizeFilename(filename))

	presigned, err := s.storage.PresignedPutObject(ctx, s.bucket, objectKey, uploadExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &UploadTicket{
		UploadURL: presigned.String(),
		ObjectKey: objectKey,
		ExpiresAt: time.Now().UTC().Add(uploadExpiry),
	}, nil
}

// PresignDownload issues a presigned GET URL for a stored attachment
func (s *Service) PresignDownload(ctx context.Context, objectKey, filename string) (string, error) {
	params := make(url.Values)
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeFilename(filename)))
	}

	presigned, err := s.storage.PresignedGetObject(ctx, s.bucket, objectKey, downloadExpiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}

	return presigned.String(), nil
}

// Delete removes a stored attachment
func (s *Service) Delete(ctx context.Context, objectKey string) error {
	if err := s.storage.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

func sanitizeFilename(filename string) string {
	filename = path.Base(filename)
	replacer := strings.NewReplacer(`"`, "", `\`, "", "\n", "", "\r", "")
	return replacer.Replace(filename)
}

package spill

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

const objectPrefix = "spill/"

// S3Store spills uploads to an S3 compatible bucket so API and worker need no shared disk.
type S3Store struct {
	cl     *minio.Client
	bucket string
	logger domain.Logger
}

// NewS3Store connects to the bucket described by cfg.
func NewS3Store(ctx context.Context, cfg config.SpillConfig, logger domain.Logger) (*S3Store, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("spill bucket %s does not exist", cfg.Bucket)
	}
	return &S3Store{cl: cl, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *S3Store) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	key := objectPrefix + uuid.NewString() + path.Ext(name)
	info, err := s.cl.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": path.Base(name)},
	})
	if err != nil {
		return "", domain.NewTransientError("spill put", err)
	}
	s.logger.Debug(ctx, "Upload spilled to bucket", "ref", key, "bytes", info.Size)
	return key, nil
}

func (s *S3Store) Open(ctx context.Context, ref string) (*domain.SpilledFile, error) {
	info, err := s.cl.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewTransientError("spill stat", err)
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.NewTransientError("spill get", err)
	}
	return &domain.SpilledFile{
		Ref:         ref,
		Name:        info.UserMetadata["Original-Name"],
		ContentType: info.ContentType,
		Size:        info.Size,
		Body:        obj,
	}, nil
}

func (s *S3Store) Remove(ctx context.Context, ref string) error {
	// RemoveObject succeeds for keys that do not exist
	if err := s.cl.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return domain.NewTransientError("spill remove", err)
	}
	return nil
}

// New selects the spill backend named by cfg.Driver.
func New(ctx context.Context, cfg config.SpillConfig, logger domain.Logger) (domain.SpillStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, logger)
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown spill driver %q", cfg.Driver)
	}
}

package writers

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// S3Config configures an S3-compatible output.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// CreateBucket creates a missing bucket in Prepare.
	CreateBucket bool `mapstructure:"create_bucket"`

	Bucket string `mapstructure:"-"`
	Prefix string `mapstructure:"-"`
}

// DefaultS3Config returns an S3Config for AWS S3.
func DefaultS3Config() S3Config {
	return S3Config{
		Endpoint: "s3.amazonaws.com",
		Region:   "us-east-1",
		UseSSL:   true,
	}
}

// S3Writer uploads documents as objects.
type S3Writer struct {
	client *minio.Client
	cfg    S3Config
	logger zerolog.Logger

	initOnce sync.Once
	initErr  error
}

// NewS3Writer creates an S3 writer.
func NewS3Writer(cfg S3Config, logger zerolog.Logger) (*S3Writer, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	// Anonymous access unless keys are given.
	creds := credentials.NewStaticV4("", "", "")
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("s3 access key and secret key must be set together")
		}
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Writer{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "s3-writer").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Prepare checks that the bucket exists, creating it when configured to.
func (w *S3Writer) Prepare(ctx context.Context) error {
	w.initOnce.Do(func() {
		exists, err := w.client.BucketExists(ctx, w.cfg.Bucket)
		if err != nil {
			w.initErr = &WriteError{Op: "prepare", Path: w.cfg.Bucket, Err: err, IsTemporary: true}
			return
		}
		if exists {
			return
		}
		if !w.cfg.CreateBucket {
			w.initErr = &WriteError{Op: "prepare", Path: w.cfg.Bucket, Err: fmt.Errorf("bucket does not exist")}
			return
		}
		if err := w.client.MakeBucket(ctx, w.cfg.Bucket, minio.MakeBucketOptions{Region: w.cfg.Region}); err != nil {
			w.initErr = &WriteError{Op: "prepare", Path: w.cfg.Bucket, Err: err}
		}
	})
	return w.initErr
}

// Write uploads data as an object below the prefix.
func (w *S3Writer) Write(ctx context.Context, data []byte, p string) (string, error) {
	key, err := w.objectKey(p)
	if err != nil {
		return "", &WriteError{Op: "write", Path: p, Err: err}
	}

	_, err = w.client.PutObject(ctx, w.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", &WriteError{Op: "write", Path: key, Err: err, IsTemporary: true}
	}

	w.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("object uploaded")

	return "s3://" + w.cfg.Bucket + "/" + key, nil
}

func (w *S3Writer) objectKey(p string) (string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if w.cfg.Prefix == "" {
		return clean, nil
	}
	return path.Join(w.cfg.Prefix, clean), nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Location returns the bucket and prefix as an s3 URL.
func (w *S3Writer) Location() string {
	if w.cfg.Prefix == "" {
		return "s3://" + w.cfg.Bucket
	}
	return "s3://" + w.cfg.Bucket + "/" + w.cfg.Prefix
}

// Close implements Writer.
func (w *S3Writer) Close() error {
	return nil
}

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const keyLayout = "20060102_150405"

// ObjectClient is the part of *s3.Client the uploader uses.
type ObjectClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	// ErrNoBackups is returned by Latest when the bucket holds no backup.
	ErrNoBackups = errors.New("no backups found")
	// ErrNotBackupKey is returned by Download for keys outside the backups.
	ErrNotBackupKey = errors.New("not a backup key")
)

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds a client for S3 or any S3-compatible endpoint (R2,
// MinIO). Empty keys fall back to the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure s3 client: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type S3Uploader struct {
	client ObjectClient
	bucket string
	prefix string
	keep   int
	now    func() time.Time
	logger *zap.Logger
}

type UploaderOption func(*S3Uploader)

// WithKeep sets how many backups Prune leaves; zero keeps everything.
func WithKeep(n int) UploaderOption { return func(u *S3Uploader) { u.keep = n } }

func WithUploadClock(now func() time.Time) UploaderOption {
	return func(u *S3Uploader) { u.now = now }
}

func WithUploadLogger(l *zap.Logger) UploaderOption {
	return func(u *S3Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

func NewS3Uploader(client ObjectClient, bucket, prefix string, opts ...UploaderOption) *S3Uploader {
	u := &S3Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Key returns the object key for a backup taken at t.
func (u *S3Uploader) Key(t time.Time) string {
	name := fmt.Sprintf("backup_%s.zip", t.UTC().Format(keyLayout))
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}

// Upload stores data under a timestamped key and prunes old backups.
// A failed prune is logged; the upload still counts.
func (u *S3Uploader) Upload(ctx context.Context, data []byte) (string, error) {
	key := u.Key(u.now())
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	u.logger.Info("backup uploaded", zap.String("key", key), zap.Int("bytes", len(data)))

	if _, err := u.Prune(ctx); err != nil {
		u.logger.Warn("backup prune failed", zap.Error(err))
	}
	return key, nil
}

// List returns backup keys under the prefix, oldest first.
func (u *S3Uploader) List(ctx context.Context) ([]string, error) {
	prefix := "backup_"
	if u.prefix != "" {
		prefix = u.prefix + "/backup_"
	}
	var keys []string
	p := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".zip") {
				keys = append(keys, *obj.Key)
			}
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(keys)
	return keys, nil
}

// Latest returns the newest backup key.
func (u *S3Uploader) Latest(ctx context.Context) (string, error) {
	keys, err := u.List(ctx)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", ErrNoBackups
	}
	return keys[len(keys)-1], nil
}

// Download fetches one backup. Only keys List would return are accepted.
func (u *S3Uploader) Download(ctx context.Context, key string) ([]byte, error) {
	if !u.owns(key) {
		return nil, fmt.Errorf("download %s: %w", key, ErrNotBackupKey)
	}
	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	u.logger.Info("backup downloaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return data, nil
}

func (u *S3Uploader) owns(key string) bool {
	name := key
	if u.prefix != "" {
		if !strings.HasPrefix(key, u.prefix+"/") {
			return false
		}
		name = strings.TrimPrefix(key, u.prefix+"/")
	}
	return strings.HasPrefix(name, "backup_") && strings.HasSuffix(name, ".zip") && !strings.Contains(name, "/")
}

// Prune deletes all but the newest keep backups and returns the deleted keys.
func (u *S3Uploader) Prune(ctx context.Context) ([]string, error) {
	if u.keep <= 0 {
		return nil, nil
	}
	keys, err := u.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) <= u.keep {
		return nil, nil
	}
	stale := keys[:len(keys)-u.keep]

	ids := make([]types.ObjectIdentifier, 0, len(stale))
	for _, k := range stale {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}
	out, err := u.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(u.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	if out != nil && len(out.Errors) > 0 {
		e := out.Errors[0]
		return nil, errors.New("delete old backups: " + aws.ToString(e.Key) + ": " + aws.ToString(e.Message))
	}
	u.logger.Info("old backups pruned", zap.Int("deleted", len(stale)))
	return stale, nil
}

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// S3API - часть клиента S3, используемая S3Store.
// Запись идет через manager.Uploader: крупные файлы загружаются частями.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store хранит файлы резервных копий в бакете S3
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	partSize int64
	bucket string
	prefix string
	codec  *Codec

	region   string
	endpoint string
	access   string
	secret   string
}

// S3Option настраивает S3Store
type S3Option func(*S3Store)

// WithS3Client задает клиент S3 (для тестов)
func WithS3Client(c S3API) S3Option {
	return func(s *S3Store) { s.client = c }
}

// WithPartSize задает размер части multipart-загрузки (минимум 5 MiB)
func WithPartSize(size int64) S3Option {
	return func(s *S3Store) { s.partSize = size }
}

// WithS3Codec задает кодек файлов
func WithS3Codec(c *Codec) S3Option {
	return func(s *S3Store) { s.codec = c }
}

// WithRegion задает регион
func WithRegion(region string) S3Option {
	return func(s *S3Store) { s.region = region }
}

// WithEndpoint задает адрес S3-совместимого сервера (MinIO); включает path-style
func WithEndpoint(endpoint string) S3Option {
	return func(s *S3Store) { s.endpoint = endpoint }
}

// WithStaticCredentials задает ключи доступа
func WithStaticCredentials(accessKey, secretKey string) S3Option {
	return func(s *S3Store) { s.access, s.secret = accessKey, secretKey }
}

// NewS3Store создает хранилище в бакете bucket под префиксом prefix
func NewS3Store(ctx context.Context, bucket, prefix string, opts ...S3Option) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("backup: S3 bucket name required")
	}
	s := &S3Store{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		codec:  NewCodec(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}
	s.uploader = manager.NewUploader(s.client, func(u *manager.Uploader) {
		if s.partSize >= manager.MinUploadPartSize {
			u.PartSize = s.partSize
		}
	})
	return s, nil
}

func (s *S3Store) connect(ctx context.Context) error {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if s.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(s.region))
	}
	if s.access != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.access, s.secret, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("backup: loading AWS config: %w", err)
	}
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
			o.UsePathStyle = true
		}
	})
	return nil
}

func (s *S3Store) objectKey(key Key) string {
	if s.prefix == "" {
		return key.Path()
	}
	return path.Join(s.prefix, key.Path())
}

func (s *S3Store) Read(ctx context.Context, key Key) (*frame.Frame, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: getting %s from S3: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("backup: reading %s from S3: %w", key, err)
	}
	return s.codec.Decode(key, data)
}

func (s *S3Store) Write(ctx context.Context, key Key, f *frame.Frame) error {
	data, err := s.codec.Encode(key, f)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/xml"),
	})
	if err != nil {
		return fmt.Errorf("backup: putting %s to S3: %w", key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("backup: deleting %s from S3: %w", key, err)
	}
	return nil
}

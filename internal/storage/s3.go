package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/MeKo-Tech/omr/internal/pipeline"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// S3Config addresses an S3 compatible store. Endpoint is set for MinIO and
// similar servers, which also need path-style addressing.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Region          string `mapstructure:"region" yaml:"region" json:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id" json:"-"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" json:"-"`
}

// S3API is the part of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client builds a client from cfg. Without static keys the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ParseS3URL splits "s3://bucket/prefix" into bucket and prefix.
func ParseS3URL(raw string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", raw)
	}
	return bucket, prefix, nil
}

// IsS3URL reports whether s names an S3 location.
func IsS3URL(s string) bool { return strings.HasPrefix(s, "s3://") }

// S3Sink uploads each written batch as one JSON-lines object named
// <prefix>/<run id>/<sequence>.jsonl.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
	runID  string
	seq    atomic.Int64
}

func NewS3Sink(client S3API, bucket, prefix, runID string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, runID: runID}
}

func (s *S3Sink) Name() string { return "s3://" + s.bucket }

func (s *S3Sink) Write(ctx context.Context, results []*pipeline.SheetResult) error {
	if len(results) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := pipeline.WriteJSONLines(&buf, results); err != nil {
		return err
	}
	key := path.Join(s.prefix, s.runID, fmt.Sprintf("%05d.jsonl", s.seq.Add(1)))
	body := buf.Bytes()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/x-ndjson"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }

// S3Source lists and downloads sheet files below a bucket prefix.
type S3Source struct {
	client S3API
	bucket string
	prefix string
	// MaxObjectBytes rejects larger objects; 0 means no limit.
	MaxObjectBytes int64
}

func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// URL returns the s3:// address of key.
func (s *S3Source) URL(key string) string { return "s3://" + s.bucket + "/" + key }

// List returns the keys of supported images and PDFs, sorted.
func (s *S3Source) List(ctx context.Context) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if utils.IsSupportedImage(key) || utils.IsPDF(key) {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ErrObjectTooLarge is returned when an object exceeds MaxObjectBytes.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// Fetch downloads one object.
func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", s.URL(key), err)
	}
	defer func() { _ = out.Body.Close() }()

	var r io.Reader = out.Body
	if s.MaxObjectBytes > 0 {
		r = io.LimitReader(out.Body, s.MaxObjectBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URL(key), err)
	}
	if s.MaxObjectBytes > 0 && int64(len(data)) > s.MaxObjectBytes {
		return nil, fmt.Errorf("%s: %w", s.URL(key), ErrObjectTooLarge)
	}
	return data, nil
}

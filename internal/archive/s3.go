package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Config configures an S3-backed archive sink.
type S3Config struct {
	Bucket          string
	Prefix          string // e.g. "runs/"
	Region          string
	Endpoint        string // non-empty for MinIO or other S3-compatible endpoints
	AccessKeyID     string
	SecretAccessKey string
}

// S3Sink uploads run transcripts to an S3-compatible bucket, grounded on
// the teacher pack's S3LogStore client-construction pattern.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds an S3Sink from cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, errors.Wrap(err, "archive: load aws config")
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads contents to s3://bucket/<prefix><job_id>/<run_id>.log.
func (s *S3Sink) Store(ctx context.Context, jobID string, runID int64, contents []byte) error {
	key := fmt.Sprintf("%s%s/%d.log", s.prefix, jobID, runID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(contents),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return errors.Wrap(err, "archive: put object")
	}
	return nil
}

package texture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrObjectNotFound is returned for a missing bucket or key.
var ErrObjectNotFound = errors.New("texture: object not found")

// S3Options configures the object store client. Empty fields fall back to
// the AWS default credential chain and region resolution.
type S3Options struct {
	Region    string
	Endpoint  string // S3-compatible endpoint, e.g. MinIO; enables path-style addressing
	AccessKey string
	SecretKey string
}

// S3Store reads wallpaper sources from S3.
type S3Store struct {
	client *s3.Client
}

// NewS3Store builds a client from the default AWS configuration plus opts.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("texture: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client}, nil
}

// GetObject implements ObjectGetter.
func (s *S3Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NoSuchBucket", "NotFound":
				return nil, "", fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
			}
		}
		return nil, "", err
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

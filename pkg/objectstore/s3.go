package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 is the production Store, backed by one bucket holding every key
// family (raw, curated, manifests) side by side under their own prefixes.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 constructs an S3-backed Store for the given bucket. region
// selects the AWS region; baseURL, if non-empty, overrides the service
// endpoint (used against a local S3-compatible stub in tests) and forces
// path-style addressing since stub endpoints rarely support virtual-host
// bucket routing.
func NewS3(ctx context.Context, region, bucket, baseURL string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket name required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if baseURL != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(baseURL)
			o.UsePathStyle = true
		})
	}

	return &S3{client: s3.NewFromConfig(awsCfg, opts...), bucket: bucket}, nil
}

func (s *S3) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("objectstore: read body for key %q: %w", key, err)
	}
	return body, true, nil
}

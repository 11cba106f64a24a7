// Package objectstore wraps the S3-compatible client strim-uploader
// pushes HLS output through, grounded on
// original_source/peggy/src/app.rs's App.upload_to_s3.
package objectstore

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config describes the bucket an uploader pushes to. Bucket, Region,
// Endpoint and KeyPrefix mirror pkg/pipeline.StrimTarget; the
// credentials are the values read from the target's secret.
type Config struct {
	Bucket      string
	Region      string
	Endpoint    string
	KeyPrefix   string
	AccessKeyID string
	SecretKey   string
}

// Client uploads objects with the cache-control/ACL policy spec.md's
// upload table requires.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a Client that always uses path-style addressing and, when
// Endpoint is set, sends requests to that base endpoint — the Go equivalent of
// app.rs's S3Builder.endpoint_url + force_path_style(true), needed for
// MinIO and other non-AWS S3-compatible targets.
func New(ctx context.Context, cfg Config) (*Client, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Client{s3: client, bucket: cfg.Bucket, prefix: cfg.KeyPrefix}, nil
}

// Put uploads the file at path under key = prefix + relativeKey, with
// ACL public-read and Content-Type set from contentType. cacheControl
// is set to "no-cache" by the caller for playlists, left empty
// otherwise, exactly as app.rs only disables caching on .m3u8 objects.
func (c *Client) Put(ctx context.Context, relativeKey, path, contentType, cacheControl string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	key := c.prefix + relativeKey
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ACL:         types.ObjectCannedACLPublicRead,
		ContentType: aws.String(contentType),
	}
	if cacheControl != "" {
		input.CacheControl = aws.String(cacheControl)
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return info.Size(), nil
}

// Bucket returns the configured bucket name, used in log lines.
func (c *Client) Bucket() string { return c.bucket }

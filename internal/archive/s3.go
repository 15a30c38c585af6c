// Package archive mirrors completed batches to an upstream Amazon S3 bucket.
//
// Mirroring is optional and best-effort: the local completed directory is
// the canonical copy, and a failed mirror never un-commits a batch. Key
// mapping:
//
//	{prefix}{tenant}/{batch}/{relative path within the batch directory}
//
// Credentials are resolved via the standard AWS credential chain
// (env vars, ~/.aws/credentials, IAM role, etc.), with optional overrides
// for custom endpoint, path-style addressing, and static credentials.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the archiver
// uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Archiver mirrors completed batch directories to an upstream S3 bucket.
type Archiver struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Prefix is the key prefix for all mirrored content.
	Prefix string
	// client is the AWS S3 client (satisfying the S3API interface).
	client S3API
}

// New creates an Archiver targeting the given bucket/region. The AWS SDK
// client uses the default credential chain unless static credentials are
// supplied; endpointURL and usePathStyle support S3-compatible stores.
func New(ctx context.Context, bucket, region, prefix, endpointURL string, usePathStyle bool, accessKeyID, secretAccessKey string) (*Archiver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = usePathStyle
	})

	a := &Archiver{Bucket: bucket, Prefix: prefix, client: client}

	// Fail fast on an unreachable or missing bucket.
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("archive bucket %q: %s: %s", bucket, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return nil, fmt.Errorf("checking archive bucket %q: %w", bucket, err)
	}
	return a, nil
}

// NewWithClient creates an Archiver with an injected client, for tests.
func NewWithClient(bucket, prefix string, client S3API) *Archiver {
	return &Archiver{Bucket: bucket, Prefix: prefix, client: client}
}

// MirrorBatch uploads every file under the completed batch directory dir to
// the upstream bucket under {prefix}{tenant}/{batch}/.
func (a *Archiver) MirrorBatch(ctx context.Context, tenant, batch, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := a.Prefix + path.Join(tenant, batch, filepath.ToSlash(rel))

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("opening %q for mirroring: %w", p, err)
		}
		defer f.Close()

		if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.Bucket),
			Key:    aws.String(key),
			Body:   f,
		}); err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				return fmt.Errorf("mirroring %q: %s: %s", key, apiErr.ErrorCode(), apiErr.ErrorMessage())
			}
			return fmt.Errorf("mirroring %q: %w", key, err)
		}
		slog.Debug("Mirrored batch file", "bucket", a.Bucket, "key", key)
		return nil
	})
}

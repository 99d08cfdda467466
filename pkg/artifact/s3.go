package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// UploadOptions configure the S3-compatible artifact bucket.
type UploadOptions struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Uploader copies artifacts into an S3-compatible bucket and returns
// object URLs, which keeps large videos out of the JSON response body.
type Uploader struct {
	client   *s3.Client
	endpoint string
	bucket   string
	logger   *zap.Logger
}

// NewUploader builds an uploader for the configured bucket. Explicit keys
// take precedence; otherwise the default AWS credential chain applies.
func NewUploader(ctx context.Context, opts UploadOptions, logger *zap.Logger) (*Uploader, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("artifact upload requires endpoint and bucket")
	}

	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	return &Uploader{
		client:   client,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		bucket:   opts.Bucket,
		logger:   logger,
	}, nil
}

// ObjectKey derives the bucket key for one job's artifact.
func ObjectKey(jobID, filename string) string {
	return path.Join("outputs", jobID, filename)
}

// Upload stores the file at filePath under key and returns its URL.
func (u *Uploader) Upload(ctx context.Context, filePath, key string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("upload artifact: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, key)
	u.logger.Info("artifact uploaded", zap.String("key", key), zap.String("url", url))
	return url, nil
}

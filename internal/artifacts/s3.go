package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/tremor/internal/config"
)

// S3Uploader mirrors artifacts into one bucket under a fixed key prefix.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Uploader builds an uploader from the ambient AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg config.ArtifactsConfig, log zerolog.Logger) (*S3Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("s3 bucket not configured")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Uploader{
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		log:      log.With().Str("component", "artifacts").Logger(),
	}, nil
}

// Upload puts one document. The key is joined under the configured prefix.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte) error {
	full := path.Join(u.prefix, key)
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", u.bucket, full, err)
	}
	u.log.Debug().
		Str("bucket", u.bucket).
		Str("key", full).
		Int("bytes", len(body)).
		Msg("artifact uploaded")
	return nil
}

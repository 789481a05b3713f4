package portfolio

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Exporter stores rendered exports and returns their location.
type Exporter interface {
	Export(ctx context.Context, name string, data []byte) (string, error)
}

// S3Config configures an S3-compatible export bucket.
type S3Config struct {
	Bucket          string
	Endpoint        string // empty for AWS; set for R2, MinIO and similar
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Exporter uploads exports to an S3-compatible bucket.
type S3Exporter struct {
	uploader uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Exporter builds a client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Exporter(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Exporter, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("s3 export bucket not configured")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Exporter(manager.NewUploader(client), cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Exporter(u uploader, bucket, prefix string, log zerolog.Logger) *S3Exporter {
	return &S3Exporter{
		uploader: u,
		bucket:   bucket,
		prefix:   prefix,
		log:      log.With().Str("component", "s3_exporter").Logger(),
	}
}

// Export uploads data as <prefix>/<name> and returns its s3:// URI.
func (e *S3Exporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	key := name
	if e.prefix != "" {
		key = path.Join(e.prefix, name)
	}

	start := time.Now()
	_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", e.bucket, key)
	e.log.Info().
		Str("location", location).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Uploaded export")
	return location, nil
}

// ExportName is the object name used for a run's CSV export.
func ExportName(r *Result) string {
	return fmt.Sprintf("factor-portfolio-%s-%s.csv", r.CreatedAt.Format("2006-01-02"), r.RunID)
}

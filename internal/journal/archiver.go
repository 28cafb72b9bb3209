package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pricegov/internal/obs"
)

// ArchiverConfig selects the bucket for closed journal segments.
type ArchiverConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	KeyPrefix string
}

// Archiver uploads closed journal segments to S3. The local segment is kept;
// archival is an extra copy, not retention management.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver builds an S3-backed archiver.
func NewArchiver(ctx context.Context, cfg ArchiverConfig) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: cfg.PathStyle,
					SigningRegion:     cfg.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return &Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.KeyPrefix}, nil
}

// ArchiveSegment uploads one closed segment. Suitable as a Journal.OnRotate
// hook via a closure carrying a context.
func (a *Archiver) ArchiveSegment(ctx context.Context, segmentPath string) error {
	f, err := os.Open(segmentPath)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	key := filepath.Base(segmentPath)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("upload segment %s: %w", key, err)
	}
	obs.Logger.Info("journal segment archived", "segment", segmentPath, "bucket", a.bucket, "key", key)
	return nil
}

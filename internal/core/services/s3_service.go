package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

const checkpointPrefix = "model-checkpoints"

// S3Service mirrors model checkpoints to an S3 bucket.
type S3Service struct {
	client     *s3.Client
	bucketName string
}

func NewS3Service(cfg *config.Config) (*S3Service, error) {
	if cfg.AWS.AccessKeyID == "" || cfg.AWS.SecretAccessKey == "" {
		return nil, fmt.Errorf("missing required AWS credentials")
	}

	if cfg.AWS.Region == "" {
		return nil, fmt.Errorf("AWS region must be specified")
	}

	if cfg.AWS.BucketName == "" {
		return nil, fmt.Errorf("AWS bucket name must be specified")
	}

	creds := credentials.NewStaticCredentialsProvider(
		cfg.AWS.AccessKeyID,
		cfg.AWS.SecretAccessKey,
		"", // Token is intentionally empty for long-term credentials
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWS.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return &S3Service{
		client:     s3.NewFromConfig(awsCfg),
		bucketName: cfg.AWS.BucketName,
	}, nil
}

func (s *S3Service) UploadCheckpoint(ctx context.Context, data []byte, versionID string) (string, error) {
	log := gologger.WithComponent("s3")

	key := path.Join(checkpointPrefix, versionID+".json")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		log.Error().Err(err).
			Str("bucket", s.bucketName).
			Str("key", key).
			Msg("Failed to upload checkpoint to S3")
		return "", fmt.Errorf("failed to upload checkpoint: %w", err)
	}

	locator := fmt.Sprintf("s3://%s/%s", s.bucketName, key)

	log.Info().
		Str("bucket", s.bucketName).
		Str("key", key).
		Int("size", len(data)).
		Msg("Uploaded checkpoint to S3")

	return locator, nil
}

func (s *S3Service) DeleteCheckpoint(ctx context.Context, locator string) error {
	key := strings.TrimPrefix(locator, fmt.Sprintf("s3://%s/", s.bucketName))

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	return nil
}

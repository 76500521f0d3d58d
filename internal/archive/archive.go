// Package archive stores completed-session reports outside the database.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) error
}

type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, string, []byte) error { return nil }

// ReportKey places reports under prefix/family-<id>/session-<id>.json.
func ReportKey(prefix string, familyID, sessionID uint) string {
	return path.Join(prefix, fmt.Sprintf("family-%d", familyID), fmt.Sprintf("session-%d.json", sessionID))
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client putObjectAPI
	bucket string
}

// NewS3Archiver enables path-style addressing when endpoint is set, for MinIO
// and similar.
func NewS3Archiver(ctx context.Context, bucket, region, endpoint string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{client: s3.NewFromConfig(cfg, opts...), bucket: bucket}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

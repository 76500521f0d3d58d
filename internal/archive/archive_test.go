package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestReportKey(t *testing.T) {
	assert.Equal(t, "reports/family-3/session-12.json", ReportKey("reports", 3, 12))
	assert.Equal(t, "family-3/session-12.json", ReportKey("", 3, 12))
}

func TestS3Archiver_Archive(t *testing.T) {
	fake := &fakePutter{}
	a := &S3Archiver{client: fake, bucket: "plans"}

	require.NoError(t, a.Archive(context.Background(), "k.json", []byte(`{"ok":true}`)))
	assert.Equal(t, "plans", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "k.json", aws.ToString(fake.in.Key))
	assert.Equal(t, "application/json", aws.ToString(fake.in.ContentType))
	assert.Equal(t, `{"ok":true}`, string(fake.body))
}

func TestS3Archiver_WrapsError(t *testing.T) {
	boom := errors.New("access denied")
	a := &S3Archiver{client: &fakePutter{err: boom}, bucket: "plans"}

	err := a.Archive(context.Background(), "k.json", nil)
	assert.ErrorIs(t, err, boom)
}

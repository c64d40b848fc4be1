package s3

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

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestPut(t *testing.T) {
	fake := &fakeS3{}
	store := &Store{client: fake, bucket: "cpe-archive"}

	err := store.Put(context.Background(), "cpe/20123456789/R-doc.zip", []byte("zip"), "application/zip")
	require.NoError(t, err)

	assert.Equal(t, "cpe-archive", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "cpe/20123456789/R-doc.zip", aws.ToString(fake.input.Key))
	assert.Equal(t, "application/zip", aws.ToString(fake.input.ContentType))
	assert.Equal(t, []byte("zip"), fake.body)
}

func TestPutError(t *testing.T) {
	store := &Store{client: &fakeS3{err: errors.New("access denied")}, bucket: "cpe-archive"}
	err := store.Put(context.Background(), "k", nil, "application/zip")
	assert.ErrorContains(t, err, "access denied")
}

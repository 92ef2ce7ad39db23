package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if in.Body != nil {
		b, _ := io.ReadAll(in.Body)
		f.body = string(b)
	}
	return &s3.PutObjectOutput{}, f.err
}

func withFakeClient(t *testing.T, f *fakePutter) {
	t.Helper()
	orig := newS3ClientFromConfig
	newS3ClientFromConfig = func(aws.Config, ...func(*s3.Options)) putObjectAPI { return f }
	t.Cleanup(func() { newS3ClientFromConfig = orig })
}

func TestNew_DisabledWithoutBucket(t *testing.T) {
	store, err := New(context.Background(), config.MediaConfig{})
	require.NoError(t, err)
	assert.False(t, store.Enabled())

	_, err = store.Upload(context.Background(), "a.png", "image/png", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestS3Store_Upload(t *testing.T) {
	fake := &fakePutter{}
	withFakeClient(t, fake)

	store, err := New(context.Background(), config.MediaConfig{
		Bucket:    "avatars",
		Region:    "us-east-1",
		AccessKey: "key",
		SecretKey: "secret",
		PublicURL: "https://cdn.test/",
		Folder:    "/api/otakulist/users/",
	})
	require.NoError(t, err)
	require.True(t, store.Enabled())

	avatar, err := store.Upload(context.Background(), "me.png", "image/png", 3, strings.NewReader("png"))
	require.NoError(t, err)

	assert.Equal(t, "avatars", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "image/png", aws.ToString(fake.in.ContentType))
	assert.Equal(t, "png", fake.body)
	assert.True(t, strings.HasPrefix(avatar.PublicID, "api/otakulist/users/"))
	assert.True(t, strings.HasSuffix(avatar.PublicID, ".png"))
	assert.Equal(t, "https://cdn.test/"+avatar.PublicID, avatar.URL)
}

func TestS3Store_RejectsNonImages(t *testing.T) {
	fake := &fakePutter{}
	withFakeClient(t, fake)

	store, err := New(context.Background(), config.MediaConfig{Bucket: "avatars", Region: "us-east-1", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "notes.txt", "text/plain", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.Nil(t, fake.in)
}

func TestS3Store_UploadFailureIsUpstreamUnavailable(t *testing.T) {
	fake := &fakePutter{err: errors.New("connection reset")}
	withFakeClient(t, fake)

	store, err := New(context.Background(), config.MediaConfig{Bucket: "avatars", Region: "us-east-1", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "a.jpg", "image/jpeg", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, apperror.ErrUpstreamUnavailable)
}

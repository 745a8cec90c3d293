package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory stand-in for the S3 API surface the client uses.
type fakeS3 struct {
	buckets map[string]map[string][]byte

	putErr  error
	headErr error
	listErr error
	creates int
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: map[string]map[string][]byte{}}
	for _, b := range buckets {
		f.buckets[b] = map[string][]byte{}
	}
	return f
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	objects, ok := f.buckets[*in.Bucket]
	if !ok {
		return nil, errors.New("api error NoSuchBucket")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	objects, ok := f.buckets[*in.Bucket]
	if !ok {
		return nil, errors.New("api error NoSuchBucket")
	}
	data, ok := objects[*in.Key]
	if !ok {
		return nil, errors.New("api error NoSuchKey: The specified key does not exist")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.buckets[*in.Bucket]; !ok {
		return nil, errors.New("api error NotFound: Not Found")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.creates++
	if _, ok := f.buckets[*in.Bucket]; ok {
		return nil, errors.New("api error BucketAlreadyOwnedByYou")
	}
	f.buckets[*in.Bucket] = map[string][]byte{}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) ListBuckets(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &s3.ListBucketsOutput{}, nil
}

func newTestClient(fake *fakeS3) *Client {
	return &Client{s3: fake, logger: zerolog.Nop()}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000", true))
	assert.Equal(t, "https://s3.example.com", endpointURL("https://s3.example.com", false))
}

func TestUploadCreatesBucket(t *testing.T) {
	fake := newFakeS3()
	c := newTestClient(fake)

	key, err := c.Upload(context.Background(), "proctoring-snapshots", "sess/abc.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "sess/abc.jpg", key)
	assert.Equal(t, []byte("jpeg-bytes"), fake.buckets["proctoring-snapshots"]["sess/abc.jpg"])
	assert.Equal(t, 1, fake.creates)

	// Second upload reuses the existing bucket.
	_, err = c.Upload(context.Background(), "proctoring-snapshots", "sess/def.jpg", []byte("more"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.creates)
}

func TestDownloadNotFound(t *testing.T) {
	fake := newFakeS3("profile-photos")
	fake.buckets["profile-photos"]["student.jpg"] = []byte("ref")
	c := newTestClient(fake)

	data, err := c.Download(context.Background(), "profile-photos", "student.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("ref"), data)

	_, err = c.Download(context.Background(), "profile-photos", "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureBucketTolerantOfRace(t *testing.T) {
	fake := newFakeS3("proctoring-snapshots")
	fake.headErr = errors.New("api error NotFound: Not Found")
	c := newTestClient(fake)

	// Head says missing but the create finds it already owned; both paths
	// end in success.
	assert.NoError(t, c.EnsureBucket(context.Background(), "proctoring-snapshots"))
}

func TestCheck(t *testing.T) {
	fake := newFakeS3()
	c := newTestClient(fake)
	assert.NoError(t, c.Check(context.Background()))

	fake.listErr = errors.New("connection refused")
	assert.Error(t, c.Check(context.Background()))
}

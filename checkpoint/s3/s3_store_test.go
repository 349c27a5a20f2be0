package s3

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedkit/trihard/checkpoint"
)

// fakeS3Client is an in-memory S3 client for testing. Uploads small enough
// for a single part go through PutObject; multipart is not supported.
type fakeS3Client struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: make(map[string][]byte)}
}

func (c *fakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(newByteReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (c *fakeS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &s3.ListObjectsV2Output{}
	for key := range c.objects {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (c *fakeS3Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not supported in test")
}

func (c *fakeS3Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported in test")
}

func (c *fakeS3Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported in test")
}

func (c *fakeS3Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported in test")
}

type byteReader struct {
	data []byte
	off  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func testState(iteration uint64) *checkpoint.State {
	return &checkpoint.State{
		Iteration: iteration,
		RunID:     "run-s3",
		Model:     []byte{1, 2, 3},
		Optimizer: []byte{4},
		Sampler:   []byte{5, 6},
	}
}

func TestStoreSaveAndLatest(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "test-bucket", "experiments/run-s3")

	require.NoError(t, store.Save(ctx, testState(100)))
	require.NoError(t, store.Save(ctx, testState(200)))

	got, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, testState(200), got)

	got, err = store.Load(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, testState(100), got)
}

func TestStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeS3Client(), "test-bucket", "prefix")

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)

	_, err = store.Load(ctx, 7)
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestStoreIterations(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeS3Client(), "test-bucket", "prefix")

	for _, iter := range []uint64{300, 100, 200} {
		require.NoError(t, store.Save(ctx, testState(iter)))
	}

	iterations, err := store.Iterations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300}, iterations)
}

func TestStoreCurrentObject(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "test-bucket", "prefix")

	require.NoError(t, store.Save(ctx, testState(42)))

	client.mu.RLock()
	defer client.mu.RUnlock()
	assert.Equal(t, []byte(checkpoint.FileName(42)), client.objects["prefix/"+checkpoint.CurrentName])
}

// Package minio provides a checkpoint store for MinIO and other
// S3-compatible object storage.
package minio

import (
	"bytes"
	"context"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/embedkit/trihard/checkpoint"
)

// Option configures a Store.
type Option func(*Store)

// WithCompression sets the payload codec. Defaults to zstd.
func WithCompression(c checkpoint.Compression) Option {
	return func(s *Store) {
		s.compression = c
	}
}

// Store implements checkpoint.Store on top of a MinIO bucket.
type Store struct {
	client      *minio.Client
	bucket      string
	prefix      string
	compression checkpoint.Compression
}

// NewStore creates a checkpoint store writing under bucket/rootPrefix.
func NewStore(client *minio.Client, bucket, rootPrefix string, optFns ...Option) *Store {
	s := &Store{
		client:      client,
		bucket:      bucket,
		prefix:      rootPrefix,
		compression: checkpoint.CompressionZstd,
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, state *checkpoint.State) error {
	data, err := checkpoint.EncodeBytes(state, s.compression)
	if err != nil {
		return err
	}

	name := checkpoint.FileName(state.Iteration)
	if err := s.put(ctx, name, data); err != nil {
		return err
	}
	return s.put(ctx, checkpoint.CurrentName, []byte(name))
}

func (s *Store) get(ctx context.Context, name string) (*minio.Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject is lazy: probe so missing keys surface here.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, checkpoint.ErrNoCheckpoint
		}
		return nil, err
	}
	return obj, nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, iteration uint64) (*checkpoint.State, error) {
	obj, err := s.get(ctx, checkpoint.FileName(iteration))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return checkpoint.Decode(obj)
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context) (*checkpoint.State, error) {
	obj, err := s.get(ctx, checkpoint.CurrentName)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(obj)
	obj.Close()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(buf.String())

	data, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer data.Close()

	return checkpoint.Decode(data)
}

// Iterations implements checkpoint.Store.
func (s *Store) Iterations(ctx context.Context) ([]uint64, error) {
	var iterations []uint64

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if iter, ok := checkpoint.ParseFileName(path.Base(obj.Key)); ok {
			iterations = append(iterations, iter)
		}
	}

	sort.Slice(iterations, func(i, j int) bool { return iterations[i] < iterations[j] })
	return iterations, nil
}

func isNotFound(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
}

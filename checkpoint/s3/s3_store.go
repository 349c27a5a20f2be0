// Package s3 provides a checkpoint store backed by Amazon S3.
//
// Checkpoint payloads are uploaded with the transfer manager, the latest
// pointer is published either as a CURRENT object or, when a commit table is
// configured, through a DynamoDB conditional write that gives the
// compare-and-swap semantics S3 lacks.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/embedkit/trihard/checkpoint"
)

// API is the subset of the S3 client the store uses.
type API interface {
	manager.UploadAPIClient

	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Option configures a Store.
type Option func(*Store)

// WithCompression sets the payload codec. Defaults to zstd.
func WithCompression(c checkpoint.Compression) Option {
	return func(s *Store) {
		s.compression = c
	}
}

// WithCommitTable routes latest-pointer updates through a DynamoDB table
// instead of a CURRENT object, allowing concurrent writers to coordinate.
func WithCommitTable(client DDBClient, tableName string) Option {
	return func(s *Store) {
		s.ddbClient = client
		s.tableName = tableName
	}
}

// Store implements checkpoint.Store on top of S3.
type Store struct {
	client      API
	uploader    *manager.Uploader
	bucket      string
	prefix      string
	compression checkpoint.Compression

	ddbClient DDBClient
	tableName string
}

// NewStore creates a checkpoint store writing under s3://bucket/rootPrefix.
func NewStore(client API, bucket, rootPrefix string, optFns ...Option) *Store {
	s := &Store{
		client:      client,
		uploader:    manager.NewUploader(client),
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

func (s *Store) baseURI() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, state *checkpoint.State) error {
	data, err := checkpoint.EncodeBytes(state, s.compression)
	if err != nil {
		return err
	}

	name := checkpoint.FileName(state.Iteration)
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return err
	}

	return s.publish(ctx, name)
}

// publish updates the latest pointer after a successful payload upload.
func (s *Store) publish(ctx context.Context, name string) error {
	if s.ddbClient != nil {
		return s.commitLatest(ctx, name)
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(checkpoint.CurrentName)),
		Body:   strings.NewReader(name),
	})
	return err
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, iteration uint64) (*checkpoint.State, error) {
	return s.get(ctx, checkpoint.FileName(iteration))
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context) (*checkpoint.State, error) {
	name, err := s.latestName(ctx)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, name)
}

func (s *Store) latestName(ctx context.Context) (string, error) {
	if s.ddbClient != nil {
		return s.latestCommitted(ctx)
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(checkpoint.CurrentName)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", checkpoint.ErrNoCheckpoint
		}
		return "", err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

func (s *Store) get(ctx context.Context, name string) (*checkpoint.State, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, checkpoint.ErrNoCheckpoint
		}
		return nil, err
	}
	defer resp.Body.Close()

	return checkpoint.Decode(resp.Body)
}

// Iterations implements checkpoint.Store.
func (s *Store) Iterations(ctx context.Context) ([]uint64, error) {
	var iterations []uint64

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if iter, ok := checkpoint.ParseFileName(path.Base(aws.ToString(obj.Key))); ok {
				iterations = append(iterations, iter)
			}
		}
	}

	sort.Slice(iterations, func(i, j int) bool { return iterations[i] < iterations[j] })
	return iterations, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

// Package objectstore implements backend.Backend over an S3-compatible
// object store. Each backend.Location maps to its own bucket; exists uses
// a HEAD request, list is cap-limited and paginates only as needed, and
// move is copy-then-conditional-delete per spec.md §4.1 and the delete-
// ordering fix mandated by spec.md §9's open question (see move.go).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	repobackend "github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/repoerr"
)

// listPageSize caps each ListObjectsV2 call, per spec.md §4.1 ("e.g. 64
// keys per call").
const listPageSize = 64

// Client is the subset of the AWS SDK v2 S3 client this backend needs,
// narrowed for testability with a fake.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend stores blobs as S3 objects, one bucket per backend.Location.
type Backend struct {
	client  Client
	buckets map[repobackend.Location]string
}

// New returns an object-store backend using client, mapping each Location
// to the bucket name given in buckets.
func New(client Client, buckets map[repobackend.Location]string) *Backend {
	return &Backend{client: client, buckets: buckets}
}

func (b *Backend) bucket(location repobackend.Location) (string, error) {
	name, ok := b.buckets[location]
	if !ok {
		return "", repoerr.New(repoerr.Backend, "no bucket configured for location "+string(location))
	}
	return name, nil
}

func (b *Backend) Exists(ctx context.Context, location repobackend.Location, key string) (bool, error) {
	bucket, err := b.bucket(location)
	if err != nil {
		return false, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, repoerr.Wrap(repoerr.Backend, "objectstore.Exists", err)
	}
	// Treat a delete-marker or zero-length object as non-existent, per spec.md §4.1.
	if out.DeleteMarker != nil && *out.DeleteMarker {
		return false, nil
	}
	if out.ContentLength != nil && *out.ContentLength == 0 {
		return false, nil
	}
	return true, nil
}

func (b *Backend) Read(ctx context.Context, location repobackend.Location, key string) ([]byte, bool, error) {
	bucket, err := b.bucket(location)
	if err != nil {
		return nil, false, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, repoerr.Wrap(repoerr.Backend, "objectstore.Read", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, repoerr.Wrap(repoerr.Backend, "objectstore.Read", err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

func (b *Backend) Write(ctx context.Context, location repobackend.Location, key string, data []byte, immutable bool) error {
	bucket, err := b.bucket(location)
	if err != nil {
		return err
	}
	if immutable {
		exists, err := b.Exists(ctx, location, key)
		if err != nil {
			return err
		}
		if exists {
			return repoerr.New(repoerr.AlreadyExists, key)
		}
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return repoerr.Wrap(repoerr.Backend, "objectstore.Write", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, location repobackend.Location, key string) (bool, error) {
	existed, err := b.Exists(ctx, location, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	bucket, err := b.bucket(location)
	if err != nil {
		return false, err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return false, repoerr.Wrap(repoerr.Backend, "objectstore.Delete", err)
	}
	return true, nil
}

func (b *Backend) List(ctx context.Context, location repobackend.Location, prefix string) ([]string, error) {
	bucket, err := b.bucket(location)
	if err != nil {
		return nil, err
	}
	var keys []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Backend, "objectstore.List", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var nb *types.NotFound
	return errors.As(err, &nb)
}

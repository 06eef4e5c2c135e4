package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	repobackend "github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/repoerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory stand-in for the narrowed S3 Client interface,
// keyed by bucket then object key, mirroring how the containers/image
// lineage's own transport tests fake the wire layer rather than hitting a
// real registry.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]map[string][]byte)}
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket][*in.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	length := int64(len(data))
	return &s3.HeadObjectOutput{ContentLength: &length}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket][*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects[*in.Bucket] == nil {
		f.objects[*in.Bucket] = make(map[string][]byte)
	}
	f.objects[*in.Bucket][*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects[*in.Bucket], *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// CopySource is "<bucket>/<key>"; this fake only ever copies within a
	// single bucket, matching how Move uses it.
	src := *in.CopySource
	bucket := *in.Bucket
	var srcKey string
	for i := len(src) - 1; i >= 0; i-- {
		if src[i] == '/' {
			srcKey = src[i+1:]
			break
		}
	}
	data, ok := f.objects[bucket][srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if f.objects[bucket] == nil {
		f.objects[bucket] = make(map[string][]byte)
	}
	f.objects[bucket][*in.Key] = data
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var contents []types.Object
	prefix := ""
	if in.Prefix != nil {
		prefix = *in.Prefix
	}
	for k := range f.objects[*in.Bucket] {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			key := k
			contents = append(contents, types.Object{Key: &key})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func testBuckets() map[repobackend.Location]string {
	return map[repobackend.Location]string{
		repobackend.Documents: "documents-bucket",
		repobackend.Messages:  "messages-bucket",
	}
}

func TestObjectstoreWriteReadExistsDelete(t *testing.T) {
	ctx := context.Background()
	b := New(newFakeClient(), testBuckets())

	ok, err := b.Exists(ctx, repobackend.Documents, "a/v1.bali")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Write(ctx, repobackend.Documents, "a/v1.bali", []byte("hello"), false))

	ok, err = b.Exists(ctx, repobackend.Documents, "a/v1.bali")
	require.NoError(t, err)
	assert.True(t, ok)

	data, found, err := b.Read(ctx, repobackend.Documents, "a/v1.bali")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", string(data))

	deleted, err := b.Delete(ctx, repobackend.Documents, "a/v1.bali")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestObjectstoreImmutableWriteRejectsSecondWrite(t *testing.T) {
	ctx := context.Background()
	b := New(newFakeClient(), testBuckets())

	require.NoError(t, b.Write(ctx, repobackend.Documents, "a/v1.bali", []byte("first"), true))
	err := b.Write(ctx, repobackend.Documents, "a/v1.bali", []byte("second"), true)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.AlreadyExists))
}

func TestObjectstoreMoveRelocates(t *testing.T) {
	ctx := context.Background()
	b := New(newFakeClient(), testBuckets())

	require.NoError(t, b.Write(ctx, repobackend.Messages, "bag1/available/a", []byte("payload"), true))

	moved, err := b.Move(ctx, repobackend.Messages, "bag1/available/a", "bag1/processing/a")
	require.NoError(t, err)
	assert.True(t, moved)

	_, found, err := b.Read(ctx, repobackend.Messages, "bag1/available/a")
	require.NoError(t, err)
	assert.False(t, found)

	data, found, err := b.Read(ctx, repobackend.Messages, "bag1/processing/a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "payload", string(data))
}

func TestObjectstoreMoveLosesRaceWhenSourceAlreadyDeleted(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	b := New(client, testBuckets())

	require.NoError(t, b.Write(ctx, repobackend.Messages, "bag1/available/a", []byte("payload"), true))

	// Simulate a concurrent winner that has already deleted the source:
	// remove it from the fake store directly before Move is called.
	client.mu.Lock()
	delete(client.objects["messages-bucket"], "bag1/available/a")
	client.mu.Unlock()

	// Move's leading Exists check now also reports absent, so it should
	// decline to copy at all and report moved=false.
	moved, err := b.Move(ctx, repobackend.Messages, "bag1/available/a", "bag1/processing/a")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestObjectstoreListFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	b := New(newFakeClient(), testBuckets())

	require.NoError(t, b.Write(ctx, repobackend.Messages, "bag1/available/a", []byte("a"), true))
	require.NoError(t, b.Write(ctx, repobackend.Messages, "bag1/available/b", []byte("b"), true))
	require.NoError(t, b.Write(ctx, repobackend.Messages, "bag1/processing/c", []byte("c"), true))

	keys, err := b.List(ctx, repobackend.Messages, "bag1/available/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}


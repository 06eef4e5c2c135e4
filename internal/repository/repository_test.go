package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/cache"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/notary"
	"github.com/bali-nebula/document-repository/internal/repoerr"
	"github.com/bali-nebula/document-repository/internal/validated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is the same minimal in-memory fixture used across the storage
// layers' test suites, local to this package to keep each test package
// self-contained.
type memBackend struct {
	mu   sync.Mutex
	data map[backend.Location]map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[backend.Location]map[string][]byte)}
}

func (m *memBackend) Exists(ctx context.Context, location backend.Location, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[location][key]
	return ok, nil
}

func (m *memBackend) Read(ctx context.Context, location backend.Location, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[location][key]
	return v, ok, nil
}

func (m *memBackend) Write(ctx context.Context, location backend.Location, key string, data []byte, immutable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[location] == nil {
		m.data[location] = make(map[string][]byte)
	}
	if immutable {
		if _, ok := m.data[location][key]; ok {
			return repoerr.New(repoerr.AlreadyExists, key)
		}
	}
	m.data[location][key] = data
	return nil
}

func (m *memBackend) Delete(ctx context.Context, location backend.Location, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[location][key]
	delete(m.data[location], key)
	return ok, nil
}

func (m *memBackend) List(ctx context.Context, location backend.Location, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data[location] {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memBackend) Move(ctx context.Context, location backend.Location, srcKey, dstKey string) (bool, error) {
	data, present, err := m.Read(ctx, location, srcKey)
	if err != nil || !present {
		return false, err
	}
	if existed, _ := m.Delete(ctx, location, srcKey); !existed {
		return false, nil
	}
	if err := m.Write(ctx, location, dstKey, data, true); err != nil {
		return false, err
	}
	return true, nil
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	n := notary.NewEd25519NotaryFromSeed(make([]byte, 32))
	store := cache.Wrap(validated.New(newMemBackend(), n), 16)
	return New(store, n)
}

func TestCreateSaveCommitRetrieveDocument(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	doc, err := repo.CreateDocument(ctx, "/bali/types/bag/v1", document.PublicPermissions, nil)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.UnknownType))

	doc = document.Document{
		Tag:         "#doc1",
		Version:     "v1",
		Permissions: document.PublicPermissions,
		Previous:    document.NonePrevious,
		Type:        "/bali/types/example/v1",
		Attributes:  map[string]interface{}{"greeting": "hi"},
	}
	require.NoError(t, repo.SaveDocument(ctx, doc))

	citation, err := repo.CommitDocument(ctx, "/examples/doc1", doc)
	require.NoError(t, err)
	assert.Equal(t, doc.Tag, citation.Tag)

	got, err := repo.RetrieveDocument(ctx, "/examples/doc1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Attributes["greeting"])

	// The draft was discarded on commit.
	_, found, err := repo.store.Read(ctx, backend.Documents, document.DocumentKey(doc.Tag, doc.Version))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCommitDocumentRefusesDuplicateName(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	doc := document.Document{Tag: "#doc1", Version: "v1", Previous: document.NonePrevious, Permissions: document.PublicPermissions}
	_, err := repo.CommitDocument(ctx, "/examples/dup", doc)
	require.NoError(t, err)

	doc2 := document.Document{Tag: "#doc2", Version: "v1", Previous: document.NonePrevious, Permissions: document.PublicPermissions}
	_, err = repo.CommitDocument(ctx, "/examples/dup", doc2)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.NameExists))
}

func TestCheckoutDocumentBumpsVersionAndChainsPrevious(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	doc := document.Document{Tag: "#doc1", Version: "v1", Previous: document.NonePrevious, Permissions: document.PublicPermissions}
	citation, err := repo.CommitDocument(ctx, "/examples/checkout", doc)
	require.NoError(t, err)

	draft, err := repo.CheckoutDocument(ctx, "/examples/checkout", 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", draft.Version)

	previousCitation, err := document.ParseCitation([]byte(draft.Previous))
	require.NoError(t, err)
	assert.Equal(t, citation.Digest, previousCitation.Digest)
}

func TestBagPostReceiveRejectAcceptRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CreateBag(ctx, "/bags/work", 2, 60)
	require.NoError(t, err)

	msg := document.Document{Tag: "#msg1", Version: "v1", Previous: document.NonePrevious}
	_, err = repo.PostMessage(ctx, "/bags/work", msg)
	require.NoError(t, err)

	count, err := repo.MessageCount(ctx, "/bags/work")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	received, present, err := repo.ReceiveMessage(ctx, "/bags/work")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, msg.Tag, received.Tag)

	// Available keyspace is now empty; a second receive finds nothing.
	_, present, err = repo.ReceiveMessage(ctx, "/bags/work")
	require.NoError(t, err)
	assert.False(t, present)

	newCitation, err := repo.RejectMessage(ctx, "/bags/work", received)
	require.NoError(t, err)
	assert.NotEmpty(t, newCitation.Digest)

	requeued, present, err := repo.ReceiveMessage(ctx, "/bags/work")
	require.NoError(t, err)
	require.True(t, present)

	require.NoError(t, repo.AcceptMessage(ctx, "/bags/work", requeued))

	count, err = repo.MessageCount(ctx, "/bags/work")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPostMessageRefusesOverCapacity(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CreateBag(ctx, "/bags/small", 1, 60)
	require.NoError(t, err)

	msg1 := document.Document{Tag: "#msg1", Version: "v1", Previous: document.NonePrevious}
	_, err = repo.PostMessage(ctx, "/bags/small", msg1)
	require.NoError(t, err)

	msg2 := document.Document{Tag: "#msg2", Version: "v1", Previous: document.NonePrevious}
	_, err = repo.PostMessage(ctx, "/bags/small", msg2)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.BagFull))
}

func TestAcceptMessageFailsWithoutLease(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CreateBag(ctx, "/bags/work2", 2, 60)
	require.NoError(t, err)

	msg := document.Document{Tag: "#msg1", Version: "v1", Previous: document.NonePrevious}
	err = repo.AcceptMessage(ctx, "/bags/work2", msg)
	require.Error(t, err)
	assert.True(t, repoerr.Is(err, repoerr.LeaseExpired))
}

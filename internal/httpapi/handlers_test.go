package httpapi

import (
	"bytes"
	"context"
	"encoding/base32"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/cache"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/notary"
	"github.com/bali-nebula/document-repository/internal/repoerr"
	"github.com/bali-nebula/document-repository/internal/repository"
	"github.com/bali-nebula/document-repository/internal/validated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func newTestEngine(t *testing.T) (*Engine, notary.Notary) {
	t.Helper()
	n := notary.NewEd25519NotaryFromSeed(make([]byte, 32))
	store := cache.Wrap(validated.New(newMemBackend(), n), 16)
	repo := repository.New(store, n)
	return NewDefaultEngine(n, store, repo), n
}

func selfSignedCredentials(t *testing.T, n notary.Notary, account string) string {
	t.Helper()
	pubKey, err := notary.PublicKeyAttribute(n)
	require.NoError(t, err)
	cert := document.Document{
		Tag:      "#acct1",
		Version:  "v1",
		Previous: document.NonePrevious,
		Attributes: map[string]interface{}{
			"$publicKey": pubKey,
			"$account":   account,
		},
	}
	contract, err := n.Notarize(cert, nil)
	require.NoError(t, err)
	raw, err := contract.Bytes()
	require.NoError(t, err)
	return base32.StdEncoding.EncodeToString(raw)
}

func TestAnonymousPutToNewDocumentIsUnauthorized(t *testing.T) {
	engine, _ := newTestEngine(t)

	doc := document.Document{Tag: "#doc1", Version: "v1", Previous: document.NonePrevious}
	raw, err := doc.Bytes()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/bali/documents/doc1/v1", bytes.NewReader(raw))
	req.Header.Set("Content-Type", canonicalMediaType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Nebula-Credentials`, rec.Header().Get("WWW-Authenticate"))
}

func TestAuthenticatedPutCreatesThenForbidsOverwriteOfUnownedDocument(t *testing.T) {
	engine, n := newTestEngine(t)
	credentials := selfSignedCredentials(t, n, "acct1")

	doc := document.Document{Tag: "#doc1", Version: "v1", Previous: document.NonePrevious}
	raw, err := doc.Bytes()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/bali/documents/doc1/v1", bytes.NewReader(raw))
	req.Header.Set("Content-Type", canonicalMediaType)
	req.Header.Set(credentialsHeader, credentials)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	// Second PUT with the same credentials: the document carries no
	// $account attribute and is not public, so the resource is not owned
	// by this account and the overwrite is forbidden.
	req2 := httptest.NewRequest(http.MethodPut, "/bali/documents/doc1/v1", bytes.NewReader(raw))
	req2.Header.Set("Content-Type", canonicalMediaType)
	req2.Header.Set(credentialsHeader, credentials)
	rec2 := httptest.NewRecorder()
	engine.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestAnonymousGetOfPublicDocumentSucceeds(t *testing.T) {
	engine, n := newTestEngine(t)
	credentials := selfSignedCredentials(t, n, "acct1")

	doc := document.Document{Tag: "#pub1", Version: "v1", Previous: document.NonePrevious, Permissions: document.PublicPermissions}
	raw, err := doc.Bytes()
	require.NoError(t, err)

	putReq := httptest.NewRequest(http.MethodPut, "/bali/documents/pub1/v1", bytes.NewReader(raw))
	putReq.Header.Set("Content-Type", canonicalMediaType)
	putReq.Header.Set(credentialsHeader, credentials)
	putRec := httptest.NewRecorder()
	engine.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusCreated, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/bali/documents/pub1/v1", nil)
	getRec := httptest.NewRecorder()
	engine.ServeHTTP(getRec, getReq)

	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "public, immutable", getRec.Header().Get("Cache-Control"))
}

func TestAuthenticatedGetOfMutableDocumentIsNoStore(t *testing.T) {
	engine, n := newTestEngine(t)
	credentials := selfSignedCredentials(t, n, "acct1")

	doc := document.Document{Tag: "#draft1", Version: "v1", Previous: document.NonePrevious}
	raw, err := doc.Bytes()
	require.NoError(t, err)

	putReq := httptest.NewRequest(http.MethodPut, "/bali/documents/draft1/v1", bytes.NewReader(raw))
	putReq.Header.Set("Content-Type", canonicalMediaType)
	putReq.Header.Set(credentialsHeader, credentials)
	putRec := httptest.NewRecorder()
	engine.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusCreated, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/bali/documents/draft1/v1", nil)
	getReq.Header.Set(credentialsHeader, credentials)
	getRec := httptest.NewRecorder()
	engine.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "no-store", getRec.Header().Get("Cache-Control"),
		"a mutable draft must never be served as cacheable-immutable")
}

func TestUnknownResourceTypeIsBadRequest(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/bali/unknown/x", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsupportedMethodIsMethodNotAllowed(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/bali/names/example", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

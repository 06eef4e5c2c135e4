// Package repository implements the Document Repository API of spec.md
// §4.4: name/document operations, the bag engine, and event publication,
// composed over a cached+validated backend.
package repository

import (
	"context"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/cache"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/notary"
	"github.com/bali-nebula/document-repository/internal/repoerr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Repository is the higher-level API the HTTP semantics engine and any
// in-process caller use to create, commit, checkout, and retrieve
// documents, and to operate message bags.
type Repository struct {
	store  *cache.Backend
	notary notary.Notary
}

// New returns a Repository over store, using notary for citation and
// signature operations.
func New(store *cache.Backend, n notary.Notary) *Repository {
	return &Repository{store: store, notary: n}
}

// op wraps err with the operation name for context, per spec.md §7: "The
// Document Repository catches errors only to enrich context ... before
// re-raising."
func op(name string, err error) error {
	if err == nil {
		return nil
	}
	if kind, ok := repoerr.KindOf(err); ok {
		return repoerr.Wrap(kind, name, errors.Cause(err))
	}
	return repoerr.Wrap(repoerr.Backend, name, err)
}

// CreateDocument reads the type's template document, fails unknown-type if
// absent, and instantiates a fresh mutable document with a new tag and
// initial version, $previous="none", default attributes from the template
// overridden by overrides.
func (r *Repository) CreateDocument(ctx context.Context, typ string, permissions string, overrides map[string]interface{}) (document.Document, error) {
	templateKey := document.DocumentKey(typ, "template")
	raw, present, err := r.store.Read(ctx, backend.Documents, templateKey)
	if err != nil {
		return document.Document{}, op("CreateDocument", err)
	}
	if !present {
		return document.Document{}, repoerr.New(repoerr.UnknownType, typ)
	}
	template, err := document.ParseDocument(raw)
	if err != nil {
		return document.Document{}, op("CreateDocument", err)
	}

	doc := document.Document{
		Tag:         newTag(),
		Version:     "v1",
		Permissions: permissions,
		Previous:    document.NonePrevious,
		Type:        typ,
		Attributes:  make(map[string]interface{}, len(template.Attributes)+len(overrides)),
	}
	for k, v := range template.Attributes {
		doc.Attributes[k] = v
	}
	for k, v := range overrides {
		doc.Attributes[k] = v
	}
	return doc, nil
}

// SaveDocument persists a mutable document, overwriting any existing draft
// at the same (tag, version).
func (r *Repository) SaveDocument(ctx context.Context, doc document.Document) error {
	raw, err := doc.Bytes()
	if err != nil {
		return op("SaveDocument", err)
	}
	key := document.DocumentKey(doc.Tag, doc.Version)
	if err := r.store.Write(ctx, backend.Documents, key, raw, false); err != nil {
		return op("SaveDocument", err)
	}
	return nil
}

// CommitDocument notarizes doc and writes both the immutable contract and
// the name binding. Refuses with name-exists if name is already bound.
// Commit and name-write are not atomically ordered with respect to each
// other (spec.md §5): a reader may briefly observe a name pointing to a
// not-yet-visible contract and must retry.
func (r *Repository) CommitDocument(ctx context.Context, name string, doc document.Document) (document.Citation, error) {
	if _, found, err := r.store.ReadName(ctx, name); err != nil {
		return document.Citation{}, op("CommitDocument", err)
	} else if found {
		return document.Citation{}, repoerr.New(repoerr.NameExists, name)
	}

	signingCert, err := r.resolveSigner(ctx, doc)
	if err != nil {
		return document.Citation{}, op("CommitDocument", err)
	}
	contract, err := r.notary.Notarize(doc, signingCert)
	if err != nil {
		return document.Citation{}, op("CommitDocument", err)
	}
	citation, err := r.store.WriteContract(ctx, contract)
	if err != nil {
		return document.Citation{}, op("CommitDocument", err)
	}
	if err := r.store.WriteName(ctx, name, citation); err != nil {
		return document.Citation{}, op("CommitDocument", err)
	}

	// The commit transition removes the underlying mutable document from
	// the draft store, per spec.md §3's Contract lifecycle.
	key := document.DocumentKey(doc.Tag, doc.Version)
	if _, err := r.store.Delete(ctx, backend.Documents, key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("CommitDocument: failed to discard draft after commit")
	}

	return citation, nil
}

// resolveSigner determines the signing certificate for doc: nil whenever
// doc carries no $certificate attribute (whatever its type), so the
// contract is notarized as self-signed and validated.WriteContract checks it
// against doc's own $publicKey attribute; otherwise the contract cited by
// doc's $certificate attribute, resolved one hop — mirroring how a registry's
// TLS trust chain is resolved one hop at a time rather than recursively.
func (r *Repository) resolveSigner(ctx context.Context, doc document.Document) (*document.Contract, error) {
	certRef, ok := doc.Attributes["$certificate"].(string)
	if !ok || certRef == "" {
		return nil, nil
	}
	citation, err := document.ParseCitation([]byte(certRef))
	if err != nil {
		return nil, repoerr.Wrap(repoerr.BadRequest, "resolveSigner", err)
	}
	cert, found, err := r.store.ReadContract(ctx, citation)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, repoerr.New(repoerr.Corrupted, "signing certificate not found: "+citation.Key())
	}
	return &cert, nil
}

// CheckoutDocument fetches the current contract by name, bumps its version
// at the given level, and returns a fresh mutable document carrying the
// bumped version and a $previous citation to the prior version.
func (r *Repository) CheckoutDocument(ctx context.Context, name string, level int) (document.Document, error) {
	citation, found, err := r.store.ReadName(ctx, name)
	if err != nil {
		return document.Document{}, op("CheckoutDocument", err)
	}
	if !found {
		return document.Document{}, repoerr.New(repoerr.UnknownName, name)
	}
	contract, found, err := r.store.ReadContract(ctx, citation)
	if err != nil {
		return document.Document{}, op("CheckoutDocument", err)
	}
	if !found {
		return document.Document{}, repoerr.New(repoerr.Corrupted, "name "+name+" points to missing contract")
	}

	nextVersion, err := document.NextVersion(contract.Doc.Version, level)
	if err != nil {
		return document.Document{}, op("CheckoutDocument", err)
	}
	citeBytes, err := citation.Bytes()
	if err != nil {
		return document.Document{}, op("CheckoutDocument", err)
	}

	draft := contract.Doc.Clone()
	draft.Version = nextVersion
	draft.Previous = string(citeBytes)
	return draft, nil
}

// RetrieveDocument resolves id — a name or a citation — to the embedded
// document of its current contract.
func (r *Repository) RetrieveDocument(ctx context.Context, id string) (document.Document, error) {
	citation, err := r.resolveToCitation(ctx, id)
	if err != nil {
		return document.Document{}, err
	}
	contract, found, err := r.store.ReadContract(ctx, citation)
	if err != nil {
		return document.Document{}, op("RetrieveDocument", err)
	}
	if !found {
		return document.Document{}, repoerr.New(repoerr.NotFound, id)
	}
	return contract.Doc, nil
}

// resolveToCitation treats id as a citation if it parses as one; otherwise
// as a name to be resolved through the name binding.
func (r *Repository) resolveToCitation(ctx context.Context, id string) (document.Citation, error) {
	if citation, err := document.ParseCitation([]byte(id)); err == nil && citation.Tag != "" {
		return citation, nil
	}
	citation, found, err := r.store.ReadName(ctx, id)
	if err != nil {
		return document.Citation{}, op("resolveToCitation", err)
	}
	if !found {
		return document.Citation{}, repoerr.New(repoerr.UnknownName, id)
	}
	return citation, nil
}

// DiscardDocument deletes the mutable document at citation's key; a no-op
// if absent.
func (r *Repository) DiscardDocument(ctx context.Context, citation document.Citation) error {
	if _, err := r.store.Delete(ctx, backend.Documents, citation.Key()); err != nil {
		return op("DiscardDocument", err)
	}
	return nil
}

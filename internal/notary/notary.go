// Package notary defines the opaque notarization capability consumed by
// the validated wrapper and the HTTP semantics engine (spec.md §1,
// "Out of scope"). The notary itself — key management, the signature
// algorithm, certificate issuance — is an external collaborator; this
// package specifies only the interface and ships one reference
// implementation sufficient for tests and for bootstrapping a fresh
// deployment.
package notary

import "github.com/bali-nebula/document-repository/internal/document"

// Notary is the capability the rest of the system consumes: cite, notarize,
// verify citation/document correspondence, and validate a contract's
// signature against a signing certificate.
type Notary interface {
	// Cite computes the citation for doc under this notary's protocol.
	Cite(doc document.Document) (document.Citation, error)

	// Notarize signs doc, producing a contract. signingCert is nil for a
	// self-signed certificate document (the bootstrap case).
	Notarize(doc document.Document, signingCert *document.Contract) (document.Contract, error)

	// CitationMatches reports whether citation's digest matches doc.
	CitationMatches(citation document.Citation, doc document.Document) (bool, error)

	// ValidContract reports whether contract's signature verifies against
	// signingCert (which may be contract itself, for the self-signed case).
	ValidContract(contract document.Contract, signingCert document.Contract) (bool, error)

	// Certificate returns the most recent protocol identifier this notary
	// issues citations/signatures under.
	Certificate() string
}

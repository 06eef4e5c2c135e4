// Package document defines the repository's content-addressed data model:
// Document, Citation, Contract, and Name, along with the canonical
// serialization and addressing conventions described in spec.md §3.
//
// The Bali Document Notation parser/serializer itself is an external
// collaborator (out of scope); this package stands in for "canonical
// document text" using JSON canonicalized per RFC 8785 so that two
// independently constructed documents with equal content always produce
// byte-identical bytes and therefore equal digests.
package document

import (
	"bytes"
	"strconv"
	"strings"

	jcs "github.com/cyberphone/json-canonicalization/go/jsoncanonicalizer"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// NonePrevious is the distinguished marker meaning "no previous version".
const NonePrevious = "none"

// PublicPermissions is the well-known permissions tag granting anonymous
// access, matched literally by the HTTP semantics engine's authorize step.
const PublicPermissions = "/bali/permissions/public/v1"

// Document is a mutable working copy: structured content plus the
// parameters every document carries.
type Document struct {
	Tag         string                 `json:"$tag"`
	Version     string                 `json:"$version"`
	Permissions string                 `json:"$permissions,omitempty"`
	Previous    string                 `json:"$previous"`
	Type        string                 `json:"$type,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// Clone returns a deep-enough copy for safe mutation by callers (the
// Attributes map is copied one level deep, matching how the repository
// only ever overrides top-level attribute values).
func (d Document) Clone() Document {
	clone := d
	if d.Attributes != nil {
		clone.Attributes = make(map[string]interface{}, len(d.Attributes))
		for k, v := range d.Attributes {
			clone.Attributes[k] = v
		}
	}
	return clone
}

// Bytes renders the document as canonical UTF-8 text followed by a single
// EOL, the wire/disk form mandated by spec.md §4.1.
func (d Document) Bytes() ([]byte, error) {
	raw, err := marshalJSON(d)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize document")
	}
	return append(canon, '\n'), nil
}

// ParseDocument strips a trailing EOL (readers must tolerate and strip it
// per spec.md §4.1) and decodes canonical bytes into a Document.
func ParseDocument(raw []byte) (Document, error) {
	var d Document
	if err := unmarshalJSON(trimEOL(raw), &d); err != nil {
		return Document{}, errors.Wrap(err, "parse document")
	}
	return d, nil
}

func trimEOL(raw []byte) []byte {
	return bytes.TrimRight(raw, "\n")
}

// Citation is a content-addressed handle: protocol, tag, version, digest.
type Citation struct {
	Protocol string `json:"$protocol"`
	Tag      string `json:"$tag"`
	Version  string `json:"$version"`
	Digest   string `json:"$digest"`
	Type     string `json:"$type"`
}

const citationType = "Citation"

// Cite computes the citation for a document's canonical bytes using the
// given protocol identifier (normally notary.Certificate()). The digest
// algorithm is SHA-256, matching the go-digest default used throughout the
// containers/image lineage this module descends from.
func Cite(protocol string, doc Document) (Citation, error) {
	raw, err := doc.Bytes()
	if err != nil {
		return Citation{}, err
	}
	dig := digest.FromBytes(raw)
	return Citation{
		Protocol: protocol,
		Tag:      doc.Tag,
		Version:  doc.Version,
		Digest:   dig.String(),
		Type:     citationType,
	}, nil
}

// Matches reports whether this citation's digest matches doc's canonical bytes.
func (c Citation) Matches(doc Document) (bool, error) {
	raw, err := doc.Bytes()
	if err != nil {
		return false, err
	}
	return digest.FromBytes(raw).String() == c.Digest, nil
}

// Bytes renders the citation in canonical form for transport/storage.
func (c Citation) Bytes() ([]byte, error) {
	raw, err := marshalJSON(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal citation")
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize citation")
	}
	return append(canon, '\n'), nil
}

// ParseCitation decodes canonical bytes into a Citation.
func ParseCitation(raw []byte) (Citation, error) {
	var c Citation
	if err := unmarshalJSON(trimEOL(raw), &c); err != nil {
		return Citation{}, errors.Wrap(err, "parse citation")
	}
	return c, nil
}

// Key returns the backend key for this citation's document:
// "<tag>/<version>.bali" with any leading "#" stripped from the tag.
func (c Citation) Key() string {
	return DocumentKey(c.Tag, c.Version)
}

// DocumentKey derives the backend key for a (tag, version) pair.
func DocumentKey(tag, version string) string {
	return StripSigil(tag) + "/" + version + ".bali"
}

// StripSigil removes a leading "#" (tag) or "/" (name) sigil before a key
// is formed, per spec.md §3 "Addressing convention".
func StripSigil(s string) string {
	return strings.TrimLeft(s, "#/")
}

// Contract is a notarized document: the embedded document, the citation of
// the signing certificate, the signature, and a timestamp.
type Contract struct {
	Doc             Document `json:"document"`
	CertificateCite string   `json:"$certificate"`
	Signature       string   `json:"$signature"`
	Timestamp       string   `json:"$timestamp"`
}

// Bytes renders the contract in canonical form.
func (c Contract) Bytes() ([]byte, error) {
	raw, err := marshalJSON(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal contract")
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalize contract")
	}
	return append(canon, '\n'), nil
}

// ParseContract decodes canonical bytes into a Contract.
func ParseContract(raw []byte) (Contract, error) {
	var c Contract
	if err := unmarshalJSON(trimEOL(raw), &c); err != nil {
		return Contract{}, errors.Wrap(err, "parse contract")
	}
	return c, nil
}

// SelfSigned reports whether this contract is its own signer (the
// certificate IS the embedded document, terminating the trust DAG).
func (c Contract) SelfSigned() bool {
	return c.CertificateCite == ""
}

// NameKey derives the backend key for a slash-delimited name:
// "<path-without-leading-slash>.bali".
func NameKey(name string) string {
	return StripSigil(name) + ".bali"
}

// BagPrefix derives the key prefix for a bag's message keyspace.
func BagPrefix(tag, version string) string {
	return StripSigil(tag) + "/" + version
}

// NextVersion computes the next version string at the given bump level.
// Level 1 bumps the first dotted component and truncates the rest; level 2
// appends (or bumps) the second component; and so on, matching spec.md
// §4.4.1's semantic-version-like bump. A leading "v" (the convention every
// document carries in its $version attribute) is tolerated and preserved.
func NextVersion(version string, level int) (string, error) {
	if level < 1 {
		return "", errors.Errorf("invalid bump level %d", level)
	}
	prefix := ""
	if strings.HasPrefix(version, "v") {
		prefix = "v"
		version = version[1:]
	}
	parts := strings.Split(version, ".")
	for len(parts) < level {
		parts = append(parts, "0")
	}
	idx := level - 1
	n, err := strconv.Atoi(parts[idx])
	if err != nil {
		return "", errors.Wrapf(err, "non-numeric version component %q", parts[idx])
	}
	parts[idx] = strconv.Itoa(n + 1)
	parts = parts[:level]
	return prefix + strings.Join(parts, "."), nil
}

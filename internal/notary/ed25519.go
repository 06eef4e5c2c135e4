package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/pkg/errors"
)

// protocolV1 is the reference implementation's protocol identifier,
// returned by Certificate() and stamped onto every citation it produces.
const protocolV1 = "/bali/protocols/nebula/v1"

// ed25519Notary is a minimal reference Notary, grounded on the
// Sign/Verify shape of the containers/image signature package's
// SigningMechanism interface but using the standard library's
// crypto/ed25519 package instead of GPG/OpenPGP. It exists so the
// repository is exercisable without an external notary process; production
// deployments are expected to supply their own Notary.
type ed25519Notary struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewEd25519Notary generates a fresh signing key pair and returns a Notary
// backed by it.
func NewEd25519Notary() (Notary, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate ed25519 key")
	}
	return &ed25519Notary{private: priv, public: pub}, nil
}

// NewEd25519NotaryFromSeed constructs a deterministic Notary from a fixed
// 32-byte seed, for tests and reproducible bootstrap runs.
func NewEd25519NotaryFromSeed(seed []byte) Notary {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Notary{private: priv, public: pub}
}

func (n *ed25519Notary) Certificate() string { return protocolV1 }

func (n *ed25519Notary) Cite(doc document.Document) (document.Citation, error) {
	return document.Cite(protocolV1, doc)
}

func (n *ed25519Notary) CitationMatches(citation document.Citation, doc document.Document) (bool, error) {
	return citation.Matches(doc)
}

func (n *ed25519Notary) Notarize(doc document.Document, signingCert *document.Contract) (document.Contract, error) {
	raw, err := doc.Bytes()
	if err != nil {
		return document.Contract{}, err
	}
	sig := ed25519.Sign(n.private, raw)

	contract := document.Contract{
		Doc:       doc,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if signingCert != nil {
		cite, err := n.Cite(signingCert.Doc)
		if err != nil {
			return document.Contract{}, err
		}
		raw, err := cite.Bytes()
		if err != nil {
			return document.Contract{}, err
		}
		contract.CertificateCite = string(raw)
	}
	return contract, nil
}

func (n *ed25519Notary) ValidContract(contract document.Contract, signingCert document.Contract) (bool, error) {
	raw, err := contract.Doc.Bytes()
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(contract.Signature)
	if err != nil {
		return false, errors.Wrap(err, "decode signature")
	}

	pub, err := publicKeyOf(signingCert)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, raw, sig), nil
}

// publicKeyOf extracts the ed25519 public key embedded in a certificate
// document's attributes under "$publicKey" (base64 standard encoding).
func publicKeyOf(cert document.Contract) (ed25519.PublicKey, error) {
	raw, ok := cert.Doc.Attributes["$publicKey"].(string)
	if !ok {
		return nil, errors.New("certificate document has no $publicKey attribute")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode public key")
	}
	return ed25519.PublicKey(key), nil
}

// PublicKeyAttribute renders n's public key for embedding as a certificate
// document's "$publicKey" attribute. It fails for any Notary other than the
// ed25519 reference implementation.
func PublicKeyAttribute(n Notary) (string, error) {
	en, ok := n.(*ed25519Notary)
	if !ok {
		return "", errors.New("not an ed25519 notary")
	}
	return base64.StdEncoding.EncodeToString(en.public), nil
}

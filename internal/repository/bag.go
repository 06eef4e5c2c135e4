package repository

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/repoerr"
)

// receiveRetryLimit bounds receiveMessage's claim-loss retry loop, per
// spec.md §4.4.2 ("a limited retry cap (e.g. 5) prevents starvation loops").
const receiveRetryLimit = 5

const (
	availableSegment = "available"
	processingSegment = "processing"
)

// CreateBag notarizes and commits a bag contract with the given capacity
// and lease (seconds), bound to name.
func (r *Repository) CreateBag(ctx context.Context, name string, capacity int, leaseSeconds int) (document.Citation, error) {
	doc, err := r.CreateDocument(ctx, "/bali/types/bag/v1", document.PublicPermissions, map[string]interface{}{
		"$capacity": float64(capacity),
		"$lease":    float64(leaseSeconds),
	})
	if err != nil {
		// A deployment with no registered bag template still needs to be
		// able to create bags; fall back to a bare document if the
		// template is simply absent, since a bag's shape is fully
		// determined by $capacity/$lease regardless of a template.
		if !repoerr.Is(err, repoerr.UnknownType) {
			return document.Citation{}, op("CreateBag", err)
		}
		doc = document.Document{
			Tag:         newTag(),
			Version:     "v1",
			Permissions: document.PublicPermissions,
			Previous:    document.NonePrevious,
			Type:        "/bali/types/bag/v1",
			Attributes: map[string]interface{}{
				"$capacity": float64(capacity),
				"$lease":    float64(leaseSeconds),
			},
		}
	}
	return r.CommitDocument(ctx, name, doc)
}

// bagParams extracts (capacity, lease) from a bag contract's document.
func bagParams(bag document.Document) (capacity int, leaseSeconds int, err error) {
	c, ok := bag.Attributes["$capacity"].(float64)
	if !ok {
		return 0, 0, repoerr.New(repoerr.BadRequest, "bag document missing $capacity")
	}
	l, ok := bag.Attributes["$lease"].(float64)
	if !ok {
		return 0, 0, repoerr.New(repoerr.BadRequest, "bag document missing $lease")
	}
	return int(c), int(l), nil
}

func (r *Repository) readBag(ctx context.Context, bagName string) (document.Contract, error) {
	citation, found, err := r.store.ReadName(ctx, bagName)
	if err != nil {
		return document.Contract{}, err
	}
	if !found {
		return document.Contract{}, repoerr.New(repoerr.UnknownBag, bagName)
	}
	contract, found, err := r.store.ReadContract(ctx, citation)
	if err != nil {
		return document.Contract{}, err
	}
	if !found {
		return document.Contract{}, repoerr.New(repoerr.UnknownBag, bagName)
	}
	return contract, nil
}

func bagPrefix(bag document.Document) string {
	return document.BagPrefix(bag.Tag, bag.Version)
}

// MessageCount returns the length of the available/ listing for bagName.
// Approximate under concurrent mutation; used only as a capacity hint,
// never for correctness (spec.md §4.4.2).
func (r *Repository) MessageCount(ctx context.Context, bagName string) (int, error) {
	bag, err := r.readBag(ctx, bagName)
	if err != nil {
		return 0, op("MessageCount", err)
	}
	keys, err := r.store.List(ctx, backend.Messages, bagPrefix(bag.Doc)+"/"+availableSegment+"/")
	if err != nil {
		return 0, op("MessageCount", err)
	}
	return len(keys), nil
}

// PostMessage adds msg to the bag named bagName, refusing with bag-full if
// the (advisory) capacity check fails and message-exists if msg's citation
// already occupies either keyspace.
func (r *Repository) PostMessage(ctx context.Context, bagName string, msg document.Document) (document.Citation, error) {
	bag, err := r.readBag(ctx, bagName)
	if err != nil {
		return document.Citation{}, op("PostMessage", err)
	}
	capacity, _, err := bagParams(bag.Doc)
	if err != nil {
		return document.Citation{}, op("PostMessage", err)
	}

	count, err := r.MessageCount(ctx, bagName)
	if err != nil {
		return document.Citation{}, err
	}
	if count >= capacity {
		return document.Citation{}, repoerr.New(repoerr.BagFull, bagName)
	}

	msg = msg.Clone()
	if msg.Attributes == nil {
		msg.Attributes = map[string]interface{}{}
	}
	msg.Attributes["$bag"] = bagName

	citation, err := r.notary.Cite(msg)
	if err != nil {
		return document.Citation{}, op("PostMessage", err)
	}
	prefix := bagPrefix(bag.Doc)
	availableKey := prefix + "/" + availableSegment + "/" + citation.Digest
	processingKey := prefix + "/" + processingSegment + "/" + citation.Digest

	if existsIn, err := r.store.Exists(ctx, backend.Messages, availableKey); err != nil {
		return document.Citation{}, op("PostMessage", err)
	} else if existsIn {
		return document.Citation{}, repoerr.New(repoerr.MessageExists, citation.Digest)
	}
	if existsIn, err := r.store.Exists(ctx, backend.Messages, processingKey); err != nil {
		return document.Citation{}, op("PostMessage", err)
	} else if existsIn {
		return document.Citation{}, repoerr.New(repoerr.MessageExists, citation.Digest)
	}

	raw, err := msg.Bytes()
	if err != nil {
		return document.Citation{}, op("PostMessage", err)
	}
	if err := r.store.Write(ctx, backend.Messages, availableKey, raw, true); err != nil {
		return document.Citation{}, op("PostMessage", err)
	}
	return citation, nil
}

// ReceiveMessage claims one message from bagName's available keyspace at
// random (not FIFO — spec.md §4.4.2) and moves it into processing. Returns
// (zero-value, false, nil) if the bag is empty.
func (r *Repository) ReceiveMessage(ctx context.Context, bagName string) (document.Document, bool, error) {
	bag, err := r.readBag(ctx, bagName)
	if err != nil {
		return document.Document{}, false, op("ReceiveMessage", err)
	}
	prefix := bagPrefix(bag.Doc)
	availablePrefix := prefix + "/" + availableSegment + "/"
	processingPrefix := prefix + "/" + processingSegment + "/"

	for attempt := 0; attempt < receiveRetryLimit; attempt++ {
		keys, err := r.store.List(ctx, backend.Messages, availablePrefix)
		if err != nil {
			return document.Document{}, false, op("ReceiveMessage", err)
		}
		if len(keys) == 0 {
			return document.Document{}, false, nil
		}
		key := keys[rand.Intn(len(keys))]

		raw, present, err := r.store.Read(ctx, backend.Messages, key)
		if err != nil {
			return document.Document{}, false, op("ReceiveMessage", err)
		}
		if !present {
			// A concurrent receiver (or the reaper) raced us between list
			// and read; try again.
			continue
		}
		existed, err := r.store.Delete(ctx, backend.Messages, key)
		if err != nil {
			return document.Document{}, false, op("ReceiveMessage", err)
		}
		if !existed {
			// Another worker won the race for this key; continue the loop.
			continue
		}

		msg, err := document.ParseDocument(raw)
		if err != nil {
			return document.Document{}, false, op("ReceiveMessage", err)
		}

		// Stamp the processing/ copy with the moment the lease began, so the
		// reaper can tell a just-claimed message from a genuinely stranded
		// one. The returned msg stays unstamped: its citation must still
		// match the digest this key was derived from.
		claimed := msg.Clone()
		if claimed.Attributes == nil {
			claimed.Attributes = map[string]interface{}{}
		}
		claimed.Attributes["$claimedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		claimedRaw, err := claimed.Bytes()
		if err != nil {
			return document.Document{}, false, op("ReceiveMessage", err)
		}

		digest := keyDigest(key)
		processingKey := processingPrefix + digest
		if err := r.store.Write(ctx, backend.Messages, processingKey, claimedRaw, true); err != nil {
			return document.Document{}, false, op("ReceiveMessage", err)
		}
		return msg, true, nil
	}
	return document.Document{}, false, repoerr.New(repoerr.Backend, fmt.Sprintf("ReceiveMessage: exceeded %d retries on %s", receiveRetryLimit, bagName))
}

// keyDigest extracts the trailing path segment (the message citation's
// digest) from an available/ or processing/ key.
func keyDigest(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}

// RejectMessage releases msg's lease back to the bag's available keyspace,
// bumping $version to avoid a citation collision with the prior
// incarnation, per spec.md §4.4.2. Fails lease-expired if this worker no
// longer holds the lease.
func (r *Repository) RejectMessage(ctx context.Context, bagName string, msg document.Document) (document.Citation, error) {
	return r.releaseMessage(ctx, bagName, msg)
}

// releaseMessage implements the shared reject/reaper-sweep path: delete
// processing/<cit>, bump $version, re-notarize is not required (messages
// are plain documents, not contracts) and re-post to available/<new-cit>.
func (r *Repository) releaseMessage(ctx context.Context, bagName string, msg document.Document) (document.Citation, error) {
	bag, err := r.readBag(ctx, bagName)
	if err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	prefix := bagPrefix(bag.Doc)

	oldCitation, err := r.notary.Cite(msg)
	if err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	processingKey := prefix + "/" + processingSegment + "/" + oldCitation.Digest
	existed, err := r.store.Delete(ctx, backend.Messages, processingKey)
	if err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	if !existed {
		return document.Citation{}, repoerr.New(repoerr.LeaseExpired, bagName+" "+oldCitation.Digest)
	}

	bumped := msg.Clone()
	nextVersion, err := document.NextVersion(versionOrDefault(msg), 1)
	if err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	bumped.Version = nextVersion

	newCitation, err := r.notary.Cite(bumped)
	if err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	raw, err := bumped.Bytes()
	if err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	availableKey := prefix + "/" + availableSegment + "/" + newCitation.Digest
	if err := r.store.Write(ctx, backend.Messages, availableKey, raw, true); err != nil {
		return document.Citation{}, op("RejectMessage", err)
	}
	return newCitation, nil
}

func versionOrDefault(msg document.Document) string {
	if msg.Version != "" {
		return msg.Version
	}
	return "v1"
}

// AcceptMessage permanently removes msg from bagName's processing
// keyspace. Fails lease-expired if absent.
func (r *Repository) AcceptMessage(ctx context.Context, bagName string, msg document.Document) error {
	bag, err := r.readBag(ctx, bagName)
	if err != nil {
		return op("AcceptMessage", err)
	}
	prefix := bagPrefix(bag.Doc)
	citation, err := r.notary.Cite(msg)
	if err != nil {
		return op("AcceptMessage", err)
	}
	processingKey := prefix + "/" + processingSegment + "/" + citation.Digest
	existed, err := r.store.Delete(ctx, backend.Messages, processingKey)
	if err != nil {
		return op("AcceptMessage", err)
	}
	if !existed {
		return repoerr.New(repoerr.LeaseExpired, bagName+" "+citation.Digest)
	}
	return nil
}

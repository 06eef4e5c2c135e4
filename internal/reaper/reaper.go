// Package reaper implements the lease-expiry sweep spec.md §4.4.2
// describes as an external collaborator. The repository itself is
// stateless about lease timers; this package runs the periodic sweep that
// re-publishes processing/ entries whose $claimedAt timestamp (stamped by
// ReceiveMessage when the lease began) is older than r.lease back to
// available/, bumping their version exactly as RejectMessage does.
//
// Spurious re-publishing of an entry a worker is still legitimately
// holding is tolerable only once the lease has actually elapsed; a worker's
// later accept/reject on a message reclaimed too early would otherwise
// discover lease-expired for no reason.
package reaper

import (
	"context"
	"strings"
	"time"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/repository"
	"github.com/sirupsen/logrus"
)

// Store is the subset of cache.Backend the reaper needs to list and read
// messages directly (it bypasses Repository's message API: it lists the
// whole messages location and picks out its own bag's processing/ entries
// by their $bag attribute).
type Store interface {
	List(ctx context.Context, location backend.Location, prefix string) ([]string, error)
	Read(ctx context.Context, location backend.Location, key string) (data []byte, present bool, err error)
}

// Reaper periodically sweeps one bag's processing/ keyspace for entries
// whose lease has elapsed.
type Reaper struct {
	store    Store
	repo     *repository.Repository
	bagName  string
	lease    time.Duration
	interval time.Duration
}

// New returns a Reaper for bagName, sweeping every interval and treating
// any processing/ entry older than lease as expired.
func New(store Store, repo *repository.Repository, bagName string, lease, interval time.Duration) *Reaper {
	return &Reaper{store: store, repo: repo, bagName: bagName, lease: lease, interval: interval}
}

// Run sweeps on a ticker until ctx is canceled, logging startup/shutdown
// the way a long-lived background worker does elsewhere in this codebase.
func (r *Reaper) Run(ctx context.Context) {
	logrus.WithField("bag", r.bagName).Info("reaper: starting")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("bag", r.bagName).Info("reaper: stopping")
			return
		case <-ticker.C:
			if err := r.sweepOnce(ctx); err != nil {
				logrus.WithError(err).WithField("bag", r.bagName).Warn("reaper: sweep failed")
			}
		}
	}
}

// sweepOnce lists every processing/ entry and reclaims those whose
// $claimedAt timestamp is at least r.lease old. Entries claimed more
// recently than that are left alone: the worker holding them is still
// within its lease window.
func (r *Reaper) sweepOnce(ctx context.Context) error {
	// The bag's message prefix matches the repository's own addressing
	// convention (tag/version), so list via the raw store rather than
	// round-tripping through Repository, which only knows its own
	// worker's messages.
	keys, err := r.store.List(ctx, backend.Messages, "")
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, key := range keys {
		if !strings.Contains(key, "/processing/") {
			continue
		}
		raw, present, err := r.store.Read(ctx, backend.Messages, key)
		if err != nil || !present {
			continue
		}
		msg, err := document.ParseDocument(raw)
		if err != nil {
			logrus.WithField("key", key).WithError(err).Warn("reaper: unreadable message, skipping")
			continue
		}
		bagName, _ := msg.Attributes["$bag"].(string)
		if bagName != r.bagName {
			continue
		}
		claimedAt, ok := msg.Attributes["$claimedAt"].(string)
		if !ok {
			// No claim timestamp recorded; nothing to compare against, so
			// leave it for a future sweep rather than guess.
			continue
		}
		claimedTime, err := time.Parse(time.RFC3339Nano, claimedAt)
		if err != nil {
			logrus.WithField("key", key).WithError(err).Warn("reaper: unparseable claim timestamp, skipping")
			continue
		}
		if now.Sub(claimedTime) < r.lease {
			continue
		}

		// RejectMessage re-derives the processing/ key from msg's own
		// citation, which must match the digest this entry was written
		// under — strip the reaper-only $claimedAt stamp first so the
		// recomputed citation matches the original, unstamped message.
		original := msg.Clone()
		delete(original.Attributes, "$claimedAt")
		if _, err := r.repo.RejectMessage(ctx, r.bagName, original); err != nil {
			// A concurrent accept/reject already resolved this entry;
			// lease-expired here just means we lost the race.
			logrus.WithField("key", key).WithError(err).Debug("reaper: reclaim raced with a worker")
		}
	}
	return nil
}

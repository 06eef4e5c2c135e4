package cache

import (
	"context"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/validated"
)

// Backend wraps a validated.Backend, caching only entities that are
// immutable by contract: contracts (and their embedded documents) and
// name→citation bindings. Messages, drafts, and bag contents are never
// cached (spec.md §4.3).
type Backend struct {
	*validated.Backend
	contracts *FIFO
	names     *FIFO
}

// Wrap wraps inner with a FIFO cache of the given per-namespace capacity
// (cache.DefaultCapacity if capacity <= 0).
func Wrap(inner *validated.Backend, capacity int) *Backend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Backend{
		Backend:   inner,
		contracts: New(capacity),
		names:     New(capacity),
	}
}

func (c *Backend) ReadContract(ctx context.Context, citation document.Citation) (document.Contract, bool, error) {
	key := citation.Key()
	if v, ok := c.contracts.Get(key); ok {
		return v.(document.Contract), true, nil
	}
	contract, found, err := c.Backend.ReadContract(ctx, citation)
	if err != nil || !found {
		return document.Contract{}, found, err
	}
	c.contracts.Put(key, contract)
	return contract, true, nil
}

func (c *Backend) WriteContract(ctx context.Context, contract document.Contract) (document.Citation, error) {
	citation, err := c.Backend.WriteContract(ctx, contract)
	if err != nil {
		return document.Citation{}, err
	}
	c.contracts.Put(citation.Key(), contract)
	return citation, nil
}

func (c *Backend) ReadName(ctx context.Context, name string) (document.Citation, bool, error) {
	if v, ok := c.names.Get(name); ok {
		return v.(document.Citation), true, nil
	}
	citation, found, err := c.Backend.ReadName(ctx, name)
	if err != nil || !found {
		return document.Citation{}, found, err
	}
	c.names.Put(name, citation)
	return citation, true, nil
}

func (c *Backend) WriteName(ctx context.Context, name string, citation document.Citation) error {
	if err := c.Backend.WriteName(ctx, name, citation); err != nil {
		return err
	}
	c.names.Put(name, citation)
	return nil
}

var _ backend.Backend = (*Backend)(nil)

package httpapi

import (
	"github.com/bali-nebula/document-repository/internal/cache"
	"github.com/bali-nebula/document-repository/internal/notary"
	"github.com/bali-nebula/document-repository/internal/repository"
)

// NewDefaultEngine wires the four core resource handlers (names,
// documents, contracts, messages) over store/repo and returns a ready-to-
// serve Engine.
func NewDefaultEngine(n notary.Notary, store *cache.Backend, repo *repository.Repository) *Engine {
	handlers := map[ResourceType]ResourceHandler{
		ResourceNames:     &namesHandler{store: store, repo: repo},
		ResourceDocuments: &documentsHandler{store: store, repo: repo},
		ResourceContracts: &contractsHandler{store: store},
		ResourceMessages:  &messagesHandler{store: store, repo: repo},
	}
	return New(n, handlers)
}

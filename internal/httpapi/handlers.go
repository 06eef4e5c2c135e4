package httpapi

import (
	"strings"

	"github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/cache"
	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/repoerr"
	"github.com/bali-nebula/document-repository/internal/repository"
)

// citationFromPath reconstructs a citation from a /documents/<tag>/<version>
// style resource path plus the Nebula-Digest header, per spec.md §6.
func citationFromPath(ctx *RequestContext) (document.Citation, bool) {
	if len(ctx.ResourcePath) < 2 {
		return document.Citation{}, false
	}
	return document.Citation{
		Tag:     ctx.ResourcePath[0],
		Version: ctx.ResourcePath[1],
		Digest:  ctx.Digest,
	}, true
}

// namesHandler serves the "names" resource class: GET/HEAD resolve a name
// to its citation; PUT binds a new name (append-only).
type namesHandler struct {
	store *cache.Backend
	repo  *repository.Repository
}

func (h *namesHandler) SupportedMethods() []string {
	return []string{"HEAD", "GET", "PUT"}
}

func (h *namesHandler) name(ctx *RequestContext) string {
	return "/" + strings.Join(ctx.ResourcePath, "/")
}

func (h *namesHandler) Mutable(ctx *RequestContext) bool { return false }

func (h *namesHandler) Exists(ctx *RequestContext) (bool, Authority, error) {
	citation, found, err := h.store.ReadName(ctx.Request.Context(), h.name(ctx))
	if err != nil {
		return false, Authority{}, err
	}
	if !found {
		return false, Authority{}, nil
	}
	contract, found, err := h.store.ReadContract(ctx.Request.Context(), citation)
	if err != nil || !found {
		return found, Authority{}, err
	}
	return true, authorityOf(contract), nil
}

func (h *namesHandler) Get(ctx *RequestContext) ([]byte, error) {
	citation, _, err := h.store.ReadName(ctx.Request.Context(), h.name(ctx))
	if err != nil {
		return nil, err
	}
	return citation.Bytes()
}

func (h *namesHandler) Put(ctx *RequestContext) ([]byte, error) {
	citation, err := document.ParseCitation(ctx.Body)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.BadRequest, "namesHandler.Put", err)
	}
	if err := h.store.WriteName(ctx.Request.Context(), h.name(ctx), citation); err != nil {
		return nil, err
	}
	return citation.Bytes()
}

func (h *namesHandler) Post(ctx *RequestContext) ([]byte, error) {
	return nil, repoerr.New(repoerr.BadRequest, "POST not supported on names")
}

func (h *namesHandler) Delete(ctx *RequestContext) ([]byte, error) {
	return nil, repoerr.New(repoerr.BadRequest, "DELETE not supported on names")
}

// documentsHandler serves mutable drafts.
type documentsHandler struct {
	store *cache.Backend
	repo  *repository.Repository
}

func (h *documentsHandler) SupportedMethods() []string {
	return []string{"HEAD", "GET", "PUT", "DELETE"}
}

func (h *documentsHandler) key(ctx *RequestContext) string {
	if len(ctx.ResourcePath) < 2 {
		return ""
	}
	return document.DocumentKey(ctx.ResourcePath[0], ctx.ResourcePath[1])
}

func (h *documentsHandler) Mutable(ctx *RequestContext) bool { return true }

func (h *documentsHandler) Exists(ctx *RequestContext) (bool, Authority, error) {
	raw, found, err := h.store.Read(ctx.Request.Context(), backend.Documents, h.key(ctx))
	if err != nil || !found {
		return found, Authority{}, err
	}
	doc, err := document.ParseDocument(raw)
	if err != nil {
		return true, Authority{}, repoerr.Wrap(repoerr.Corrupted, "documentsHandler.Exists", err)
	}
	return true, Authority{PublicPermission: doc.Permissions == document.PublicPermissions, Account: accountOf(doc)}, nil
}

func (h *documentsHandler) Get(ctx *RequestContext) ([]byte, error) {
	raw, _, err := h.store.Read(ctx.Request.Context(), backend.Documents, h.key(ctx))
	return raw, err
}

func (h *documentsHandler) Put(ctx *RequestContext) ([]byte, error) {
	doc, err := document.ParseDocument(ctx.Body)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.BadRequest, "documentsHandler.Put", err)
	}
	if err := h.repo.SaveDocument(ctx.Request.Context(), doc); err != nil {
		return nil, err
	}
	return ctx.Body, nil
}

func (h *documentsHandler) Post(ctx *RequestContext) ([]byte, error) {
	return nil, repoerr.New(repoerr.BadRequest, "POST not supported on documents")
}

func (h *documentsHandler) Delete(ctx *RequestContext) ([]byte, error) {
	citation, _ := citationFromPath(ctx)
	return nil, h.repo.DiscardDocument(ctx.Request.Context(), citation)
}

// contractsHandler serves immutable notarized contracts.
type contractsHandler struct {
	store *cache.Backend
}

func (h *contractsHandler) SupportedMethods() []string {
	return []string{"HEAD", "GET", "PUT"}
}

func (h *contractsHandler) citation(ctx *RequestContext) (document.Citation, bool) {
	return citationFromPath(ctx)
}

func (h *contractsHandler) Mutable(ctx *RequestContext) bool { return false }

func (h *contractsHandler) Exists(ctx *RequestContext) (bool, Authority, error) {
	citation, ok := h.citation(ctx)
	if !ok {
		return false, Authority{}, repoerr.New(repoerr.BadRequest, "malformed contract path")
	}
	contract, found, err := h.store.ReadContract(ctx.Request.Context(), citation)
	if err != nil || !found {
		return found, Authority{}, err
	}
	return true, authorityOf(contract), nil
}

func (h *contractsHandler) Get(ctx *RequestContext) ([]byte, error) {
	citation, _ := h.citation(ctx)
	contract, _, err := h.store.ReadContract(ctx.Request.Context(), citation)
	if err != nil {
		return nil, err
	}
	return contract.Bytes()
}

func (h *contractsHandler) Put(ctx *RequestContext) ([]byte, error) {
	contract, err := document.ParseContract(ctx.Body)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.BadRequest, "contractsHandler.Put", err)
	}
	citation, err := h.store.WriteContract(ctx.Request.Context(), contract)
	if err != nil {
		return nil, err
	}
	return citation.Bytes()
}

func (h *contractsHandler) Post(ctx *RequestContext) ([]byte, error) {
	return nil, repoerr.New(repoerr.BadRequest, "POST not supported on contracts")
}

func (h *contractsHandler) Delete(ctx *RequestContext) ([]byte, error) {
	return nil, repoerr.New(repoerr.BadRequest, "DELETE not supported on contracts")
}

// messagesHandler serves bag contents: POST enqueues, GET/HEAD peek is not
// part of the message protocol (messages are claimed, not browsed) so GET
// here addresses the *bag* contract itself; DELETE without a sub-citation
// borrows (receive with implicit lease), DELETE with a sub-citation accepts.
type messagesHandler struct {
	store *cache.Backend
	repo  *repository.Repository
}

func (h *messagesHandler) SupportedMethods() []string {
	return []string{"HEAD", "GET", "PUT", "POST", "DELETE"}
}

func (h *messagesHandler) bagName(ctx *RequestContext) string {
	if len(ctx.ResourcePath) == 0 {
		return ""
	}
	return "/" + ctx.ResourcePath[0]
}

func (h *messagesHandler) Mutable(ctx *RequestContext) bool { return true }

func (h *messagesHandler) Exists(ctx *RequestContext) (bool, Authority, error) {
	citation, found, err := h.store.ReadName(ctx.Request.Context(), h.bagName(ctx))
	if err != nil || !found {
		return found, Authority{}, err
	}
	contract, found, err := h.store.ReadContract(ctx.Request.Context(), citation)
	if err != nil || !found {
		return found, Authority{}, err
	}
	return true, authorityOf(contract), nil
}

func (h *messagesHandler) Get(ctx *RequestContext) ([]byte, error) {
	citation, _, err := h.store.ReadName(ctx.Request.Context(), h.bagName(ctx))
	if err != nil {
		return nil, err
	}
	contract, _, err := h.store.ReadContract(ctx.Request.Context(), citation)
	if err != nil {
		return nil, err
	}
	return contract.Bytes()
}

func (h *messagesHandler) Put(ctx *RequestContext) ([]byte, error) {
	return nil, repoerr.New(repoerr.BadRequest, "PUT not supported on messages")
}

func (h *messagesHandler) Post(ctx *RequestContext) ([]byte, error) {
	msg, err := document.ParseDocument(ctx.Body)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.BadRequest, "messagesHandler.Post", err)
	}
	citation, err := h.repo.PostMessage(ctx.Request.Context(), h.bagName(ctx), msg)
	if err != nil {
		return nil, err
	}
	return citation.Bytes()
}

// Delete implements spec.md §4.5's two DELETE semantics for messages:
// without a message sub-citation in the path, borrow (receive with
// implicit lease); with one, accept (hard delete).
func (h *messagesHandler) Delete(ctx *RequestContext) ([]byte, error) {
	bagName := h.bagName(ctx)
	if len(ctx.ResourcePath) >= 2 {
		// Accept: a second path segment selects accept. The message to
		// accept is parsed from the request body; the segment's value and
		// Nebula-Subdigest are not read.
		msg, err := document.ParseDocument(ctx.Body)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.BadRequest, "messagesHandler.Delete", err)
		}
		if err := h.repo.AcceptMessage(ctx.Request.Context(), bagName, msg); err != nil {
			return nil, err
		}
		return nil, nil
	}

	msg, present, err := h.repo.ReceiveMessage(ctx.Request.Context(), bagName)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return msg.Bytes()
}

// authorityOf derives an Authority from a contract's embedded document.
func authorityOf(contract document.Contract) Authority {
	return Authority{
		Account:          accountOf(contract.Doc),
		PublicPermission: contract.Doc.Permissions == document.PublicPermissions,
	}
}

func accountOf(doc document.Document) string {
	if account, ok := doc.Attributes["$account"].(string); ok {
		return account
	}
	return ""
}

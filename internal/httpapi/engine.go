// Package httpapi implements the HTTP semantics engine of spec.md §4.5:
// a uniform mapping from (method, authenticated?, authorized?, exists?,
// mutable?) to a status code, with per-resource-class handlers supplying
// the effectful reads/writes.
package httpapi

import (
	"encoding/base32"
	"io"
	"net/http"
	"strings"

	"github.com/bali-nebula/document-repository/internal/document"
	"github.com/bali-nebula/document-repository/internal/notary"
	"github.com/bali-nebula/document-repository/internal/repoerr"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// canonicalMediaType is the Accept/Content-Type value for the canonical
// document wire format (spec.md §6).
const canonicalMediaType = "application/bali"

// credentialsHeader carries a base-32-encoded notarized credential document.
const credentialsHeader = "Nebula-Credentials"

// digestHeader/subdigestHeader carry citation-digest hints used to
// reconstruct the target citation from the request path (spec.md §6).
const (
	digestHeader    = "Nebula-Digest"
	subdigestHeader = "Nebula-Subdigest"
)

// ResourceType enumerates the four core resource classes, plus the
// optional read-only statics class a deployment may add.
type ResourceType string

const (
	ResourceNames     ResourceType = "names"
	ResourceDocuments ResourceType = "documents"
	ResourceContracts ResourceType = "contracts"
	ResourceMessages  ResourceType = "messages"
	ResourceStatics   ResourceType = "statics"
)

// Authority describes what governs access to a resource instance, as
// resolved by a ResourceHandler — spec.md §4.5 step 4's three grounds.
type Authority struct {
	// IsCitation is true when the resource is addressed by a citation
	// (citations are intrinsically public, spec.md §4.5 step 4(a)).
	IsCitation bool
	// Account is the resource's owning account, compared against the
	// authenticated caller's account (spec.md §4.5 step 4(b)).
	Account string
	// PublicPermission is true when the resource carries
	// document.PublicPermissions (spec.md §4.5 step 4(c)).
	PublicPermission bool
}

// ResourceHandler supplies the effectful operations for one resource
// class. Exists/Authority are read-only probes used during Decide; Get/
// Put/Post/Delete are only invoked after a status has been chosen
// (spec.md §4.5 step 6, "Effect").
type ResourceHandler interface {
	// SupportedMethods lists the methods this resource class accepts.
	SupportedMethods() []string
	// Mutable reports whether the addressed resource instance, if it
	// exists, is a mutable draft (true) or an immutable artifact (false).
	Mutable(ctx *RequestContext) bool
	// Exists reports whether the addressed resource instance is present,
	// and its Authority if so.
	Exists(ctx *RequestContext) (bool, Authority, error)
	// Get returns the resource's canonical bytes.
	Get(ctx *RequestContext) ([]byte, error)
	// Put creates or overwrites the resource from ctx.Body, returning the
	// response body. The names and contracts handlers return the resulting
	// citation's canonical bytes; the documents handler returns the saved
	// document's bytes as received, not a citation.
	Put(ctx *RequestContext) ([]byte, error)
	// Post appends/enqueues using ctx.Body, returning the resulting
	// citation's canonical bytes.
	Post(ctx *RequestContext) ([]byte, error)
	// Delete removes the resource, returning any body the method
	// prescribes (e.g. a borrowed message).
	Delete(ctx *RequestContext) ([]byte, error)
}

// RequestContext carries the decoded request through Decode→Route→
// Authenticate→Authorize→Decide→Effect.
type RequestContext struct {
	Request       *http.Request
	ResourceType  ResourceType
	ResourcePath  []string
	Body          []byte
	Digest        string
	Subdigest     string
	Authenticated bool
	Account       string
	// Mutable reports whether the addressed resource, if it exists, is a
	// mutable draft rather than an immutable artifact. Set by serve() once
	// the handler has been consulted, and consumed by writeCacheControl.
	Mutable bool
}

// Engine is the HTTP semantics engine: it owns the notary used to verify
// credentials and the per-resource handlers that perform effects.
type Engine struct {
	notary   notary.Notary
	handlers map[ResourceType]ResourceHandler
	router   *mux.Router
}

// New returns an Engine with the given handlers registered, wiring gorilla/mux
// for path routing the way spec.md §6 lays out
// "/<service>/<type>/<resource-path>".
func New(n notary.Notary, handlers map[ResourceType]ResourceHandler) *Engine {
	e := &Engine{notary: n, handlers: handlers, router: mux.NewRouter()}
	e.router.PathPrefix("/{service}/{type}/{rest:.*}").HandlerFunc(e.serve)
	e.router.Path("/{service}/{type}").HandlerFunc(e.serve)
	return e
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.router.ServeHTTP(w, r)
}

func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resourceType := ResourceType(vars["type"])
	handler, ok := e.handlers[resourceType]
	if !ok {
		writeError(w, http.StatusBadRequest, repoerr.BadRequest, "unknown resource type "+string(resourceType))
		return
	}
	if !methodAllowed(handler, r.Method) {
		w.Header().Set("Allow", strings.Join(handler.SupportedMethods(), ", "))
		writeError(w, http.StatusMethodNotAllowed, repoerr.BadRequest, "method not allowed for "+string(resourceType))
		return
	}

	ctx, err := e.decode(r, resourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, repoerr.BadRequest, err.Error())
		return
	}

	if err := e.authenticate(ctx); err != nil {
		logrus.WithError(err).Debug("httpapi: credential validation failed, treating as anonymous")
	}

	exists, authority, err := handler.Exists(ctx)
	if err != nil {
		writeError(w, http.StatusConflict, repoerr.Backend, err.Error())
		return
	}
	authorized := authorize(ctx, authority)
	mutable := handler.Mutable(ctx)
	ctx.Mutable = mutable

	status := decide(r.Method, ctx.Authenticated, exists, authorized, mutable)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Nebula-Credentials`)
	}

	e.effect(w, ctx, handler, status)
}

func methodAllowed(h ResourceHandler, method string) bool {
	for _, m := range h.SupportedMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// decode extracts method/path/credentials/digests/body per spec.md §4.5 step 1.
func (e *Engine) decode(r *http.Request, resourceType ResourceType) (*RequestContext, error) {
	vars := mux.Vars(r)
	var resourcePath []string
	if rest, ok := vars["rest"]; ok && rest != "" {
		resourcePath = strings.Split(strings.Trim(rest, "/"), "/")
	} else {
		full := strings.TrimPrefix(r.URL.Path, "/")
		parts := strings.Split(full, "/")
		if len(parts) > 2 {
			resourcePath = parts[2:]
		}
	}

	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		body = data
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, canonicalMediaType) && len(body) > 0 {
		return nil, errors.Errorf("unsupported content-type %q", ct)
	}

	ctx := &RequestContext{
		Request:      r,
		ResourceType: resourceType,
		ResourcePath: resourcePath,
		Body:         body,
		Digest:       r.Header.Get(digestHeader),
		Subdigest:    r.Header.Get(subdigestHeader),
	}
	return ctx, nil
}

// authenticate resolves credentials if present (spec.md §4.5 step 3). A
// missing or invalid credentials header leaves the request anonymous
// rather than failing outright; whether that matters is decided later by
// Decide.
func (e *Engine) authenticate(ctx *RequestContext) error {
	header := ctx.Request.Header.Get(credentialsHeader)
	if header == "" {
		return nil
	}
	raw, err := base32.StdEncoding.DecodeString(header)
	if err != nil {
		return errors.Wrap(err, "decode credentials header")
	}
	credentials, err := document.ParseContract(raw)
	if err != nil {
		return errors.Wrap(err, "parse credentials")
	}

	signingCert := credentials
	if !credentials.SelfSigned() {
		// A full deployment resolves $certificate from the contract
		// store; the engine itself only handles the self-signed
		// bootstrap case (the certificate is present in the request
		// body), matching spec.md §4.5 step 3's explicit carve-out.
		if len(ctx.Body) > 0 {
			bodyCert, err := document.ParseContract(ctx.Body)
			if err == nil {
				signingCert = bodyCert
			}
		}
	}

	valid, err := e.notary.ValidContract(credentials, signingCert)
	if err != nil || !valid {
		return errors.New("invalid credentials")
	}
	account, _ := credentials.Doc.Attributes["$account"].(string)
	ctx.Authenticated = true
	ctx.Account = account
	return nil
}

// authorize implements spec.md §4.5 step 4.
func authorize(ctx *RequestContext, authority Authority) bool {
	if authority.IsCitation {
		return true
	}
	if ctx.Authenticated && authority.Account != "" && authority.Account == ctx.Account {
		return true
	}
	if authority.PublicPermission {
		return true
	}
	return false
}

// decide implements the method matrix of spec.md §4.5 step 5.
func decide(method string, authenticated, exists, authorized, mutable bool) int {
	if !authenticated {
		if !exists {
			return http.StatusUnauthorized
		}
		if !authorized {
			// Anonymous and not publicly permitted: do not distinguish
			// from "does not exist" to avoid leaking existence to an
			// unauthenticated caller.
			return http.StatusUnauthorized
		}
		switch method {
		case http.MethodHead, http.MethodGet:
			return http.StatusOK
		default:
			return http.StatusUnauthorized
		}
	}

	if !exists {
		switch method {
		case http.MethodPut:
			return http.StatusCreated
		default:
			return http.StatusNotFound
		}
	}

	if !authorized {
		return http.StatusForbidden
	}

	if mutable {
		switch method {
		case http.MethodHead, http.MethodGet:
			return http.StatusOK
		case http.MethodPut:
			return http.StatusOK
		case http.MethodPost:
			return http.StatusCreated
		case http.MethodDelete:
			return http.StatusOK
		}
	} else {
		switch method {
		case http.MethodHead, http.MethodGet:
			return http.StatusOK
		case http.MethodPut:
			return http.StatusConflict
		case http.MethodPost:
			return http.StatusCreated
		case http.MethodDelete:
			return http.StatusOK
		}
	}
	return http.StatusBadRequest
}

// effect performs the write/delete (spec.md §4.5 step 6) only after status
// has been chosen, and writes the response.
func (e *Engine) effect(w http.ResponseWriter, ctx *RequestContext, handler ResourceHandler, status int) {
	var body []byte
	var err error

	switch {
	case status == http.StatusUnauthorized:
		// no effect
	case status == http.StatusForbidden, status == http.StatusNotFound:
		// no effect
	case ctx.Request.Method == http.MethodPut && (status == http.StatusCreated || status == http.StatusOK):
		body, err = handler.Put(ctx)
	case ctx.Request.Method == http.MethodPost && status == http.StatusCreated:
		body, err = handler.Post(ctx)
	case ctx.Request.Method == http.MethodDelete && status == http.StatusOK:
		body, err = handler.Delete(ctx)
	case ctx.Request.Method == http.MethodGet && status == http.StatusOK:
		body, err = handler.Get(ctx)
	case ctx.Request.Method == http.MethodHead && status == http.StatusOK:
		_, err = handler.Get(ctx)
		body = nil
	case status == http.StatusConflict:
		// PUT against an existing immutable resource: no effect, 409 as-is.
	}

	if err != nil {
		kind, _ := repoerr.KindOf(err)
		writeStatus := http.StatusConflict
		if ctx.Request.Method == http.MethodGet || ctx.Request.Method == http.MethodHead {
			writeStatus = http.StatusBadRequest
		}
		writeError(w, writeStatus, kind, err.Error())
		return
	}

	writeCacheControl(w, ctx, status)
	w.Header().Set("Content-Type", canonicalMediaType)
	w.WriteHeader(status)
	if ctx.Request.Method != http.MethodHead {
		w.Write(body)
	}
}

// writeCacheControl implements spec.md §4.5's cache-control rules:
// "no-store" for anything but a successful GET/HEAD; "public, immutable"
// for a successful read by an anonymous caller (possible only via the
// public-permission path or a citation address), whether or not the
// resource is mutable; "no-store" for an authenticated read of a mutable
// resource; and "private, immutable" for an authenticated read of an
// immutable one.
func writeCacheControl(w http.ResponseWriter, ctx *RequestContext, status int) {
	isRead := ctx.Request.Method == http.MethodGet || ctx.Request.Method == http.MethodHead
	if !isRead || status != http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
		return
	}
	if !ctx.Authenticated {
		w.Header().Set("Cache-Control", "public, immutable")
		return
	}
	if ctx.Mutable {
		w.Header().Set("Cache-Control", "no-store")
		return
	}
	w.Header().Set("Cache-Control", "private, immutable")
}

// errorDocument is the canonical-document body shape every error response
// carries, per spec.md §7: a human-meaningful message and a machine-readable
// $exception tag.
type errorDocument struct {
	Exception string `json:"$exception"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind repoerr.Kind, message string) {
	w.Header().Set("Content-Type", canonicalMediaType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	raw, _ := marshalError(errorDocument{Exception: string(kind), Message: message})
	w.Write(raw)
}

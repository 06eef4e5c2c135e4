// Package repoerr defines the machine-readable error kinds shared by every
// layer of the repository: backend, validated wrapper, cache, repository
// API, and the HTTP semantics engine. Kinds are a closed tagged enumeration,
// not an inheritance hierarchy — callers compare with KindOf(err) and switch.
package repoerr

import (
	"github.com/pkg/errors"
)

// Kind is the machine-readable `$exception` tag carried by every repository error.
type Kind string

const (
	NotFound          Kind = "not-found"
	AlreadyExists     Kind = "already-exists"
	Corrupted         Kind = "corrupted"
	UnknownType       Kind = "unknown-type"
	UnknownName       Kind = "unknown-name"
	UnknownBag        Kind = "unknown-bag"
	BagFull           Kind = "bag-full"
	MessageExists     Kind = "message-exists"
	LeaseExpired      Kind = "lease-expired"
	Unauthenticated   Kind = "unauthenticated"
	Unauthorized      Kind = "unauthorized"
	BadRequest        Kind = "bad-request"
	Backend           Kind = "backend"
	InvalidSignature  Kind = "invalid-signature"
	NameExists        Kind = "name-exists"
)

// Error is a repository error carrying a machine-readable kind plus a
// human-meaningful message and operation context.
type Error struct {
	kind      Kind
	operation string
	cause     error
}

func (e *Error) Error() string {
	if e.operation != "" {
		return e.operation + ": " + string(e.kind) + ": " + e.cause.Error()
	}
	return string(e.kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports this error's machine-readable tag.
func (e *Error) Kind() Kind { return e.kind }

// New creates a repository error of the given kind, wrapping a plain message.
func New(kind Kind, message string) error {
	return &Error{kind: kind, cause: errors.New(message)}
}

// Wrap attaches a kind and an operation name to an underlying error,
// preserving the original as the error chain's cause.
func Wrap(kind Kind, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, operation: operation, cause: errors.WithStack(cause)}
}

// KindOf extracts the Kind from err, walking the Unwrap chain. Returns
// ("", false) if no repoerr.Error is found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideAnonymousAccess(t *testing.T) {
	// Anonymous + exists + authorized (public) + GET → OK.
	assert.Equal(t, http.StatusOK, decide(http.MethodGet, false, true, true, false))
	// Anonymous + exists + authorized + mutating verb → still unauthenticated.
	assert.Equal(t, http.StatusUnauthorized, decide(http.MethodPut, false, true, true, true))
	// Anonymous + not authorized → unauthorized, regardless of existence.
	assert.Equal(t, http.StatusUnauthorized, decide(http.MethodGet, false, true, false, false))
	assert.Equal(t, http.StatusUnauthorized, decide(http.MethodGet, false, false, false, false))
}

func TestDecideAuthenticatedCreateAndNotFound(t *testing.T) {
	assert.Equal(t, http.StatusCreated, decide(http.MethodPut, true, false, true, true))
	assert.Equal(t, http.StatusNotFound, decide(http.MethodGet, true, false, true, true))
	assert.Equal(t, http.StatusNotFound, decide(http.MethodDelete, true, false, true, true))
}

func TestDecideAuthenticatedForbidden(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, decide(http.MethodGet, true, true, false, true))
	assert.Equal(t, http.StatusForbidden, decide(http.MethodPut, true, true, false, false))
}

func TestDecideMutableVsImmutablePut(t *testing.T) {
	// Existing mutable resource: PUT overwrites (OK).
	assert.Equal(t, http.StatusOK, decide(http.MethodPut, true, true, true, true))
	// Existing immutable resource: PUT conflicts.
	assert.Equal(t, http.StatusConflict, decide(http.MethodPut, true, true, true, false))
}

func TestDecidePostAlwaysCreatesWhenAuthorized(t *testing.T) {
	assert.Equal(t, http.StatusCreated, decide(http.MethodPost, true, true, true, true))
	assert.Equal(t, http.StatusCreated, decide(http.MethodPost, true, true, true, false))
}

func TestDecideDeleteExistingResource(t *testing.T) {
	assert.Equal(t, http.StatusOK, decide(http.MethodDelete, true, true, true, true))
	assert.Equal(t, http.StatusOK, decide(http.MethodDelete, true, true, true, false))
}

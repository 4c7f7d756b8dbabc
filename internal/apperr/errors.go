// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a page's record list changed since the caller last
	// read it.
	ErrConflict = errors.New("conflict")
)

// Highlight failure taxonomy. Every failure is local to the single
// highlight or record being processed.
var (
	// ErrAddressing means a selection boundary is not a text node the
	// indexer can find.
	ErrAddressing = errors.New("addressing failure")
	// ErrReconstruction means a stored position no longer resolves against
	// the current document.
	ErrReconstruction = errors.New("reconstruction failure")
	// ErrPersistence means the highlight store rejected a load or save.
	ErrPersistence = errors.New("persistence failure")
	// ErrUnsupportedRangeShape means the range's common ancestor is neither
	// a text node nor a node with children.
	ErrUnsupportedRangeShape = errors.New("unsupported range shape")
	// ErrInvalidMessage means a message failed validation at the boundary.
	ErrInvalidMessage = errors.New("invalid message")
)

package crawler

import "errors"

var (
	// ErrInvalidInput marks malformed caller input (HTTP 400).
	ErrInvalidInput = errors.New("invalid input")
	// ErrFetch marks render timeouts, navigation and network errors.
	ErrFetch = errors.New("fetch failed")
	// ErrDuplicateContent reports a unique violation on the content hash.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrDuplicateURL reports a unique violation on the page URL.
	ErrDuplicateURL = errors.New("duplicate url")
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStore wraps storage failures other than expected uniqueness conflicts.
	ErrStore = errors.New("store failure")
	// ErrQueueFull is returned when the manual index queue has no capacity.
	ErrQueueFull = errors.New("index queue full")
)

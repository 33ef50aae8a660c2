package hub

import "errors"

// Sentinel errors for the taxonomy in §7. registry.ErrConflict and
// registry.ErrNotFound cover the registry-local half; these cover
// hub-level outcomes that are not carried as a Response status.
var (
	// ErrShuttingDown is returned when new work (registration, subscribe,
	// interceptor registration) is submitted to a Draining or Stopped hub.
	// Publish has no error result; such a hub drops the publish instead.
	ErrShuttingDown = errors.New("hub: shutting down")
	// ErrAlreadyStarted is returned by Start on a hub that isn't Uninitialized.
	ErrAlreadyStarted = errors.New("hub: already started")
)

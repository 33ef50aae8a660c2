// Package registry implements the per-hub path→handler table described in
// §3 (Registry entry) and §4.1 (register_api/deregister_api).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hubmesh/hub/wire"
)

// ErrConflict is returned by Register when path already exists at this hub.
var ErrConflict = errors.New("registry: conflict")

// ErrNotFound is returned by operations that reference a missing path.
var ErrNotFound = errors.New("registry: not found")

// HandlerFunc invokes a locally registered endpoint. Returning a Response
// with Status other than StatusSuccess (typically StatusError) is how a
// handler reports HandlerError; the hub never rewrites that status.
type HandlerFunc func(ctx context.Context, req *wire.Request) *wire.Response

// Entry is one registered endpoint. A handler descriptor that names a
// remote client is a weak reference: the registry does not extend that
// client's lifetime, it only remembers its ID for the owning hub to
// resolve through its client table.
type Entry struct {
	Path           string
	Handler        HandlerFunc // nil for remote entries
	RemoteClientID string      // set when Handler is nil
	Metadata       wire.Metadata
	OwnerClientID  string

	// ParentUnsynced is true until the registration notice for this entry
	// has been successfully propagated to the parent hub. Propagation
	// failure never fails Register itself (§4.1).
	ParentUnsynced bool
}

// IsRemote reports whether e names a remote client rather than a local
// handler.
func (e *Entry) IsRemote() bool {
	return e.Handler == nil
}

// Invokable reports whether e has something to actually call: a local
// handler or a remote client. An entry with neither (registered purely to
// carry a fallback metadata key, per §4.1 step 4) is not invokable.
func (e *Entry) Invokable() bool {
	return e.Handler != nil || e.RemoteClientID != ""
}

// Fallback returns the fallback path declared in e's metadata and whether
// one was present.
func (e *Entry) Fallback() (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	p, ok := e.Metadata[wire.MetaFallback]
	return p, ok && p != ""
}

// Registry is the exact-path handler table owned by a single hub. At most
// one entry exists per path at any time (invariant 1 in §8).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register inserts entry. It fails with ErrConflict if path is already
// present. Insertion order is irrelevant; lookup is always by exact path.
func (r *Registry) Register(entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Path]; exists {
		return fmt.Errorf("%w: path %q already registered", ErrConflict, entry.Path)
	}
	cp := *entry
	cp.Metadata = entry.Metadata.Clone()
	r.entries[entry.Path] = &cp
	return nil
}

// Deregister removes path. Idempotent: removing an absent path is not an
// error.
func (r *Registry) Deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, path)
}

// Lookup returns the entry for an exact path.
func (r *Registry) Lookup(path string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[path]
	return e, ok
}

// Paths returns a snapshot of every registered path, suitable as the
// candidate set for approximation scoring.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// MarkSynced clears ParentUnsynced on path after a successful retry.
func (r *Registry) MarkSynced(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[path]; ok {
		e.ParentUnsynced = false
	}
}

// Unsynced returns a snapshot of entries still awaiting successful
// propagation to the parent hub.
func (r *Registry) Unsynced() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.ParentUnsynced {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// RemoveOwner deregisters every entry owned by clientID, as happens on
// client disconnect, and returns the removed paths.
func (r *Registry) RemoveOwner(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for path, e := range r.entries {
		if e.OwnerClientID == clientID {
			delete(r.entries, path)
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	return removed
}

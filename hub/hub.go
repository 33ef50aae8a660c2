// Package hub implements the Hub of §4.1: the runtime at a single scope
// that composes a registry, subscription table, and interceptor tables into
// the request-resolution and publish algorithms, and that owns the
// parent/child links forming the Thread→Process→Machine→Network hierarchy.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/subscription"
	"github.com/hubmesh/hub/wire"
)

// Scope is one of the four levels in the hierarchy.
type Scope int

const (
	ScopeThread Scope = iota
	ScopeProcess
	ScopeMachine
	ScopeNetwork
)

func (s Scope) String() string {
	switch s {
	case ScopeThread:
		return "Thread"
	case ScopeProcess:
		return "Process"
	case ScopeMachine:
		return "Machine"
	case ScopeNetwork:
		return "Network"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// LifecycleState is a position in the §4.5 hub lifecycle state machine:
// Uninitialized → Starting → Running → Draining → Stopped.
type LifecycleState int

const (
	Uninitialized LifecycleState = iota
	Starting
	Running
	Draining
	Stopped
)

func (s LifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("LifecycleState(%d)", int(s))
	}
}

// Config holds the tunables named in §6 ("Configuration surface").
type Config struct {
	RequestTimeout          time.Duration // default 30s, inherited through escalation/fallback
	FallbackMaxDepth        int           // default 8
	ApproximationThreshold  float64       // default 0.8
	ResyncInterval          time.Duration // default 5s, retry cadence for parent_unsynced entries
	DrainTimeout            time.Duration // default 10s, bound on Drain waiting for in-flight work
	MaxConcurrentHandlers   int64         // default 256, bounds the handler worker pool (§5)
}

func (c *Config) setDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.FallbackMaxDepth <= 0 {
		c.FallbackMaxDepth = 8
	}
	if c.ApproximationThreshold <= 0 {
		c.ApproximationThreshold = 0.8
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.MaxConcurrentHandlers <= 0 {
		c.MaxConcurrentHandlers = 256
	}
}

// Parent is whatever a hub escalates unresolved requests to, forwards
// publishes to, and sends registration notices to. An in-process parent is
// simply another *Hub (its method set already satisfies this interface); a
// cross-process parent is a *RemoteParent wrapping a transport channel.
type Parent interface {
	HandleRequest(ctx context.Context, req wire.Request) wire.Response
	Publish(ctx context.Context, msg wire.Message) (*intercept.Outcome, bool)
	Notify(ctx context.Context, notice RegistrationNotice) error
}

// ChildLink is how a parent forwards a request down to one specific child,
// used when the child previously registered the path via a RegistrationNotice.
// An in-process child is again just a *Hub; a cross-process child is a
// *RemoteChild wrapping the accepted connection.
type ChildLink interface {
	HandleRequest(ctx context.Context, req wire.Request) wire.Response
}

// RegistrationNotice is what register_api/deregister_api propagate upward
// (§4.1): path and metadata only, never the handler itself.
type RegistrationNotice struct {
	ChildID  string
	Path     string
	Metadata wire.Metadata
	Remove   bool
}

// remoteOwner prefixes the registry OwnerClientID/RemoteClientID used for an
// entry learned from a child's registration notice, keeping it distinct from
// directly-connected client IDs in the same remoteTargets map.
func remoteOwner(childID string) string { return "child:" + childID }

// Hub is the runtime at a single scope.
type Hub struct {
	id    string
	scope Scope
	cfg   Config

	registry         *registry.Registry
	subs             *subscription.Table
	msgIntercepts    *intercept.MessageTable
	methodIntercepts *intercept.MethodTable
	pending          *pendingTable
	metrics          *Metrics
	approxGroup      singleflight.Group
	handlerSem       *semaphore.Weighted
	wg               sync.WaitGroup

	mu            sync.RWMutex
	state         LifecycleState
	parent        Parent
	children      map[string]ChildLink
	remoteTargets map[string]ChildLink // keyed by registry.Entry.RemoteClientID
}

// New creates a hub at the given scope. The hub starts Uninitialized; call
// Start before routing any traffic through it.
func New(id string, scope Scope, cfg Config, metrics *Metrics) *Hub {
	cfg.setDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil, id)
	}
	h := &Hub{
		id:               id,
		scope:            scope,
		cfg:              cfg,
		registry:         registry.New(),
		subs:             subscription.New(),
		msgIntercepts:    intercept.NewMessageTable(),
		methodIntercepts: intercept.NewMethodTable(),
		pending:          newPendingTable(),
		metrics:          metrics,
		handlerSem:       semaphore.NewWeighted(cfg.MaxConcurrentHandlers),
		children:         make(map[string]ChildLink),
		remoteTargets:    make(map[string]ChildLink),
	}
	metrics.bindPending(func() float64 { return float64(h.pending.len()) })
	return h
}

// ID returns the hub's unique identifier.
func (h *Hub) ID() string { return h.id }

// Scope returns the hub's scope level.
func (h *Hub) Scope() Scope { return h.scope }

// MethodIntercepts exposes the method-interceptor table so callers can wrap
// InterceptableCallables (§4.4) bound to it.
func (h *Hub) MethodIntercepts() *intercept.MethodTable { return h.methodIntercepts }

// State returns the current lifecycle state.
func (h *Hub) State() LifecycleState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Hub) setState(s LifecycleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// SetParent sets the hub's parent link. Per §3 ("parent link set at init and
// immutable thereafter"), this must be called at most once, before Start.
func (h *Hub) SetParent(p Parent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parent = p
}

func (h *Hub) parentLink() Parent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.parent
}

// AttachChild records childID as reachable through link, both for direct
// downward forwarding and as the resolution target for any registry entry
// later learned via that child's registration notices.
func (h *Hub) AttachChild(childID string, link ChildLink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.children[childID] = link
	h.remoteTargets[remoteOwner(childID)] = link
}

// DetachChild removes childID and every registry entry it contributed.
// Per §3, detaching a child must not affect the parent's own resources
// beyond that cleanup.
func (h *Hub) DetachChild(childID string) {
	h.mu.Lock()
	delete(h.children, childID)
	delete(h.remoteTargets, remoteOwner(childID))
	h.mu.Unlock()
	h.registry.RemoveOwner(remoteOwner(childID))
}

func (h *Hub) resolveTarget(remoteClientID string) (ChildLink, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.remoteTargets[remoteClientID]
	return t, ok
}

// AttachRemoteClient registers a directly-connected client (a remote Node,
// or a peer dispatched to via register_api) as a resolution target, so
// registry entries naming clientID as RemoteClientID can be invoked.
func (h *Hub) AttachRemoteClient(clientID string, link ChildLink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remoteTargets[clientID] = link
}

// DetachClient removes clientID's resolution target and every resource it
// owns: registrations, subscriptions, and interceptors (invariant 7, §8),
// plus any requests still pending whose origin was clientID.
func (h *Hub) DetachClient(clientID string) {
	h.mu.Lock()
	delete(h.remoteTargets, clientID)
	h.mu.Unlock()

	for _, path := range h.registry.RemoveOwner(clientID) {
		h.notifyParentBestEffort(context.Background(), RegistrationNotice{ChildID: h.id, Path: path, Remove: true})
	}
	h.subs.RemoveOwner(clientID)
	h.msgIntercepts.RemoveOwner(clientID)
	h.methodIntercepts.RemoveOwner(clientID)
	h.pending.cancelOrigin(clientID)
}

func (h *Hub) notifyParentBestEffort(ctx context.Context, notice RegistrationNotice) {
	parent := h.parentLink()
	if parent == nil {
		return
	}
	_ = parent.Notify(ctx, notice)
}

// Package node implements the §4.2 Node: the client-facing façade binding a
// participant to its thread-scope hub.
package node

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hubmesh/hub/hub"
	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/wire"
)

// backend is the subset of *hub.Hub a Node delegates to. Satisfied
// structurally by *hub.Hub for an in-process attachment; RemoteNode
// implements the same surface against a wire link instead.
type backend interface {
	HandleRequest(ctx context.Context, req wire.Request) wire.Response
	Publish(ctx context.Context, msg wire.Message) (*intercept.Outcome, bool)
	RegisterAPI(ctx context.Context, entry *registry.Entry) error
	DeregisterAPI(ctx context.Context, path string)
	Subscribe(pattern, clientID string, priority int, cb func(ctx context.Context, msg *wire.Message)) (string, error)
	Unsubscribe(id string) bool
	RegisterMessageInterceptor(pattern, clientID string, priority int, fn intercept.MessageFunc) (string, error)
	DeregisterMessageInterceptor(id string) bool
}

// Node owns a client_id and a table of its own locally-registered handlers,
// so a remote hub can dispatch back to it. Subscriptions and interceptors
// are not kept in a local table; they exist only in the backend. Per §4.2, a
// node has no independent state machine beyond connected/disconnected;
// that distinction is which backend it was constructed against.
type Node struct {
	clientID string
	backend  backend

	mu       sync.Mutex
	handlers map[string]registry.HandlerFunc
}

// New attaches a Node to an in-process hub. clientID must be unique among
// that hub's directly-connected clients.
func New(clientID string, h *hub.Hub) *Node {
	return &Node{clientID: clientID, backend: h, handlers: make(map[string]registry.HandlerFunc)}
}

// ClientID returns the identity used as sender_id on every delegated call.
func (n *Node) ClientID() string { return n.clientID }

// CallAPI issues a request through the attached hub with sender_id set to
// this node's client_id.
func (n *Node) CallAPI(ctx context.Context, path string, payload []byte) wire.Response {
	return n.backend.HandleRequest(ctx, wire.Request{
		RequestID: uuid.NewString(),
		Path:      path,
		Payload:   payload,
		SenderID:  n.clientID,
	})
}

// Publish delegates to the hub's publish algorithm with sender_id set to
// this node's client_id.
func (n *Node) Publish(ctx context.Context, topic string, payload []byte, metadata wire.Metadata) (*intercept.Outcome, bool) {
	return n.backend.Publish(ctx, wire.Message{
		Topic:    topic,
		Payload:  payload,
		Metadata: metadata,
		SenderID: n.clientID,
	})
}

// RegisterAPI registers handler at path, owned by this node.
func (n *Node) RegisterAPI(ctx context.Context, path string, metadata wire.Metadata, handler registry.HandlerFunc) error {
	n.mu.Lock()
	n.handlers[path] = handler
	n.mu.Unlock()
	err := n.backend.RegisterAPI(ctx, &registry.Entry{
		Path:          path,
		Handler:       handler,
		Metadata:      metadata,
		OwnerClientID: n.clientID,
	})
	if err != nil {
		n.mu.Lock()
		delete(n.handlers, path)
		n.mu.Unlock()
	}
	return err
}

// DeregisterAPI removes a previously registered path. Idempotent.
func (n *Node) DeregisterAPI(ctx context.Context, path string) {
	n.mu.Lock()
	delete(n.handlers, path)
	n.mu.Unlock()
	n.backend.DeregisterAPI(ctx, path)
}

// Subscribe registers a fire-and-forget message callback against pattern.
func (n *Node) Subscribe(pattern string, priority int, cb func(ctx context.Context, msg *wire.Message)) (string, error) {
	return n.backend.Subscribe(pattern, n.clientID, priority, cb)
}

// Unsubscribe removes a previously created subscription.
func (n *Node) Unsubscribe(id string) bool { return n.backend.Unsubscribe(id) }

// RegisterMessageInterceptor registers fn against pattern.
func (n *Node) RegisterMessageInterceptor(pattern string, priority int, fn intercept.MessageFunc) (string, error) {
	return n.backend.RegisterMessageInterceptor(pattern, n.clientID, priority, fn)
}

// DeregisterMessageInterceptor removes a previously registered interceptor.
func (n *Node) DeregisterMessageInterceptor(id string) bool {
	return n.backend.DeregisterMessageInterceptor(id)
}

// Detach removes every resource this node owns from h: registrations,
// subscriptions, and interceptors (§8 invariant 7). Call on disconnect.
func (n *Node) Detach(h *hub.Hub) {
	h.DetachClient(n.clientID)
}

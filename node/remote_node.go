package node

import (
	"context"
	"fmt"

	"github.com/hubmesh/hub/hub"
	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/transport"
	"github.com/hubmesh/hub/wire"
)

// remoteBackend adapts a *hub.Link into the backend interface, so RemoteNode
// can reuse Node's exported methods verbatim. Subscriptions and message
// interceptors have no wire representation of their own beyond the
// RegisterAPI/RegisterAck frames already defined (§6's type-code table has
// no dedicated subscribe/intercept frames for a node that only dials out,
// as opposed to a hub-to-hub link) — those methods only satisfy the
// interface: reached through RemoteNode's embedded Node, they return an
// error or false.
type remoteBackend struct {
	link *hub.Link
}

func (b *remoteBackend) HandleRequest(ctx context.Context, req wire.Request) wire.Response {
	return b.link.Request(ctx, req)
}

// Publish has no synchronous return path: §6's wire table defines Publish
// (type 3) as client→hub only, with no corresponding result frame, so a
// remote node can never learn whether the far hub's publish algorithm
// intercepted it. It always reports (nil, false).
func (b *remoteBackend) Publish(ctx context.Context, msg wire.Message) (*intercept.Outcome, bool) {
	_ = b.link.Publish(msg)
	return nil, false
}

func (b *remoteBackend) RegisterAPI(ctx context.Context, entry *registry.Entry) error {
	return b.link.Notify(ctx, hub.RegistrationNotice{Path: entry.Path, Metadata: entry.Metadata})
}

func (b *remoteBackend) DeregisterAPI(ctx context.Context, path string) {
	_ = b.link.Notify(ctx, hub.RegistrationNotice{Path: path, Remove: true})
}

func (b *remoteBackend) Subscribe(pattern, clientID string, priority int, cb func(context.Context, *wire.Message)) (string, error) {
	return "", fmt.Errorf("node: subscribe has no wire representation; subscribe against the connected hub directly")
}

func (b *remoteBackend) Unsubscribe(id string) bool { return false }

func (b *remoteBackend) RegisterMessageInterceptor(pattern, clientID string, priority int, fn intercept.MessageFunc) (string, error) {
	return "", fmt.Errorf("node: interceptor registration has no wire representation; register against the connected hub directly")
}

func (b *remoteBackend) DeregisterMessageInterceptor(id string) bool { return false }

// RemoteNode is a Node attached to a hub reached over a transport channel
// rather than in-process. It answers inbound API requests the remote hub
// dispatches back to it by looking the path up in its own handler table.
type RemoteNode struct {
	*Node
	link *hub.Link
}

// NewRemote builds a RemoteNode bound to ch, the channel reaching the
// remote hub. clientID is the sender_id of every request and publish this
// node issues and the peer ID of its link; the RegisterAPI frames the node
// sends leave ClientID empty.
func NewRemote(clientID string, ch transport.Channel) *RemoteNode {
	n := &Node{clientID: clientID, handlers: make(map[string]registry.HandlerFunc)}
	link := hub.NewLink(ch, clientID, hub.LinkHandlers{
		OnRequest: n.dispatchLocal,
	})
	n.backend = &remoteBackend{link: link}
	return &RemoteNode{Node: n, link: link}
}

// dispatchLocal answers a request the remote hub forwarded back to this
// node for a path this node registered.
func (n *Node) dispatchLocal(ctx context.Context, req wire.Request) wire.Response {
	n.mu.Lock()
	handler, ok := n.handlers[req.Path]
	n.mu.Unlock()
	if !ok {
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusNotFound}
	}
	resp := handler(ctx, &req)
	if resp == nil {
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusSuccess}
	}
	if resp.RequestID == "" {
		resp.RequestID = req.RequestID
	}
	return *resp
}

// Close tears down the underlying link.
func (rn *RemoteNode) Close() error { return rn.link.Close() }

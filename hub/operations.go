package hub

import (
	"context"

	"github.com/google/uuid"

	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/wire"
)

func (h *Hub) rejectIfDraining() error {
	switch h.State() {
	case Draining, Stopped:
		return ErrShuttingDown
	}
	return nil
}

// RegisterAPI inserts entry into the local registry and best-effort
// propagates a registration notice to the parent (§4.1). A propagation
// failure leaves the entry parent_unsynced for the resync runner to retry;
// it never fails the registration itself.
func (h *Hub) RegisterAPI(ctx context.Context, entry *registry.Entry) error {
	if err := h.rejectIfDraining(); err != nil {
		return err
	}
	entry.ParentUnsynced = h.parentLink() != nil
	if err := h.registry.Register(entry); err != nil {
		return err
	}
	h.metrics.incRegistrations()
	h.syncOne(ctx, entry.Path, entry.Metadata)
	return nil
}

func (h *Hub) syncOne(ctx context.Context, path string, metadata wire.Metadata) {
	parent := h.parentLink()
	if parent == nil {
		return
	}
	if err := parent.Notify(ctx, RegistrationNotice{ChildID: h.id, Path: path, Metadata: metadata}); err == nil {
		h.registry.MarkSynced(path)
	}
}

// DeregisterAPI removes path and best-effort notifies the parent. Idempotent.
func (h *Hub) DeregisterAPI(ctx context.Context, path string) {
	h.registry.Deregister(path)
	h.notifyParentBestEffort(ctx, RegistrationNotice{ChildID: h.id, Path: path, Remove: true})
}

// Subscribe registers cb against pattern and returns the new subscription's
// ID.
func (h *Hub) Subscribe(pattern, clientID string, priority int, cb func(ctx context.Context, msg *wire.Message)) (string, error) {
	if err := h.rejectIfDraining(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	h.subs.Subscribe(id, pattern, clientID, priority, cb)
	return id, nil
}

// Unsubscribe removes a previously created subscription.
func (h *Hub) Unsubscribe(id string) bool {
	return h.subs.Unsubscribe(id)
}

// RegisterMessageInterceptor registers an interceptor against pattern,
// usable for both request-path interception and publish-topic interception
// (§4.1 unifies the two as "message-interceptors").
func (h *Hub) RegisterMessageInterceptor(pattern, clientID string, priority int, fn intercept.MessageFunc) (string, error) {
	if err := h.rejectIfDraining(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	h.msgIntercepts.Register(id, pattern, clientID, priority, fn)
	return id, nil
}

// DeregisterMessageInterceptor removes a previously registered interceptor.
func (h *Hub) DeregisterMessageInterceptor(id string) bool {
	return h.msgIntercepts.Deregister(id)
}

// RegisterMethodInterceptor registers a §4.4 method interceptor.
func (h *Hub) RegisterMethodInterceptor(typeID intercept.TypeID, method, clientID string, priority int, fn intercept.MethodFunc) (string, error) {
	if err := h.rejectIfDraining(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	h.methodIntercepts.Register(id, typeID, method, clientID, priority, fn)
	return id, nil
}

// DeregisterMethodInterceptor removes a previously registered method
// interceptor.
func (h *Hub) DeregisterMethodInterceptor(id string) bool {
	return h.methodIntercepts.Deregister(id)
}

package hub

import (
	"context"
	"time"

	"github.com/matgreaves/run"

	"github.com/hubmesh/hub/wire"
)

// Start transitions the hub Uninitialized → Starting → Running. It is not
// itself a run.Runner since it returns immediately; pair it with
// ResyncRunner in a run.Group for the background work a running hub needs.
func (h *Hub) Start(context.Context) error {
	h.mu.Lock()
	if h.state != Uninitialized {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.state = Starting
	h.mu.Unlock()

	h.setState(Running)
	return nil
}

// Drain transitions Running → Draining, then waits up to cfg.DrainTimeout
// for in-flight handler and subscriber goroutines to finish before
// finishing the transition to Stopped. Per §4.5, new registrations,
// subscriptions, interceptor registrations, and publishes are rejected the
// moment Draining begins; requests already resolving continue uninterrupted
// since resolve/invokeLocal hold no lock the drain needs.
func (h *Hub) Drain(ctx context.Context) error {
	h.setState(Draining)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	timeout := h.cfg.DrainTimeout
	select {
	case <-done:
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	h.setState(Stopped)
	return nil
}

// ResyncRunner returns a run.Runner that periodically retries the
// registration notice for every parent_unsynced entry, per §4.1's
// "propagation is best-effort... marks the entry parent_unsynced until a
// later retry succeeds." Intended to run inside the same run.Group as the
// hub's transport-serving loop, e.g. in a Supervisor.
func (h *Hub) ResyncRunner() run.Runner {
	return run.Func(func(ctx context.Context) error {
		interval := h.cfg.ResyncInterval
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				h.resyncParent(ctx)
			}
		}
	})
}

func (h *Hub) resyncParent(ctx context.Context) {
	parent := h.parentLink()
	if parent == nil {
		return
	}
	for _, e := range h.registry.Unsynced() {
		if err := parent.Notify(ctx, RegistrationNotice{ChildID: h.id, Path: e.Path, Metadata: e.Metadata}); err == nil {
			h.registry.MarkSynced(e.Path)
		}
	}
}

// shutdownFrame is sent (where a transport link exists) as the last frame
// before a hub-to-hub or hub-to-client channel closes cleanly.
func shutdownFrame(reason string) (wire.Type, wire.Shutdown) {
	return wire.TypeShutdown, wire.Shutdown{Reason: reason}
}

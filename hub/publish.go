package hub

import (
	"context"

	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/subscription"
	"github.com/hubmesh/hub/wire"
)

// Publish implements the §4.1 publish algorithm: interceptor short-circuit,
// then local fan-out to matching subscribers, then forwarding to the parent
// so ancestor-scope subscribers also see it. Per §9's redesign note,
// interception short-circuits delivery at the intercepting hub and above;
// hubs below have already delivered, so a parent's intercept result is
// never propagated back down to this hub's own subscribers. A Draining or
// Stopped hub drops the publish: nothing is delivered and it reports
// (nil, false).
func (h *Hub) Publish(ctx context.Context, msg wire.Message) (*intercept.Outcome, bool) {
	if h.rejectIfDraining() != nil {
		return nil, false
	}
	if out, handled := h.msgIntercepts.Dispatch(ctx, msg.Topic, msg.Payload, msg.Metadata); handled {
		h.metrics.incIntercepted()
		return out, true
	}

	subs := h.subs.Match(msg.Topic)
	for _, sub := range subs {
		h.fanOutOne(ctx, sub, msg)
	}
	h.metrics.incPublished(len(subs))

	if parent := h.parentLink(); parent != nil {
		if out, handled := parent.Publish(ctx, msg); handled {
			return out, true
		}
	}
	return nil, false
}

// fanOutOne delivers msg to one subscriber on the bounded handler pool.
// Subscriber callbacks are fire-and-forget (§4.1 publish step 2): their
// return value, if any, is never observed. A panic inside the callback, or
// ctx ending before a pool slot is free, increments the drop counter; the
// delivery is neither retried nor propagated. Callbacks report no error, so
// a failure inside one is counted only when it panics.
func (h *Hub) fanOutOne(ctx context.Context, sub *subscription.Subscription, msg wire.Message) {
	if err := h.handlerSem.Acquire(ctx, 1); err != nil {
		h.metrics.incDrop()
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.handlerSem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				h.metrics.incDrop()
			}
		}()
		sub.Callback(ctx, &msg)
	}()
}

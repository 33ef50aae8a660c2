package hub

import (
	"context"
	"fmt"

	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/pathmatch"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/wire"
)

// HandleRequest resolves req per the §4.1 algorithm: interception, local
// exact match, parent escalation, fallback, approximation, NotFound — in
// strict order, stopping at the first step that produces a response.
func (h *Hub) HandleRequest(ctx context.Context, req wire.Request) wire.Response {
	if req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RequestTimeout)
		defer cancel()
	}
	return h.resolve(ctx, req, 0)
}

func (h *Hub) resolve(ctx context.Context, req wire.Request, fallbackDepth int) wire.Response {
	switch h.State() {
	case Stopped, Uninitialized:
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "ShuttingDown"}}
	}

	// Step 1: interception.
	if out, handled := h.msgIntercepts.Dispatch(ctx, req.Path, req.Payload, req.Metadata); handled {
		h.metrics.incIntercepted()
		return interceptedResponse(req, out)
	}

	// Step 2: local exact match. A registered entry with neither a local
	// handler nor a remote client (a fallback-only "stub", per scenario 2)
	// is treated as absent for matching purposes but remembered for step 4.
	entry, hadEntry := h.registry.Lookup(req.Path)
	if hadEntry && entry.Invokable() {
		h.metrics.incRequests()
		return h.invokeEntry(ctx, entry, req)
	}

	// Step 3: parent escalation. If H has a parent at all, resolution
	// always stops here — whatever the parent returns is the answer.
	// Fallback and approximation only ever run at a hub with no parent,
	// per the glossary ("tried after parent escalation fails").
	if parent := h.parentLink(); parent != nil {
		escalated := req.WithMetadata(wire.MetaEscalatedFrom, h.id)
		resp := parent.HandleRequest(ctx, escalated)
		resp.Metadata = resp.Metadata.Clone()
		if resp.Metadata == nil {
			resp.Metadata = wire.Metadata{}
		}
		if _, tagged := resp.Metadata[wire.MetaEscalatedFrom]; !tagged {
			resp.Metadata[wire.MetaEscalatedFrom] = h.id
		}
		return resp
	}

	// Step 4: fallback.
	if hadEntry {
		if fb, ok := entry.Fallback(); ok {
			if fallbackDepth >= h.cfg.FallbackMaxDepth {
				return notFoundResponse(req)
			}
			rewritten := req.WithMetadata(wire.MetaOriginalPath, req.Path)
			rewritten.Path = fb
			resp := h.resolve(ctx, rewritten, fallbackDepth+1)
			resp.Metadata = resp.Metadata.Clone()
			if resp.Metadata == nil {
				resp.Metadata = wire.Metadata{}
			}
			if _, tagged := resp.Metadata[wire.MetaOriginalPath]; !tagged {
				resp.Metadata[wire.MetaOriginalPath] = req.Path
			}
			return resp
		}
	}

	// Step 5: approximation.
	if resp, ok := h.approximate(ctx, req); ok {
		return resp
	}

	h.metrics.incNotFound()
	return notFoundResponse(req)
}

func (h *Hub) invokeEntry(ctx context.Context, entry *registry.Entry, req wire.Request) wire.Response {
	if entry.IsRemote() {
		return h.invokeRemote(ctx, entry, req)
	}
	return h.invokeLocal(ctx, entry, req)
}

// invokeLocal runs entry's handler on the bounded handler pool (§5:
// "handlers invoked by a hub execute on a separate pool of worker
// threads"), honoring ctx cancellation and recovering a handler panic as a
// HandlerError response rather than crashing the hub.
func (h *Hub) invokeLocal(ctx context.Context, entry *registry.Entry, req wire.Request) wire.Response {
	if err := h.handlerSem.Acquire(ctx, 1); err != nil {
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "TimedOut"}}
	}
	defer h.handlerSem.Release(1)

	result := make(chan *wire.Response, 1)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				result <- &wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": fmt.Sprintf("handler panic: %v", r)}}
			}
		}()
		result <- entry.Handler(ctx, &req)
	}()

	select {
	case resp := <-result:
		if resp == nil {
			resp = &wire.Response{RequestID: req.RequestID, Status: wire.StatusSuccess}
		}
		if resp.Status == "" {
			resp.Status = wire.StatusSuccess
		}
		if resp.RequestID == "" {
			resp.RequestID = req.RequestID
		}
		return *resp
	case <-ctx.Done():
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "TimedOut"}}
	}
}

func (h *Hub) invokeRemote(ctx context.Context, entry *registry.Entry, req wire.Request) wire.Response {
	target, ok := h.resolveTarget(entry.RemoteClientID)
	if !ok {
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": fmt.Sprintf("TransportError: remote target %q disconnected", entry.RemoteClientID)}}
	}
	return target.HandleRequest(ctx, req)
}

// approximate implements step 5. Scans are deduplicated with singleflight
// per path so a burst of calls to the same unresolved path doesn't repeat
// the O(n) scan concurrently.
func (h *Hub) approximate(ctx context.Context, req wire.Request) (wire.Response, bool) {
	candidates := h.invokableRegisteredPaths()
	v, _, _ := h.approxGroup.Do(req.Path, func() (any, error) {
		path, score, ok := pathmatch.Best(req.Path, candidates, h.cfg.ApproximationThreshold)
		return approxResult{path, score, ok}, nil
	})
	result := v.(approxResult)
	if !result.ok {
		return wire.Response{}, false
	}
	entry, ok := h.registry.Lookup(result.path)
	if !ok || !entry.Invokable() {
		return wire.Response{}, false
	}
	resp := h.invokeEntry(ctx, entry, req)
	// Approximation never masks a handler error (§7) — only promote a
	// Success response to Approximated.
	if resp.Status == wire.StatusSuccess {
		resp.Status = wire.StatusApproximated
		h.metrics.incApproximated()
	}
	resp.Metadata = resp.Metadata.Clone()
	if resp.Metadata == nil {
		resp.Metadata = wire.Metadata{}
	}
	resp.Metadata[wire.MetaMatchedPath] = result.path
	return resp, true
}

type approxResult struct {
	path  string
	score float64
	ok    bool
}

func (h *Hub) invokableRegisteredPaths() []string {
	all := h.registry.Paths()
	out := make([]string, 0, len(all))
	for _, p := range all {
		if e, ok := h.registry.Lookup(p); ok && e.Invokable() {
			out = append(out, p)
		}
	}
	return out
}

// interceptedResponse builds the Response for a step-1 short-circuit.
// Status is always Intercepted when an interceptor handled the call;
// PolicyError (an interceptor acting as a gate, per §7) rides in metadata
// rather than its own status, since Status only enumerates the five values
// in §3.
func interceptedResponse(req wire.Request, out *intercept.Outcome) wire.Response {
	meta := out.Metadata.Clone()
	if out.PolicyError != "" {
		if meta == nil {
			meta = wire.Metadata{}
		}
		meta["policy_error"] = out.PolicyError
	}
	return wire.Response{RequestID: req.RequestID, Status: wire.StatusIntercepted, Payload: out.Payload, Metadata: meta}
}

func notFoundResponse(req wire.Request) wire.Response {
	return wire.Response{RequestID: req.RequestID, Status: wire.StatusNotFound}
}

package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/wire"
)

func newTestHub(t *testing.T, id string) *Hub {
	t.Helper()
	h := New(id, ScopeThread, Config{}, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func echoHandler(ctx context.Context, req *wire.Request) *wire.Response {
	return &wire.Response{Status: wire.StatusSuccess, Payload: req.Payload}
}

func constHandler(payload string) registry.HandlerFunc {
	return func(ctx context.Context, req *wire.Request) *wire.Response {
		b, _ := json.Marshal(payload)
		return &wire.Response{Status: wire.StatusSuccess, Payload: b}
	}
}

// Scenario 1: simple resolve.
func TestHandleRequest_SimpleResolve(t *testing.T) {
	h := newTestHub(t, "H")
	if err := h.RegisterAPI(context.Background(), &registry.Entry{Path: "/echo", Handler: echoHandler}); err != nil {
		t.Fatalf("RegisterAPI: %v", err)
	}
	payload, _ := json.Marshal("hi")
	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r1", Path: "/echo", Payload: payload})
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want Success", resp.Status)
	}
	var got string
	if err := json.Unmarshal(resp.Payload, &got); err != nil || got != "hi" {
		t.Fatalf("payload = %q, err %v", resp.Payload, err)
	}
}

// Scenario 2: fallback chain.
func TestHandleRequest_FallbackChain(t *testing.T) {
	h := newTestHub(t, "H")
	if err := h.RegisterAPI(context.Background(), &registry.Entry{
		Path:     "/api/v2/users",
		Metadata: wire.Metadata{wire.MetaFallback: "/api/v1/users"},
	}); err != nil {
		t.Fatalf("register v2 stub: %v", err)
	}
	if err := h.RegisterAPI(context.Background(), &registry.Entry{Path: "/api/v1/users", Handler: constHandler("legacy")}); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r2", Path: "/api/v2/users"})
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want Success", resp.Status)
	}
	var got string
	json.Unmarshal(resp.Payload, &got)
	if got != "legacy" {
		t.Fatalf("payload = %q, want legacy", got)
	}
	if resp.Metadata[wire.MetaOriginalPath] != "/api/v2/users" {
		t.Fatalf("metadata.original_path = %q", resp.Metadata[wire.MetaOriginalPath])
	}
}

func TestHandleRequest_FallbackDepthBoundary(t *testing.T) {
	h := newTestHub(t, "H")
	h.cfg.FallbackMaxDepth = 2
	// chain: a -> b -> c (real handler). depth 2 succeeds.
	mustRegister(t, h, "/a", wire.Metadata{wire.MetaFallback: "/b"}, nil)
	mustRegister(t, h, "/b", wire.Metadata{wire.MetaFallback: "/c"}, nil)
	mustRegister(t, h, "/c", nil, constHandler("ok"))

	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r", Path: "/a"})
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("depth-2 chain: status = %s, want Success", resp.Status)
	}

	// One more hop should exceed the bound.
	h2 := newTestHub(t, "H2")
	h2.cfg.FallbackMaxDepth = 2
	mustRegister(t, h2, "/a", wire.Metadata{wire.MetaFallback: "/b"}, nil)
	mustRegister(t, h2, "/b", wire.Metadata{wire.MetaFallback: "/c"}, nil)
	mustRegister(t, h2, "/c", wire.Metadata{wire.MetaFallback: "/d"}, nil)
	mustRegister(t, h2, "/d", nil, constHandler("ok"))

	resp2 := h2.HandleRequest(context.Background(), wire.Request{RequestID: "r", Path: "/a"})
	if resp2.Status != wire.StatusNotFound {
		t.Fatalf("depth-3 chain: status = %s, want NotFound", resp2.Status)
	}
}

func mustRegister(t *testing.T, h *Hub, path string, meta wire.Metadata, handler registry.HandlerFunc) {
	t.Helper()
	if err := h.RegisterAPI(context.Background(), &registry.Entry{Path: path, Metadata: meta, Handler: handler}); err != nil {
		t.Fatalf("register %s: %v", path, err)
	}
}

// Scenario 3: approximation.
func TestHandleRequest_Approximation(t *testing.T) {
	h := newTestHub(t, "H")
	mustRegister(t, h, "/products/search", nil, constHandler("products"))
	mustRegister(t, h, "/items/search", nil, constHandler("items"))

	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r3", Path: "/product/search"})
	if resp.Status != wire.StatusApproximated {
		t.Fatalf("status = %s, want Approximated", resp.Status)
	}
	if resp.Metadata[wire.MetaMatchedPath] != "/products/search" {
		t.Fatalf("matched_path = %q, want /products/search", resp.Metadata[wire.MetaMatchedPath])
	}
}

func TestHandleRequest_ApproximationBelowThresholdIsNotFound(t *testing.T) {
	h := newTestHub(t, "H")
	mustRegister(t, h, "/completely/unrelated/thing", nil, constHandler("x"))

	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r", Path: "/zz"})
	if resp.Status != wire.StatusNotFound {
		t.Fatalf("status = %s, want NotFound", resp.Status)
	}
}

// Scenario 4: interception short-circuit.
func TestPublish_InterceptionShortCircuit(t *testing.T) {
	h := newTestHub(t, "H")
	called := false
	h.Subscribe("/search/files", "sub-client", 0, func(ctx context.Context, msg *wire.Message) {
		called = true
	})
	webOut := &intercept.Outcome{Payload: []byte(`{"web":true}`)}
	h.RegisterMessageInterceptor("/search/files", "ic-client", 10, func(ctx context.Context, topic string, payload []byte, metadata wire.Metadata) (*intercept.Outcome, bool) {
		if metadata["source"] == "web" {
			return webOut, true
		}
		return nil, false
	})

	out, handled := h.Publish(context.Background(), wire.Message{Topic: "/search/files", Metadata: wire.Metadata{"source": "web"}})
	if !handled || out != webOut {
		t.Fatalf("expected interceptor short-circuit, got handled=%v out=%v", handled, out)
	}
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatalf("subscriber should not have been invoked when interceptor short-circuits")
	}
}

// Scenario 5: escalation.
func TestHandleRequest_Escalation(t *testing.T) {
	parent := newTestHub(t, "P")
	child := newTestHub(t, "T")
	child.SetParent(parent)

	mustRegister(t, parent, "/system/time", nil, constHandler("now"))

	resp := child.HandleRequest(context.Background(), wire.Request{RequestID: "r5", Path: "/system/time"})
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want Success", resp.Status)
	}
	if resp.Metadata[wire.MetaEscalatedFrom] != "T" {
		t.Fatalf("escalated_from = %q, want T", resp.Metadata[wire.MetaEscalatedFrom])
	}
}

func TestRegisterAPI_Conflict(t *testing.T) {
	h := newTestHub(t, "H")
	mustRegister(t, h, "/x", nil, constHandler("a"))
	err := h.RegisterAPI(context.Background(), &registry.Entry{Path: "/x", Handler: constHandler("b")})
	if err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestDrain_RejectsNewRegistrations(t *testing.T) {
	h := newTestHub(t, "H")
	h.Drain(context.Background())
	err := h.RegisterAPI(context.Background(), &registry.Entry{Path: "/x", Handler: constHandler("a")})
	if err != ErrShuttingDown {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}

func TestDetachClient_RemovesOwnedResources(t *testing.T) {
	h := newTestHub(t, "H")
	h.RegisterAPI(context.Background(), &registry.Entry{Path: "/x", Handler: constHandler("a"), OwnerClientID: "c1"})
	h.Subscribe("/topic", "c1", 0, func(context.Context, *wire.Message) {})

	h.DetachClient("c1")

	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r", Path: "/x"})
	if resp.Status != wire.StatusNotFound {
		t.Fatalf("expected /x to be gone after DetachClient, got %s", resp.Status)
	}
}

package node

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hubmesh/hub/hub"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/wire"
)

func newTestHub(t *testing.T, id string) *hub.Hub {
	t.Helper()
	h := hub.New(id, hub.ScopeThread, hub.Config{}, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func TestNode_RegisterAndCall(t *testing.T) {
	h := newTestHub(t, "H")
	n := New("client-1", h)

	err := n.RegisterAPI(context.Background(), "/echo", nil, func(ctx context.Context, req *wire.Request) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Payload: req.Payload}
	})
	if err != nil {
		t.Fatalf("RegisterAPI: %v", err)
	}

	payload, _ := json.Marshal("hello")
	resp := n.CallAPI(context.Background(), "/echo", payload)
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want Success", resp.Status)
	}
	var got string
	if err := json.Unmarshal(resp.Payload, &got); err != nil || got != "hello" {
		t.Fatalf("payload = %q, err %v", resp.Payload, err)
	}
}

func TestNode_CallAPI_SenderIDPropagates(t *testing.T) {
	h := newTestHub(t, "H")
	n := New("client-2", h)

	var sawSender string
	n.RegisterAPI(context.Background(), "/whoami", nil, func(ctx context.Context, req *wire.Request) *wire.Response {
		sawSender = req.SenderID
		return &wire.Response{Status: wire.StatusSuccess}
	})
	n.CallAPI(context.Background(), "/whoami", nil)
	if sawSender != "client-2" {
		t.Fatalf("sender_id = %q, want client-2", sawSender)
	}
}

func TestNode_Detach_RemovesRegistrations(t *testing.T) {
	h := newTestHub(t, "H")
	n := New("client-3", h)
	n.RegisterAPI(context.Background(), "/x", nil, func(ctx context.Context, req *wire.Request) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess}
	})

	n.Detach(h)

	resp := h.HandleRequest(context.Background(), wire.Request{RequestID: "r", Path: "/x"})
	if resp.Status != wire.StatusNotFound {
		t.Fatalf("status = %s, want NotFound after detach", resp.Status)
	}
}

func TestNode_RegisterAPI_ConflictLeavesLocalTableClean(t *testing.T) {
	h := newTestHub(t, "H")
	h.RegisterAPI(context.Background(), &registry.Entry{Path: "/dup", Handler: func(ctx context.Context, req *wire.Request) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess}
	}})

	n := New("client-4", h)
	err := n.RegisterAPI(context.Background(), "/dup", nil, func(ctx context.Context, req *wire.Request) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess}
	})
	if err == nil {
		t.Fatalf("expected conflict error")
	}
	n.mu.Lock()
	_, stillThere := n.handlers["/dup"]
	n.mu.Unlock()
	if stillThere {
		t.Fatalf("local handler table should have rolled back on registration failure")
	}
}

func TestNode_Publish(t *testing.T) {
	h := newTestHub(t, "H")
	n := New("publisher", h)

	received := make(chan string, 1)
	h.Subscribe("/events/*", "sub-client", 0, func(ctx context.Context, msg *wire.Message) {
		received <- msg.SenderID
	})

	payload, _ := json.Marshal("hi")
	n.Publish(context.Background(), "/events/created", payload, nil)

	select {
	case senderID := <-received:
		if senderID != "publisher" {
			t.Fatalf("sender_id = %q, want publisher", senderID)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber was never invoked")
	}
}

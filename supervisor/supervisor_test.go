package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/wire"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.RequestTimeoutSec != 30 || cfg.FallbackMaxDepth != 8 || cfg.ApproximationThreshold != 0.8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.VerifyPeer == nil || !*cfg.VerifyPeer {
		t.Fatalf("verify_peer should default true")
	}
}

func TestSupervisor_ParentEscalationOverRealTCP(t *testing.T) {
	parentCfg := Config{HubID: "P", Scope: "process", BindAddress: "127.0.0.1", BindPort: 0}
	parent, err := New(parentCfg, nil)
	if err != nil {
		t.Fatalf("New(parent): %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go parent.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	payload, _ := json.Marshal("now")
	parent.Hub.RegisterAPI(context.Background(), &registry.Entry{
		Path: "/system/time",
		Handler: func(ctx context.Context, req *wire.Request) *wire.Response {
			return &wire.Response{Status: wire.StatusSuccess, Payload: payload}
		},
	})

	childCfg := Config{HubID: "T", Scope: "thread", ParentAddress: parent.Addr()}
	child, err := New(childCfg, nil)
	if err != nil {
		t.Fatalf("New(child): %v", err)
	}
	go child.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let the dial-and-connect loop establish

	resp := child.Hub.HandleRequest(context.Background(), wire.Request{RequestID: "r1", Path: "/system/time"})
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want Success (resp=%+v)", resp.Status, resp)
	}
	if resp.Metadata[wire.MetaEscalatedFrom] != "T" {
		t.Fatalf("escalated_from = %q, want T", resp.Metadata[wire.MetaEscalatedFrom])
	}
}

func TestSupervisor_ParentEscalationOverWebSocket(t *testing.T) {
	parentCfg := Config{HubID: "P", Scope: "process", BindAddress: "127.0.0.1", BindPort: 0, TransportKind: "websocket"}
	parent, err := New(parentCfg, nil)
	if err != nil {
		t.Fatalf("New(parent): %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go parent.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	payload, _ := json.Marshal("now")
	parent.Hub.RegisterAPI(context.Background(), &registry.Entry{
		Path: "/system/time",
		Handler: func(ctx context.Context, req *wire.Request) *wire.Response {
			return &wire.Response{Status: wire.StatusSuccess, Payload: payload}
		},
	})

	childCfg := Config{
		HubID: "T", Scope: "thread",
		TransportKind: "websocket",
		ParentAddress: "ws://" + parent.Addr() + "/",
	}
	child, err := New(childCfg, nil)
	if err != nil {
		t.Fatalf("New(child): %v", err)
	}
	go child.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let the dial-and-connect loop establish

	resp := child.Hub.HandleRequest(context.Background(), wire.Request{RequestID: "r1", Path: "/system/time"})
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want Success (resp=%+v)", resp.Status, resp)
	}
}

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matgreaves/run"

	"github.com/hubmesh/hub/hub"
	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/registry"
	"github.com/hubmesh/hub/transport"
	"github.com/hubmesh/hub/wire"
)

// Supervisor owns the hub this process hosts and the transport plumbing
// around it: an optional listener accepting children/local clients, and
// an optional reconnecting dial to a parent hub. Grounded on
// server/orchestrator.go's role as the teacher's single composition root.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	Hub *hub.Hub

	listener   listener
	parentConn *reconnectingParent
	parentSup  *transport.Supervisor
}

// New builds the hub this process hosts at cfg.Scope. Call Run to start
// serving; it blocks until ctx is cancelled or a fatal transport error
// occurs.
func New(cfg Config, log *slog.Logger) (*Supervisor, error) {
	cfg.setDefaults()
	scope, err := parseScope(cfg.Scope)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	h := hub.New(cfg.HubID, scope, cfg.hubConfig(), nil)

	s := &Supervisor{cfg: cfg, log: log, Hub: h}

	if cfg.BindAddress != "" {
		switch cfg.TransportKind {
		case "websocket":
			ln, err := listenWebSocket(fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort))
			if err != nil {
				return nil, err
			}
			s.listener = ln
		default:
			ln, err := transport.Listen(fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort), cfg.tlsOptions())
			if err != nil {
				return nil, fmt.Errorf("supervisor: listen: %w", err)
			}
			s.listener = &tcpListener{ln: ln}
		}
	}

	if cfg.ParentAddress != "" {
		s.parentConn = &reconnectingParent{}
		h.SetParent(s.parentConn)
		dial := func(ctx context.Context) (transport.Channel, error) {
			return transport.Dial(cfg.ParentAddress, cfg.tlsOptions())
		}
		if cfg.TransportKind == "websocket" {
			dial = func(ctx context.Context) (transport.Channel, error) {
				return transport.DialWebSocket(cfg.ParentAddress)
			}
		}
		s.parentSup = transport.NewSupervisor(dial, time.Duration(cfg.ReconnectIntervalSec)*time.Second, 0)
	}

	return s, nil
}

// Addr returns the bound listen address, or "" if this process hosts no
// listener.
func (s *Supervisor) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// Run starts the hub and every background runner this process needs —
// the parent-unsynced resync loop, the parent dial-and-reconnect loop,
// and the child/client accept loop — side by side in a run.Group, so a
// fatal failure in one tears down the others. It blocks until ctx is
// cancelled or a group member returns a non-nil error.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Hub.Start(ctx); err != nil {
		return err
	}

	group := run.Group{"resync": s.Hub.ResyncRunner()}

	if s.parentSup != nil {
		group["parent"] = run.Func(func(ctx context.Context) error {
			return s.parentSup.Run(ctx, s.serveParent)
		})
	}
	if s.listener != nil {
		group["accept"] = run.Func(s.acceptLoop)
	}

	return group.Run(ctx)
}

// Shutdown drains the hub (rejecting new work, waiting for in-flight
// requests) and stops accepting new connections.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		s.listener.Close()
	}
	return s.Hub.Drain(ctx)
}

// serveParent runs for the lifetime of one connected parent channel: it
// wraps ch in a Link, publishes it as the hub's live parent, and blocks
// until the link breaks or ctx ends.
func (s *Supervisor) serveParent(ctx context.Context, ch transport.Channel) error {
	link := hub.NewLink(ch, "parent", hub.LinkHandlers{
		OnRequest: s.Hub.HandleRequest,
	})
	s.parentConn.set(hub.NewRemoteParent(link))
	defer s.parentConn.set(nil)

	select {
	case <-link.Done():
		return link.Err()
	case <-ctx.Done():
		link.Close()
		return nil
	}
}

// acceptLoop accepts incoming connections (children escalating to this
// hub, or directly-connected clients) for as long as the listener runs.
func (s *Supervisor) acceptLoop(ctx context.Context) error {
	for {
		ch, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("supervisor: accept: %w", err)
		}
		clientID := uuid.NewString()
		go s.serveAccepted(clientID, ch)
	}
}

func (s *Supervisor) serveAccepted(clientID string, ch transport.Channel) {
	link := hub.NewLink(ch, clientID, hub.LinkHandlers{
		OnRequest: s.Hub.HandleRequest,
		OnPublish: func(ctx context.Context, msg wire.Message) { s.Hub.Publish(ctx, msg) },
		OnRegister: func(ctx context.Context, notice hub.RegistrationNotice) error {
			if notice.Remove {
				s.Hub.DeregisterAPI(ctx, notice.Path)
				return nil
			}
			return s.Hub.RegisterAPI(ctx, &registry.Entry{
				Path:           notice.Path,
				Metadata:       notice.Metadata,
				RemoteClientID: clientID,
				OwnerClientID:  clientID,
			})
		},
	})
	s.Hub.AttachRemoteClient(clientID, hub.NewRemoteChild(link))
	<-link.Done()
	s.Hub.DetachClient(clientID)
	s.log.Info("client disconnected", "client_id", clientID, "hub_id", s.Hub.ID())
}

// reconnectingParent is a hub.Parent whose underlying *hub.RemoteParent is
// swapped out each time transport.Supervisor establishes a fresh
// connection, so the hub's own SetParent (called once, per §3) never
// needs to change — only what it delegates to underneath does.
type reconnectingParent struct {
	mu  sync.RWMutex
	cur *hub.RemoteParent
}

func (p *reconnectingParent) set(rp *hub.RemoteParent) {
	p.mu.Lock()
	p.cur = rp
	p.mu.Unlock()
}

func (p *reconnectingParent) get() *hub.RemoteParent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

func (p *reconnectingParent) HandleRequest(ctx context.Context, req wire.Request) wire.Response {
	cur := p.get()
	if cur == nil {
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "TransportError: parent not connected"}}
	}
	return cur.HandleRequest(ctx, req)
}

func (p *reconnectingParent) Publish(ctx context.Context, msg wire.Message) (*intercept.Outcome, bool) {
	cur := p.get()
	if cur == nil {
		return nil, false
	}
	return cur.Publish(ctx, msg)
}

func (p *reconnectingParent) Notify(ctx context.Context, notice hub.RegistrationNotice) error {
	cur := p.get()
	if cur == nil {
		return fmt.Errorf("supervisor: parent not connected")
	}
	return cur.Notify(ctx, notice)
}

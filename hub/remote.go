package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hubmesh/hub/intercept"
	"github.com/hubmesh/hub/transport"
	"github.com/hubmesh/hub/wire"
)

// ErrLinkClosed is returned once a Link's channel has broken.
var ErrLinkClosed = errors.New("hub: link closed")

// Link turns a full-duplex transport.Channel into the synchronous Parent /
// ChildLink calls the rest of this package expects, by running one reader
// goroutine that demultiplexes inbound frames: API responses complete a
// pending outbound call, API requests are stamped with the channel's TLS
// peer identity (if any) and handed to onRequest, then answered with an API
// response frame, and Publish and RegisterAPI frames (registrations, and
// deregistrations with Remove set) are handed to the matching callback. The same type backs both directions of a hub-to-hub
// channel (escalating child ↔ forwarding parent).
type Link struct {
	ch       transport.Channel
	identity string // ch.RemoteIdentity(), captured once at construction
	pending  *pendingTable

	onRequest    func(ctx context.Context, req wire.Request) wire.Response
	onPublish    func(ctx context.Context, msg wire.Message)
	onRegister   func(ctx context.Context, notice RegistrationNotice) error

	ackMu sync.Mutex
	acks  map[string]chan error // keyed by path, for RegisterAck/DeregisterAck correlation

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// LinkHandlers bundles the inbound callbacks a Link dispatches to. A
// hub-to-hub link (RemoteParent on the child's side, RemoteChild on the
// parent's side) only ever needs onRegister to flow one way and onRequest
// to flow the other; unused callbacks may be left nil.
type LinkHandlers struct {
	OnRequest  func(ctx context.Context, req wire.Request) wire.Response
	OnPublish  func(ctx context.Context, msg wire.Message)
	OnRegister func(ctx context.Context, notice RegistrationNotice) error
}

// NewLink wraps ch and starts its reader loop. The caller must supply
// peerID, the identifier of the hub or child on the other end, used to tag
// inbound registration notices.
func NewLink(ch transport.Channel, peerID string, handlers LinkHandlers) *Link {
	l := &Link{
		ch:         ch,
		identity:   ch.RemoteIdentity(),
		pending:    newPendingTable(),
		onRequest:  handlers.OnRequest,
		onPublish:  handlers.OnPublish,
		onRegister: handlers.OnRegister,
		acks:       make(map[string]chan error),
		closed:     make(chan struct{}),
	}
	go l.readLoop(peerID)
	return l
}

func (l *Link) readLoop(peerID string) {
	for {
		f, err := l.ch.Recv()
		if err != nil {
			l.fail(err)
			return
		}
		switch f.Type {
		case wire.TypeAPIResponse:
			var resp wire.Response
			if decErr := wire.Decode(f, &resp); decErr == nil {
				l.pending.complete(resp.RequestID, resp)
			}
		case wire.TypeAPIRequest:
			var req wire.Request
			if decErr := wire.Decode(f, &req); decErr != nil {
				continue
			}
			if l.identity != "" {
				req = req.WithMetadata(wire.MetaAuthIdentity, l.identity)
			}
			go l.answerRequest(req)
		case wire.TypePublish:
			var msg wire.Message
			if decErr := wire.Decode(f, &msg); decErr == nil && l.onPublish != nil {
				l.onPublish(context.Background(), msg)
			}
		case wire.TypeRegisterAPI:
			var reg wire.RegisterAPI
			if decErr := wire.Decode(f, &reg); decErr == nil {
				l.answerRegister(peerID, reg.Path, reg.Metadata, reg.Remove)
			}
		case wire.TypeRegisterAck:
			var ack wire.RegisterAck
			if decErr := wire.Decode(f, &ack); decErr == nil {
				l.deliverAck(ack.Path, ack.Error)
			}
		case wire.TypeShutdown:
			l.fail(ErrLinkClosed)
			return
		}
	}
}

func (l *Link) answerRequest(req wire.Request) {
	var resp wire.Response
	if l.onRequest != nil {
		resp = l.onRequest(context.Background(), req)
	} else {
		resp = wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "no request handler on this link"}}
	}
	frame, err := wire.Encode(wire.TypeAPIResponse, resp)
	if err != nil {
		return
	}
	_ = l.ch.Send(frame)
}

func (l *Link) answerRegister(peerID, path string, metadata wire.Metadata, remove bool) {
	var ackErr string
	if l.onRegister != nil {
		if err := l.onRegister(context.Background(), RegistrationNotice{ChildID: peerID, Path: path, Metadata: metadata, Remove: remove}); err != nil {
			ackErr = err.Error()
		}
	}
	frame, err := wire.Encode(wire.TypeRegisterAck, wire.RegisterAck{Path: path, Error: ackErr})
	if err != nil {
		return
	}
	_ = l.ch.Send(frame)
}

func (l *Link) deliverAck(path, errMsg string) {
	l.ackMu.Lock()
	ch, ok := l.acks[path]
	l.ackMu.Unlock()
	if !ok {
		return
	}
	var err error
	if errMsg != "" {
		err = errors.New(errMsg)
	}
	select {
	case ch <- err:
	default:
	}
}

func (l *Link) fail(err error) {
	l.closeOnce.Do(func() {
		l.closeErr = err
		close(l.closed)
	})
}

// Request sends req as an API request frame and blocks for the correlated
// response. If ctx ends first it returns an Error response whose error is
// "TimedOut"; if the send fails or the link breaks first, one whose error is
// a TransportError message.
func (l *Link) Request(ctx context.Context, req wire.Request) wire.Response {
	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(30 * time.Second)
	}
	entry, removeFn := l.pending.register(req.RequestID, req.SenderID, deadline)

	frame, err := wire.Encode(wire.TypeAPIRequest, req)
	if err != nil {
		removeFn()
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": err.Error()}}
	}
	if err := l.ch.Send(frame); err != nil {
		removeFn()
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": fmt.Sprintf("TransportError: %v", err)}}
	}

	select {
	case resp := <-entry.done:
		return resp
	case <-ctx.Done():
		removeFn()
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "TimedOut"}}
	case <-l.closed:
		removeFn()
		return wire.Response{RequestID: req.RequestID, Status: wire.StatusError, Metadata: wire.Metadata{"error": "TransportError: link closed"}}
	}
}

// Publish sends msg as a fire-and-forget publish frame.
func (l *Link) Publish(msg wire.Message) error {
	frame, err := wire.Encode(wire.TypePublish, msg)
	if err != nil {
		return err
	}
	return l.ch.Send(frame)
}

// Notify sends a registration (or deregistration) notice and waits for its
// ack, per the Propagation is best-effort contract in §4.1 — callers decide
// whether to mark the entry parent_unsynced on error.
func (l *Link) Notify(ctx context.Context, notice RegistrationNotice) error {
	ackCh := make(chan error, 1)
	l.ackMu.Lock()
	l.acks[notice.Path] = ackCh
	l.ackMu.Unlock()
	defer func() {
		l.ackMu.Lock()
		delete(l.acks, notice.Path)
		l.ackMu.Unlock()
	}()

	payload := wire.RegisterAPI{Path: notice.Path, Metadata: notice.Metadata, ClientID: notice.ChildID, Remove: notice.Remove}
	frame, err := wire.Encode(wire.TypeRegisterAPI, payload)
	if err != nil {
		return err
	}
	if err := l.ch.Send(frame); err != nil {
		return fmt.Errorf("TransportError: %w", err)
	}

	select {
	case err := <-ackCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return ErrLinkClosed
	}
}

// Done returns a channel closed once the link has failed (read error,
// decode of a Shutdown frame, or Close). Used by a caller that needs to
// notice breakage and redial, e.g. supervisor's parent connection.
func (l *Link) Done() <-chan struct{} { return l.closed }

// Err returns the error that caused the link to fail, valid only after
// Done is closed.
func (l *Link) Err() error { return l.closeErr }

// Close sends a Shutdown frame announcing a clean teardown, then closes the
// underlying channel. The send is best-effort: a write failure here just
// means the peer learns of the disconnect from Recv() erroring instead.
func (l *Link) Close() error {
	if frame, err := wire.Encode(shutdownFrame("closed")); err == nil {
		_ = l.ch.Send(frame)
	}
	l.fail(ErrLinkClosed)
	return l.ch.Close()
}

// RemoteParent is a Parent reached over a transport.Link, for escalation
// and registration-notice propagation across a process/machine/network
// boundary.
type RemoteParent struct {
	link *Link
}

// NewRemoteParent wraps link as a Parent.
func NewRemoteParent(link *Link) *RemoteParent { return &RemoteParent{link: link} }

func (p *RemoteParent) HandleRequest(ctx context.Context, req wire.Request) wire.Response {
	return p.link.Request(ctx, req)
}

// Publish forwards msg without waiting for a result and always reports
// (nil, false). A send error is discarded; it is not counted as a drop.
func (p *RemoteParent) Publish(ctx context.Context, msg wire.Message) (*intercept.Outcome, bool) {
	_ = p.link.Publish(msg)
	return nil, false
}

func (p *RemoteParent) Notify(ctx context.Context, notice RegistrationNotice) error {
	return p.link.Notify(ctx, notice)
}

// RemoteChild is a ChildLink reached over a transport.Link, used by a
// parent hub to forward a request down to a specific connected child.
type RemoteChild struct {
	link *Link
}

// NewRemoteChild wraps link as a ChildLink.
func NewRemoteChild(link *Link) *RemoteChild { return &RemoteChild{link: link} }

func (c *RemoteChild) HandleRequest(ctx context.Context, req wire.Request) wire.Response {
	return c.link.Request(ctx, req)
}

package supervisor

import (
	"fmt"
	"net"
	"net/http"

	"github.com/hubmesh/hub/transport"
)

// listener is the small surface Supervisor's accept loop needs, satisfied
// by either a raw TCP transport.Listener or an HTTP server offering
// websocket upgrades — letting acceptLoop stay agnostic to which wire
// transport this process was configured for.
type listener interface {
	Accept() (transport.Channel, error)
	Addr() string
	Close() error
}

type tcpListener struct {
	ln *transport.Listener
}

func (l *tcpListener) Accept() (transport.Channel, error) { return l.ln.Accept() }
func (l *tcpListener) Addr() string                       { return l.ln.Addr().String() }
func (l *tcpListener) Close() error                       { return l.ln.Close() }

// wsListener runs an HTTP server whose only route upgrades incoming
// requests to a websocket transport.Channel, queuing each for Accept.
type wsListener struct {
	ln  net.Listener
	srv *http.Server

	accepted chan transport.Channel
	failed   chan error
}

func listenWebSocket(addr string) (*wsListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: listen: %w", err)
	}
	wl := &wsListener{
		ln:       ln,
		accepted: make(chan transport.Channel),
		failed:   make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ch, err := transport.UpgradeHTTP(w, r)
		if err != nil {
			return
		}
		wl.accepted <- ch
	})
	wl.srv = &http.Server{Handler: mux}
	go func() {
		if err := wl.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			wl.failed <- err
		}
	}()
	return wl, nil
}

func (l *wsListener) Accept() (transport.Channel, error) {
	select {
	case ch := <-l.accepted:
		return ch, nil
	case err := <-l.failed:
		return nil, err
	}
}

func (l *wsListener) Addr() string { return l.ln.Addr().String() }
func (l *wsListener) Close() error { return l.srv.Close() }

package transport

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/hubmesh/hub/wire"
)

// tcpChannel implements Channel over a length-prefixed TCP (optionally
// TLS) connection, the default channel kind for hub-to-hub and
// process/machine-scope node connections.
type tcpChannel struct {
	conn   net.Conn
	writer frameWriter
}

// NewTCPChannel wraps an already-established connection (as returned by
// Dial or accepted from Listen) in a Channel.
func NewTCPChannel(conn net.Conn) Channel {
	return &tcpChannel{conn: conn}
}

func (c *tcpChannel) Send(f wire.Frame) error {
	return c.writer.guard(func() error {
		return wire.WriteFrame(c.conn, f.Type, f.Payload)
	})
}

func (c *tcpChannel) Recv() (wire.Frame, error) {
	return wire.ReadFrame(c.conn)
}

func (c *tcpChannel) Close() error {
	return c.conn.Close()
}

func (c *tcpChannel) RemoteIdentity() string {
	tlsConn, ok := c.conn.(*tls.Conn)
	if !ok {
		return ""
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}

// Dial opens a TCP channel to addr, performing a TLS handshake first if
// opts enables it.
func Dial(addr string, opts *TLSOptions) (Channel, error) {
	tlsCfg, err := opts.clientTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		return NewTCPChannel(conn), nil
	}
	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("transport: tls dial %s: %w", addr, err)
	}
	return NewTCPChannel(conn), nil
}

// Listener accepts incoming TCP channels, transparently wrapping each
// accepted connection with TLS when configured.
type Listener struct {
	ln net.Listener
}

// Listen binds addr and returns a Listener. When opts names a certificate,
// every accepted connection is TLS-wrapped before Accept returns it.
func Listen(addr string, opts *TLSOptions) (*Listener, error) {
	tlsCfg, err := opts.serverTLSConfig()
	if err != nil {
		return nil, err
	}
	var ln net.Listener
	if tlsCfg != nil {
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next incoming channel.
func (l *Listener) Accept() (Channel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPChannel(conn), nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

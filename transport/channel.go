// Package transport implements the framed channel contract of §4.3 and the
// channel lifecycle state machine of §4.5: full-duplex frame delivery
// between hubs of different scopes, or between a hub and a remote node,
// optionally secured with TLS, with bounded reconnect/backoff.
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/hubmesh/hub/wire"
)

// ErrClosed is returned by Send/Recv once a Channel has been closed.
var ErrClosed = errors.New("transport: channel closed")

// Channel is a full-duplex frame stream. Implementations must serialize
// concurrent Send calls themselves; Recv is only ever called from one
// reader loop per channel, per §5 (no hub command suspends while holding a
// registry lock, and channel reads happen outside any such lock).
type Channel interface {
	// Send writes one frame. Safe for concurrent use.
	Send(f wire.Frame) error
	// Recv blocks for the next frame. Not safe for concurrent use.
	Recv() (wire.Frame, error)
	// Close tears down the underlying connection.
	Close() error
	// RemoteIdentity returns the TLS peer identity presented during the
	// handshake, or "" if the channel is unauthenticated or not secured
	// with mutual TLS. Populates Metadata.authenticated_identity on
	// incoming requests per §6.
	RemoteIdentity() string
}

// State is a position in the §4.5 channel lifecycle state machine:
// Disconnected → Connecting → Connected → Reconnecting → Closed.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TLSOptions configures the optional transport security described in §6.
type TLSOptions struct {
	// CertPath/KeyPath are the server's certificate chain and private key.
	// Required for a listener to present TLS at all.
	CertPath string
	KeyPath  string
	// ClientCAPath, if set, enables mutual TLS: the listener requires and
	// verifies a client certificate signed by this CA.
	ClientCAPath string
	// VerifyPeer controls certificate verification on the dialing side.
	// The zero value is false, which the dialer rejects unless Insecure is
	// set; supervisor.Config defaults verify_peer to true.
	VerifyPeer bool
	// Insecure allows an unverified connection. Per §6, unverified
	// connections are refused unless this is explicitly set.
	Insecure bool
}

// Enabled reports whether TLS should be used at all for this configuration.
func (o *TLSOptions) Enabled() bool {
	return o != nil && (o.CertPath != "" || o.Insecure)
}

func (o *TLSOptions) clientTLSConfig() (*tls.Config, error) {
	if o == nil || !o.Enabled() {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: o.Insecure,
	}
	if !o.VerifyPeer && !o.Insecure {
		return nil, errors.New("transport: verify_peer=false requires insecure mode to be set explicitly")
	}
	return cfg, nil
}

func (o *TLSOptions) serverTLSConfig() (*tls.Config, error) {
	if o == nil || o.CertPath == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(o.CertPath, o.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("transport: load server cert: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if o.ClientCAPath != "" {
		pool, err := loadCertPool(o.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("transport: load client CA: %w", err)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// frameWriter serializes Send across goroutines for a single underlying
// connection, since two goroutines writing overlapping frame bytes would
// corrupt the stream.
type frameWriter struct {
	mu sync.Mutex
}

func (w *frameWriter) guard(fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn()
}

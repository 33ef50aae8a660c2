package transport

import (
	"net"
	"testing"

	"github.com/hubmesh/hub/wire"
)

func TestTCPChannel_SendRecvRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverCh := make(chan Channel, 1)
	go func() {
		ch, err := ln.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		serverCh <- ch
	}()

	client, err := Dial(ln.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := <-serverCh
	defer server.Close()

	if err := client.Send(wire.Frame{Type: wire.TypeAPIRequest, Payload: []byte("hello")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if f.Type != wire.TypeAPIRequest || string(f.Payload) != "hello" {
		t.Fatalf("received = %+v", f)
	}
}

func TestTCPChannel_RemoteIdentityEmptyWithoutTLS(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	client, err := Dial(ln.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if id := client.RemoteIdentity(); id != "" {
		t.Fatalf("RemoteIdentity = %q, want empty for a plaintext connection", id)
	}
}

func TestDial_RefusedConnection(t *testing.T) {
	// Bind and immediately close to obtain a very-likely-unused local port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(addr, nil); err == nil {
		t.Fatalf("expected an error dialing a closed port")
	}
}

func TestTLSOptions_Enabled(t *testing.T) {
	var nilOpts *TLSOptions
	if nilOpts.Enabled() {
		t.Fatalf("nil options should not enable TLS")
	}
	if (&TLSOptions{}).Enabled() {
		t.Fatalf("empty options should not enable TLS")
	}
	if !(&TLSOptions{Insecure: true}).Enabled() {
		t.Fatalf("Insecure should enable TLS")
	}
	if !(&TLSOptions{CertPath: "cert.pem"}).Enabled() {
		t.Fatalf("a cert path should enable TLS")
	}
}

func TestState_String(t *testing.T) {
	if Connected.String() != "Connected" {
		t.Fatalf("String() = %q", Connected.String())
	}
	if State(99).String() == "" {
		t.Fatalf("unknown state should still stringify to something non-empty")
	}
}

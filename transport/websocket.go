package transport

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hubmesh/hub/wire"
)

// wsChannel implements Channel over a gorilla/websocket connection, for
// remote/browser-style nodes connecting to a network-scope hub where a
// raw TCP socket isn't available. Each websocket binary message carries
// exactly one encoded wire.Frame (header and payload together), so the
// framing contract in §6 is preserved byte-for-byte inside the message
// body.
type wsChannel struct {
	conn   *websocket.Conn
	writer frameWriter
}

// NewWebSocketChannel wraps an established websocket connection.
func NewWebSocketChannel(conn *websocket.Conn) Channel {
	return &wsChannel{conn: conn}
}

func (c *wsChannel) Send(f wire.Frame) error {
	return c.writer.guard(func() error {
		var buf bytes.Buffer
		if err := wire.WriteFrame(&buf, f.Type, f.Payload); err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
	})
}

func (c *wsChannel) Recv() (wire.Frame, error) {
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return wire.Frame{}, err
	}
	if kind != websocket.BinaryMessage {
		return wire.Frame{}, fmt.Errorf("transport: unexpected websocket message kind %d", kind)
	}
	return wire.ReadFrame(bytes.NewReader(data))
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}

func (c *wsChannel) RemoteIdentity() string {
	tlsConn, ok := c.conn.UnderlyingConn().(*tls.Conn)
	if !ok {
		return ""
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}

// upgrader is shared across all WebSocket accepts; origin checking is a
// gateway policy concern (§1 out of scope) so it always accepts here.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// UpgradeHTTP upgrades an incoming HTTP request to a websocket Channel.
// Intended for a network-scope hub's listener that also accepts
// browser-originated node connections alongside raw TCP ones.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request) (Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	return NewWebSocketChannel(conn), nil
}

// DialWebSocket opens a websocket Channel to a "ws://" or "wss://" URL.
func DialWebSocket(url string) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	return NewWebSocketChannel(conn), nil
}

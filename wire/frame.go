// Package wire defines the on-the-wire frame format and message shapes
// shared by every hub-to-hub and node-to-hub channel.
//
// Frame layout: | type:u8 | length:u32 BE | payload:bytes[length] |.
// Payload encoding is JSON — self-describing and lossless for every type
// in this package, and the same choice the rig SDK makes for its own
// client/server wire structs.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Type identifies the kind of frame on the wire, per the type codes table.
type Type uint8

const (
	TypeAPIRequest          Type = 1
	TypeAPIResponse         Type = 2
	TypePublish             Type = 3
	TypeInterceptInvoke     Type = 4
	TypeRegisterAPI         Type = 5
	TypeRegisterAck         Type = 6
	TypeSubscribe           Type = 7
	TypeSubscribeAck        Type = 8
	TypeRegisterInterceptor Type = 9
	TypeInterceptorAck      Type = 10
	TypeShutdown            Type = 99
)

func (t Type) String() string {
	switch t {
	case TypeAPIRequest:
		return "APIRequest"
	case TypeAPIResponse:
		return "APIResponse"
	case TypePublish:
		return "Publish"
	case TypeInterceptInvoke:
		return "InterceptInvoke"
	case TypeRegisterAPI:
		return "RegisterAPI"
	case TypeRegisterAck:
		return "RegisterAck"
	case TypeSubscribe:
		return "Subscribe"
	case TypeSubscribeAck:
		return "SubscribeAck"
	case TypeRegisterInterceptor:
		return "RegisterInterceptor"
	case TypeInterceptorAck:
		return "InterceptorAck"
	case TypeShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MaxFramePayload bounds a single frame's payload size. It exists purely as
// a sanity ceiling against a corrupt or hostile length prefix; it is not a
// protocol option.
const MaxFramePayload = 64 << 20 // 64 MiB

// Frame is a single decoded wire frame.
type Frame struct {
	Type    Type
	Payload []byte
}

// WriteFrame writes one frame to w: a one-byte type tag, a four-byte
// big-endian length, and the payload itself.
func WriteFrame(w io.Writer, t Type, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(t)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, blocking until the full frame is
// available or r returns an error.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err // includes io.EOF, left unwrapped for callers to detect cleanly
	}
	t := Type(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFramePayload {
		return Frame{}, fmt.Errorf("wire: frame payload %d exceeds max %d", length, MaxFramePayload)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}
	return Frame{Type: t, Payload: payload}, nil
}

// NewFrameReader wraps r with buffering sized for typical control and
// request/response payloads, avoiding a syscall per header read.
func NewFrameReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 4096)
}

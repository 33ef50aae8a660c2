package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, TypeAPIRequest, []byte(`{"path":"/x"}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != TypeAPIRequest {
		t.Fatalf("type = %v, want APIRequest", f.Type)
	}
	if string(f.Payload) != `{"path":"/x"}` {
		t.Fatalf("payload = %q", f.Payload)
	}
}

func TestWriteReadFrame_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, TypeShutdown, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("payload = %q, want empty", f.Payload)
	}
}

func TestReadFrame_EOFOnEmptyReader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TypeAPIRequest))
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // length far beyond MaxFramePayload
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatalf("expected error for oversized length prefix")
	}
}

func TestReadFrame_MultipleFramesSequentially(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, TypeAPIRequest, []byte("a"))
	WriteFrame(&buf, TypeAPIResponse, []byte("bb"))
	f1, err := ReadFrame(&buf)
	if err != nil || f1.Type != TypeAPIRequest || string(f1.Payload) != "a" {
		t.Fatalf("f1 = %+v, err %v", f1, err)
	}
	f2, err := ReadFrame(&buf)
	if err != nil || f2.Type != TypeAPIResponse || string(f2.Payload) != "bb" {
		t.Fatalf("f2 = %+v, err %v", f2, err)
	}
}

func TestType_String(t *testing.T) {
	if TypeRegisterAPI.String() != "RegisterAPI" {
		t.Fatalf("String() = %q", TypeRegisterAPI.String())
	}
	if Type(200).String() != "Type(200)" {
		t.Fatalf("String() for unknown type = %q", Type(200).String())
	}
}

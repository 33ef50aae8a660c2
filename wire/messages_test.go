package wire

import "testing"

func TestMetadata_Clone(t *testing.T) {
	var nilMeta Metadata
	if nilMeta.Clone() != nil {
		t.Fatalf("Clone of nil should stay nil")
	}
	m := Metadata{"a": "1"}
	cp := m.Clone()
	cp["a"] = "2"
	if m["a"] != "1" {
		t.Fatalf("Clone shared storage with the original")
	}
}

func TestRequest_WithMetadata_DoesNotMutateOriginal(t *testing.T) {
	orig := Request{RequestID: "r1", Metadata: Metadata{"x": "1"}}
	updated := orig.WithMetadata("y", "2")
	if _, ok := orig.Metadata["y"]; ok {
		t.Fatalf("WithMetadata mutated the receiver's metadata")
	}
	if updated.Metadata["x"] != "1" || updated.Metadata["y"] != "2" {
		t.Fatalf("updated metadata = %+v", updated.Metadata)
	}
}

func TestRequest_WithMetadata_NilMetadata(t *testing.T) {
	orig := Request{RequestID: "r1"}
	updated := orig.WithMetadata("k", "v")
	if updated.Metadata["k"] != "v" {
		t.Fatalf("WithMetadata on nil metadata = %+v", updated.Metadata)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	f, err := Encode(TypeRegisterAPI, RegisterAPI{Path: "/x", ClientID: "c1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if f.Type != TypeRegisterAPI {
		t.Fatalf("type = %v", f.Type)
	}
	var out RegisterAPI
	if err := Decode(f, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Path != "/x" || out.ClientID != "c1" {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestDecode_EmptyPayloadIsNoop(t *testing.T) {
	var out RegisterAPI
	if err := Decode(Frame{Type: TypeRegisterAPI}, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Path != "" {
		t.Fatalf("expected zero value, got %+v", out)
	}
}

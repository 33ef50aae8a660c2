package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is a free-form string-to-string bag carried on requests,
// responses, and messages. Well-known keys used by the resolution and
// publish algorithms are documented next to the constants below.
type Metadata map[string]string

// Clone returns a shallow copy, or nil if m is nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Well-known metadata keys set by the hub during resolution.
const (
	MetaEscalatedFrom = "escalated_from"
	MetaOriginalPath  = "original_path"
	MetaMatchedPath   = "matched_path"
	MetaSource        = "source"
	MetaAuthIdentity  = "authenticated_identity"
	MetaFallback      = "fallback" // set on a registry entry, not a request
)

// Status is the outcome of a resolved request.
type Status string

const (
	StatusSuccess      Status = "Success"
	StatusNotFound     Status = "NotFound"
	StatusError        Status = "Error"
	StatusIntercepted  Status = "Intercepted"
	StatusApproximated Status = "Approximated"
)

// Request is an immutable (post-construction) request travelling through
// the hub hierarchy. Escalation and fallback rewriting always operate on a
// copy, never mutate the original.
type Request struct {
	RequestID   string          `json:"request_id"`
	Path        string          `json:"path"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    Metadata        `json:"metadata,omitempty"`
	SenderID    string          `json:"sender_id"`
	OriginHubID string          `json:"origin_hub_id"`
	Deadline    time.Time       `json:"deadline"`
}

// WithMetadata returns a copy of r with key=value merged into its metadata.
func (r Request) WithMetadata(key, value string) Request {
	r.Metadata = r.Metadata.Clone()
	if r.Metadata == nil {
		r.Metadata = Metadata{}
	}
	r.Metadata[key] = value
	return r
}

// Response is the single outcome delivered for a Request.
type Response struct {
	RequestID string          `json:"request_id"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  Metadata        `json:"metadata,omitempty"`
}

// Message is a published, fire-and-forget event.
type Message struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  Metadata        `json:"metadata,omitempty"`
	SenderID  string          `json:"sender_id"`
	TimestampMS int64         `json:"timestamp_ms"`
}

// Control payload shapes (frame types 4-10, 99).

// InterceptInvoke asks a remote client to run one of its registered
// interceptors and return the result over the same channel.
type InterceptInvoke struct {
	InterceptorID string          `json:"interceptor_id"`
	Topic         string          `json:"topic"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Metadata      Metadata        `json:"metadata,omitempty"`
}

// RegisterAPI announces a registry entry, or its removal when Remove is
// set. Per §4.1 this never carries the handler itself, only enough for the
// parent to forward unresolved requests back down. §6's wire table has a
// single "Register API" type code (5); register and deregister notices both
// travel as this frame, distinguished by Remove rather than a second code.
type RegisterAPI struct {
	Path     string   `json:"path"`
	Metadata Metadata `json:"metadata,omitempty"`
	ClientID string   `json:"client_id"`
	Remove   bool     `json:"remove,omitempty"`
}

// DeregisterAPI is a removal payload shape that nothing in this module
// sends; on the wire a removal travels inside a RegisterAPI frame with
// Remove set, per the type-code table's fixed 11 kinds.
type DeregisterAPI struct {
	Path     string `json:"path"`
	ClientID string `json:"client_id"`
}

// RegisterAck acknowledges a RegisterAPI or DeregisterAPI, carrying an
// error string on failure (e.g. Conflict) or empty on success.
type RegisterAck struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// Subscribe announces a new subscription.
type Subscribe struct {
	Pattern        string `json:"pattern"`
	ClientID       string `json:"client_id"`
	Priority       int    `json:"priority"`
	SubscriptionID string `json:"subscription_id"`
}

// Unsubscribe removes a previously announced subscription.
type Unsubscribe struct {
	SubscriptionID string `json:"subscription_id"`
}

// SubscribeAck acknowledges Subscribe/Unsubscribe.
type SubscribeAck struct {
	SubscriptionID string `json:"subscription_id"`
	Error          string `json:"error,omitempty"`
}

// RegisterInterceptor announces a new message or method interceptor.
type RegisterInterceptor struct {
	InterceptorID string `json:"interceptor_id"`
	Kind          string `json:"kind"` // "message" or "method"
	Pattern       string `json:"pattern,omitempty"`
	TypeID        string `json:"type_id,omitempty"`
	MethodName    string `json:"method_name,omitempty"`
	ClientID      string `json:"client_id"`
	Priority      int    `json:"priority"`
}

// DeregisterInterceptor removes a previously announced interceptor.
type DeregisterInterceptor struct {
	InterceptorID string `json:"interceptor_id"`
}

// InterceptorAck acknowledges RegisterInterceptor/DeregisterInterceptor.
type InterceptorAck struct {
	InterceptorID string `json:"interceptor_id"`
	Error         string `json:"error,omitempty"`
}

// Shutdown announces a clean channel teardown in either direction.
type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

// Encode marshals v and wraps it in a Frame of the given type.
func Encode(t Type, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: encode %s payload: %w", t, err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

// Decode unmarshals a frame's payload into v.
func Decode(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", f.Type, err)
	}
	return nil
}

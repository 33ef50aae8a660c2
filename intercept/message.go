// Package intercept implements the Interceptor Table (§3, §4.1) for both
// messages and methods, and the proxy/method-interception machinery of
// §4.4 that wraps an arbitrary Go callable so invocations route through a
// MethodTable before executing the original.
package intercept

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hubmesh/hub/pathmatch"
	"github.com/hubmesh/hub/wire"
)

// Outcome is what an interceptor returns to short-circuit a request or
// publish. A nil *Outcome (with handled=false) means "not intercepted,
// continue" per §4.1 step 1 and the publish algorithm.
type Outcome struct {
	Payload     []byte
	Metadata    wire.Metadata
	PolicyError string // non-empty => the interceptor is acting as a gate (§7 PolicyError)
}

// MessageFunc is a message interceptor: given the topic/path, payload and
// metadata of a request or publish, it returns a non-nil Outcome to
// short-circuit, or (nil, false) to pass through.
type MessageFunc func(ctx context.Context, topic string, payload []byte, metadata wire.Metadata) (*Outcome, bool)

// MessageInterceptor is one registered message interceptor.
type MessageInterceptor struct {
	ID       string
	Pattern  string
	ClientID string
	Priority int
	Fn       MessageFunc

	seq uint64
}

// MessageTable holds every message interceptor at one hub. The same table
// backs both request interception (§4.1 step 1, matched against the
// request path) and publish interception (§4.1 publish step 1, matched
// against the topic) — the spec defines both as "message-interceptors
// whose pattern matches" the path/topic.
type MessageTable struct {
	mu   sync.RWMutex
	byID map[string]*MessageInterceptor
	seq  atomic.Uint64
}

// NewMessageTable creates an empty MessageTable.
func NewMessageTable() *MessageTable {
	return &MessageTable{byID: make(map[string]*MessageInterceptor)}
}

// Register adds a message interceptor and returns it.
func (t *MessageTable) Register(id, pattern, clientID string, priority int, fn MessageFunc) *MessageInterceptor {
	ic := &MessageInterceptor{
		ID:       id,
		Pattern:  pattern,
		ClientID: clientID,
		Priority: priority,
		Fn:       fn,
		seq:      t.seq.Add(1),
	}
	t.mu.Lock()
	t.byID[id] = ic
	t.mu.Unlock()
	return ic
}

// Deregister removes an interceptor by ID. Reports whether it existed.
func (t *MessageTable) Deregister(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	return true
}

// Matching returns interceptors whose pattern matches topic, in descending
// priority order with ties broken by ascending registration order.
func (t *MessageTable) Matching(topic string) []*MessageInterceptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var matched []*MessageInterceptor
	for _, ic := range t.byID {
		if pathmatch.Match(ic.Pattern, topic) {
			cp := *ic
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// Dispatch evaluates matching interceptors in order and returns the first
// non-nil Outcome. Returns (nil, false) if every interceptor passed
// through or none matched.
func (t *MessageTable) Dispatch(ctx context.Context, topic string, payload []byte, metadata wire.Metadata) (*Outcome, bool) {
	for _, ic := range t.Matching(topic) {
		if out, handled := ic.Fn(ctx, topic, payload, metadata); handled {
			return out, true
		}
	}
	return nil, false
}

// RemoveOwner removes every interceptor owned by clientID and returns
// their IDs.
func (t *MessageTable) RemoveOwner(clientID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for id, ic := range t.byID {
		if ic.ClientID == clientID {
			delete(t.byID, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

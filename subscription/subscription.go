// Package subscription implements the pattern→priority-ordered subscriber
// list described in §3 (Subscription) and §4.1 (subscribe/unsubscribe).
package subscription

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hubmesh/hub/pathmatch"
	"github.com/hubmesh/hub/wire"
)

// Callback delivers a published message to a subscriber. Subscriber
// callbacks are fire-and-forget: their return value is ignored during
// fan-out (§4.1 publish step 2), so Callback returns nothing observable.
type Callback func(ctx context.Context, msg *wire.Message)

// Subscription is one registered listener.
type Subscription struct {
	ID       string
	Pattern  string
	ClientID string
	Priority int
	Callback Callback

	seq uint64 // registration order, used as the stable tie-break
}

// Table holds every subscription at one hub, keyed by subscription ID;
// Match filters them against a topic.
type Table struct {
	mu      sync.RWMutex
	byID    map[string]*Subscription
	seq     atomic.Uint64
}

// New creates an empty Table.
func New() *Table {
	return &Table{byID: make(map[string]*Subscription)}
}

// Subscribe registers cb against pattern with the given priority and
// returns the new Subscription, whose ID is unique within this table.
func (t *Table) Subscribe(id, pattern, clientID string, priority int, cb Callback) *Subscription {
	sub := &Subscription{
		ID:       id,
		Pattern:  pattern,
		ClientID: clientID,
		Priority: priority,
		Callback: cb,
		seq:      t.seq.Add(1),
	}
	t.mu.Lock()
	t.byID[id] = sub
	t.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription by ID. Reports whether it existed.
func (t *Table) Unsubscribe(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	return true
}

// Match returns every subscription whose pattern matches topic, ordered by
// descending priority with ties broken by ascending registration order
// (stable, per §3 and invariant 4 in §8).
func (t *Table) Match(topic string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var matched []*Subscription
	for _, sub := range t.byID {
		if pathmatch.Match(sub.Pattern, topic) {
			cp := *sub
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

// RemoveOwner removes every subscription owned by clientID and returns
// their IDs.
func (t *Table) RemoveOwner(clientID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for id, sub := range t.byID {
		if sub.ClientID == clientID {
			delete(t.byID, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

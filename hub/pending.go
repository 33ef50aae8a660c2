package hub

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/hubmesh/hub/wire"
)

// pendingEntry is the pending-request record of §3: request_id → (origin
// client, deadline, completion signal). done receives at most one Response:
// complete sends the matching response (or cancelOrigin's cancellation) and
// removes the entry. A waiter whose context ends removes the entry itself;
// no timeout Response is sent on done.
type pendingEntry struct {
	originClientID string
	deadline       time.Time
	done           chan wire.Response
	cancel         func()
}

// pendingTable is the hub's request-correlation map. §5 describes it as
// "protected by a single mutex... updates must be O(log n) or better";
// xsync.Map gives sharded, lock-free-on-the-read-path access that satisfies
// that bound more cheaply than a literal sync.Mutex+map, while still
// presenting a single synchronized structure to callers.
type pendingTable struct {
	m *xsync.Map[string, *pendingEntry]
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: xsync.NewMap[string, *pendingEntry]()}
}

// register records a new pending request and returns its entry, whose done
// channel receives the response (or a cancellation Response from
// cancelOrigin), together with a func that removes the entry.
func (p *pendingTable) register(requestID, originClientID string, deadline time.Time) (*pendingEntry, func()) {
	e := &pendingEntry{
		originClientID: originClientID,
		deadline:       deadline,
		done:           make(chan wire.Response, 1),
	}
	p.m.Store(requestID, e)
	remove := func() { p.m.Delete(requestID) }
	e.cancel = remove
	return e, remove
}

// complete delivers resp to the waiter for requestID, if one is still
// pending. Reports whether a waiter existed.
func (p *pendingTable) complete(requestID string, resp wire.Response) bool {
	e, ok := p.m.LoadAndDelete(requestID)
	if !ok {
		return false
	}
	select {
	case e.done <- resp:
	default:
	}
	return true
}

// cancelOrigin fails every pending request whose origin is clientID with a
// Cancelled-flavored response, for use on origin disconnect (§5).
func (p *pendingTable) cancelOrigin(clientID string) {
	var stale []string
	p.m.Range(func(requestID string, e *pendingEntry) bool {
		if e.originClientID == clientID {
			stale = append(stale, requestID)
		}
		return true
	})
	for _, id := range stale {
		p.complete(id, wire.Response{
			RequestID: id,
			Status:    wire.StatusError,
			Metadata:  wire.Metadata{"error": "Cancelled"},
		})
	}
}

// len reports the number of currently pending requests (for metrics/tests).
func (p *pendingTable) len() int {
	n := 0
	p.m.Range(func(string, *pendingEntry) bool { n++; return true })
	return n
}

package intercept

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// TypeID is a stable type-identity token used to key method interceptors.
// §9 calls out that the source's reflective class objects must become an
// explicit, statically-typed identity — TypeID is that identity. Callers
// typically derive one per concrete Go type once, e.g.:
//
//	const OrderServiceType intercept.TypeID = "billing.OrderService"
type TypeID string

// typeGraph is a parent-pointer forest recording "TypeID T is a subtype of
// TypeID P" relationships, so method interceptors registered against a
// supertype also match calls on every registered subtype (§3, §8
// invariant 6).
type typeGraph struct {
	mu      sync.RWMutex
	parents map[TypeID]TypeID
}

func newTypeGraph() *typeGraph {
	return &typeGraph{parents: make(map[TypeID]TypeID)}
}

// registerType declares that child is a direct subtype of parent.
func (g *typeGraph) registerType(child, parent TypeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.parents[child] = parent
}

// chain returns t and every ancestor, most specific first. A cycle (which
// registerType should never create, but a buggy caller might) terminates
// the walk rather than looping forever.
func (g *typeGraph) chain(t TypeID) []TypeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	chain := []TypeID{t}
	seen := map[TypeID]bool{t: true}
	for {
		parent, ok := g.parents[chain[len(chain)-1]]
		if !ok || seen[parent] {
			return chain
		}
		chain = append(chain, parent)
		seen[parent] = true
	}
}

// MethodFunc is a method interceptor body. Returning (result, true)
// short-circuits the call with result; (nil, false) passes through.
type MethodFunc func(ctx context.Context, ic *InvocationContext) (any, bool)

// MethodInterceptor is one registered method interceptor.
type MethodInterceptor struct {
	ID         string
	TypeID     TypeID
	MethodName string
	ClientID   string
	Priority   int
	Fn         MethodFunc

	seq uint64
}

// MethodTable holds every method interceptor at one hub, plus the type
// hierarchy used to resolve "T or any subtype of T" matching.
type MethodTable struct {
	mu     sync.RWMutex
	byKey  map[string][]*MethodInterceptor // key: TypeID + "#" + method
	byID   map[string]*MethodInterceptor
	types  *typeGraph
	seqCtr atomic.Uint64
}

// NewMethodTable creates an empty MethodTable.
func NewMethodTable() *MethodTable {
	return &MethodTable{
		byKey: make(map[string][]*MethodInterceptor),
		byID:  make(map[string]*MethodInterceptor),
		types: newTypeGraph(),
	}
}

// RegisterType declares that child is a direct subtype of parent, so a
// method interceptor registered against parent also matches calls on
// instances identified by child.
func (t *MethodTable) RegisterType(child, parent TypeID) {
	t.types.registerType(child, parent)
}

func methodKey(typeID TypeID, method string) string {
	return string(typeID) + "#" + method
}

// Register adds a method interceptor and returns it.
func (t *MethodTable) Register(id string, typeID TypeID, method, clientID string, priority int, fn MethodFunc) *MethodInterceptor {
	ic := &MethodInterceptor{
		ID:         id,
		TypeID:     typeID,
		MethodName: method,
		ClientID:   clientID,
		Priority:   priority,
		Fn:         fn,
		seq:        t.seqCtr.Add(1),
	}
	key := methodKey(typeID, method)
	t.mu.Lock()
	t.byKey[key] = append(t.byKey[key], ic)
	t.byID[id] = ic
	t.mu.Unlock()
	return ic
}

// Deregister removes a method interceptor by ID. Reports whether it
// existed.
func (t *MethodTable) Deregister(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ic, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	key := methodKey(ic.TypeID, ic.MethodName)
	list := t.byKey[key]
	for i, cand := range list {
		if cand.ID == id {
			t.byKey[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

// Dispatch walks the type hierarchy of typeID from most specific to most
// general; within each type it evaluates interceptors in descending
// priority (ties by registration order). The first interceptor returning
// non-null short-circuits the call (§4.4 steps 2-3, §8 invariant 6).
func (t *MethodTable) Dispatch(ctx context.Context, typeID TypeID, method string, ic *InvocationContext) (any, bool) {
	for _, candidate := range t.types.chain(typeID) {
		for _, interceptor := range t.matching(candidate, method) {
			if result, handled := interceptor.Fn(ctx, ic); handled {
				return result, true
			}
		}
	}
	return nil, false
}

func (t *MethodTable) matching(typeID TypeID, method string) []*MethodInterceptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.byKey[methodKey(typeID, method)]
	out := make([]*MethodInterceptor, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// RemoveOwner removes every method interceptor owned by clientID and
// returns their IDs.
func (t *MethodTable) RemoveOwner(clientID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for id, ic := range t.byID {
		if ic.ClientID != clientID {
			continue
		}
		delete(t.byID, id)
		key := methodKey(ic.TypeID, ic.MethodName)
		list := t.byKey[key]
		for i, cand := range list {
			if cand.ID == id {
				t.byKey[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed
}

// InvocationContext is the capability set passed to a method interceptor
// and ultimately to the original callable, per §4.4 step 1.
type InvocationContext struct {
	Instance       any
	MethodName     string
	PositionalArgs []any
	NamedArgs      map[string]any

	original func(ctx context.Context, ic *InvocationContext) (any, error)
}

// InvokeOriginal calls through to the wrapped target, bypassing
// interception entirely. Invoke calls the original itself only when no
// interceptor short-circuits; an interceptor may call InvokeOriginal
// explicitly and short-circuit with its result.
func (ic *InvocationContext) InvokeOriginal(ctx context.Context) (any, error) {
	return ic.original(ctx, ic)
}

// InterceptableCallable wraps an arbitrary Go function so that invocations
// route through a MethodTable before executing the original (§4.4).
type InterceptableCallable struct {
	table      *MethodTable
	typeID     TypeID
	methodName string
	original   func(ctx context.Context, ic *InvocationContext) (any, error)
}

// Wrap builds an InterceptableCallable bound to (typeID, methodName) on
// table. original is the real implementation, invoked only when no
// interceptor short-circuits the call.
func Wrap(table *MethodTable, typeID TypeID, methodName string, original func(ctx context.Context, ic *InvocationContext) (any, error)) *InterceptableCallable {
	return &InterceptableCallable{table: table, typeID: typeID, methodName: methodName, original: original}
}

// Invoke constructs an InvocationContext, asks the MethodTable whether any
// interceptor for (typeID, methodName) — walking from most specific type
// to most general — wants to handle the call, and falls through to the
// original implementation if none does.
func (c *InterceptableCallable) Invoke(ctx context.Context, instance any, positional []any, named map[string]any) (any, error) {
	ic := &InvocationContext{
		Instance:       instance,
		MethodName:     c.methodName,
		PositionalArgs: positional,
		NamedArgs:      named,
		original:       c.original,
	}
	if result, handled := c.table.Dispatch(ctx, c.typeID, c.methodName, ic); handled {
		return result, nil
	}
	result, err := c.original(ctx, ic)
	if err != nil {
		return nil, fmt.Errorf("intercept: %s.%s: %w", c.typeID, c.methodName, err)
	}
	return result, nil
}

package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Wire encoding
//
// Values cross process boundaries (the HTTP API, UI consumers) as CBOR.
// Plain kinds encode losslessly; opaque handles encode as references into a
// HandleTable, since their payload belongs to the host and never leaves it.
// The "$handle" mapping key is reserved for these references.
// ---------------------------------------------------------------------------

const handleRefKey = "$handle"

// HandleRegistrar assigns wire IDs to handles. A HandleTable registers
// unowned; Owned binds new registrations to a session so they can be
// released when the session goes away.
type HandleRegistrar interface {
	Register(h *Handle) string
}

// HandleTable maps opaque string IDs to handles so that encoded references
// can be resolved back. Unlike the variable store it is safe for concurrent
// use: transport consumers decode outside the script run.
type HandleTable struct {
	mu     sync.RWMutex
	byID   map[string]*Handle
	ids    map[*Handle]string
	owners map[string]string
	nextID atomic.Uint64
}

// NewHandleTable creates an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{
		byID:   make(map[string]*Handle),
		ids:    make(map[*Handle]string),
		owners: make(map[string]string),
	}
}

// Register returns the ID for h, assigning one on first sight.
func (t *HandleTable) Register(h *Handle) string {
	return t.register(h, "")
}

// RegisterFor is Register with the ID recorded against owner. A handle
// that already has an ID keeps its original owner.
func (t *HandleTable) RegisterFor(owner string, h *Handle) string {
	return t.register(h, owner)
}

func (t *HandleTable) register(h *Handle, owner string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[h]; ok {
		return id
	}
	id := fmt.Sprintf("h-%d", t.nextID.Add(1))
	t.byID[id] = h
	t.ids[h] = id
	if owner != "" {
		t.owners[id] = owner
	}
	return id
}

// Owned returns a registrar that records new handles against owner.
func (t *HandleTable) Owned(owner string) HandleRegistrar {
	return ownedRegistrar{table: t, owner: owner}
}

type ownedRegistrar struct {
	table *HandleTable
	owner string
}

func (r ownedRegistrar) Register(h *Handle) string {
	return r.table.RegisterFor(r.owner, h)
}

// Lookup resolves an ID back to its handle.
func (t *HandleTable) Lookup(id string) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byID[id]
	return h, ok
}

// Release drops one handle reference from the table.
func (t *HandleTable) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byID[id]; ok {
		delete(t.ids, h)
		delete(t.byID, id)
		delete(t.owners, id)
	}
}

// ReleaseOwner drops every handle registered for owner. References to the
// released IDs stop resolving; handles still reachable through another
// session's variables get a fresh ID the next time they cross the wire.
func (t *HandleTable) ReleaseOwner(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, o := range t.owners {
		if o != owner {
			continue
		}
		if h, ok := t.byID[id]; ok {
			delete(t.ids, h)
		}
		delete(t.byID, id)
		delete(t.owners, id)
	}
}

// Len returns the number of registered handles.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// WireTree converts a Value into the generic tree shape shared by the CBOR
// and JSON transports: nil, bool, int64, float64, string, []any and
// map[string]any, with handles as {"$handle": id, "kind": kind} references
// registered through reg.
func WireTree(v Value, reg HandleRegistrar) any {
	switch v.Tag {
	case TagSeq:
		items := v.Data.([]Value)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = WireTree(item, reg)
		}
		return out
	case TagMap:
		m := v.Data.(map[string]Value)
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = WireTree(item, reg)
		}
		return out
	case TagHandle:
		h := v.Data.(*Handle)
		return map[string]any{
			handleRefKey: reg.Register(h),
			"kind":       h.Kind,
		}
	default:
		return v.Data
	}
}

// EncodeValue encodes a Value as CBOR, registering any handles through reg.
func EncodeValue(v Value, reg HandleRegistrar) ([]byte, error) {
	data, err := cbor.Marshal(WireTree(v, reg))
	if err != nil {
		return nil, &MarshalError{Reason: fmt.Sprintf("cbor encode: %v", err)}
	}
	return data, nil
}

// DecodeValue decodes CBOR produced by EncodeValue, resolving handle
// references against table. An unknown reference fails with *MarshalError.
func DecodeValue(data []byte, table *HandleTable) (Value, error) {
	var tree any
	if err := cbor.Unmarshal(data, &tree); err != nil {
		return Null, &MarshalError{Reason: fmt.Sprintf("cbor decode: %v", err)}
	}
	return FromWireTree(tree, table)
}

// FromWireTree converts a decoded transport tree back into a Value,
// resolving handle references against table.
func FromWireTree(tree any, table *HandleTable) (Value, error) {
	switch n := tree.(type) {
	case map[string]any:
		if ref, ok := n[handleRefKey]; ok {
			id, _ := ref.(string)
			h, found := table.Lookup(id)
			if !found {
				return Null, &MarshalError{Reason: fmt.Sprintf("unknown handle reference %q", id)}
			}
			return Value{Tag: TagHandle, Data: h}, nil
		}
		m := make(map[string]Value, len(n))
		for k, item := range n {
			v, err := FromWireTree(item, table)
			if err != nil {
				return Null, err
			}
			m[k] = v
		}
		return MapVal(m), nil
	case map[any]any:
		// CBOR decodes maps with non-string-typed keys into map[any]any.
		m := make(map[string]Value, len(n))
		var hasRef bool
		var refID string
		for k, item := range n {
			ks, ok := k.(string)
			if !ok {
				return Null, &MarshalError{Reason: fmt.Sprintf("non-string mapping key %v", k)}
			}
			if ks == handleRefKey {
				hasRef = true
				refID, _ = item.(string)
				continue
			}
			v, err := FromWireTree(item, table)
			if err != nil {
				return Null, err
			}
			m[ks] = v
		}
		if hasRef {
			h, found := table.Lookup(refID)
			if !found {
				return Null, &MarshalError{Reason: fmt.Sprintf("unknown handle reference %q", refID)}
			}
			return Value{Tag: TagHandle, Data: h}, nil
		}
		return MapVal(m), nil
	case []any:
		items := make([]Value, len(n))
		for i, item := range n {
			v, err := FromWireTree(item, table)
			if err != nil {
				return Null, err
			}
			items[i] = v
		}
		return SeqVal(items), nil
	case uint64:
		return IntVal(int64(n)), nil
	default:
		return ToValue(tree)
	}
}

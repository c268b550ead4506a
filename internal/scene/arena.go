package scene

import (
	"sort"
	"sync"
)

// Arena owns every LiveObject of a session, indexed by NodeID.
//
// It is the only lock shared between the orchestration goroutine (the single
// writer) and the dirty tracker (a reader). Get returns clones; mutation goes
// through Put and Update.
type Arena struct {
	mu      sync.RWMutex
	objects map[NodeID]*LiveObject
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{objects: make(map[NodeID]*LiveObject)}
}

// Get returns a copy of the object stored under id.
func (a *Arena) Get(id NodeID) (*LiveObject, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.objects[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Has reports whether id is present, tombstoned or not.
func (a *Arena) Has(id NodeID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.objects[id]
	return ok
}

// Put stores a copy of o, replacing any previous object with the same ID.
func (a *Arena) Put(o *LiveObject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[o.ID] = o.Clone()
}

// Update applies fn to the stored object under the write lock. A missing
// object is created with the given kind before fn runs.
func (a *Arena) Update(id NodeID, kind Kind, fn func(o *LiveObject)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.objects[id]
	if !ok {
		o = &LiveObject{ID: id, Kind: kind, Visible: true}
		a.objects[id] = o
	}
	fn(o)
}

// Modify applies fn to an existing object. It reports false when id is
// absent.
func (a *Arena) Modify(id NodeID, fn func(o *LiveObject)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.objects[id]
	if !ok {
		return false
	}
	fn(o)
	return true
}

// Delete removes id from the arena.
func (a *Arena) Delete(id NodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, id)
}

// Len returns the number of stored objects, tombstones included.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}

// IDs returns every stored identity in sorted order.
func (a *Arena) IDs() []NodeID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]NodeID, 0, len(a.objects))
	for id := range a.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns clones of every object sorted by identity.
func (a *Arena) Snapshot() []*LiveObject {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*LiveObject, 0, len(a.objects))
	for _, o := range a.objects {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChildrenOf returns the live (non-tombstoned) objects whose Parent is id,
// sorted by identity.
func (a *Arena) ChildrenOf(id NodeID) []*LiveObject {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*LiveObject
	for _, o := range a.objects {
		if o.Parent == id && !o.Removed && o.ID != id {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Descendants returns the identities of every stored object strictly below
// id, sorted.
func (a *Arena) Descendants(id NodeID) []NodeID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []NodeID
	for oid := range a.objects {
		if oid.IsDescendantOf(id) {
			out = append(out, oid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

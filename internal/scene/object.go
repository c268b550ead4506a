package scene

import "github.com/go-gl/mathgl/mgl64"

// LiveObject is the translated state of one live-scene node.
//
// LiveObjects are created during a walk and mutated by the walker and the
// instance expander on every walk. All references to other objects are
// NodeIDs resolved through the Arena; a LiveObject never holds a pointer to
// another LiveObject.
type LiveObject struct {
	ID   NodeID
	Kind Kind

	// Parent is the DAG parent the walker reached this node through.
	Parent NodeID

	// Original is the index-0 object for DAG instances (instance index > 0)
	// and the template for particle instances. Empty otherwise.
	Original NodeID

	// AssemblyParent is the nearest ancestor owning its own assembly, filled
	// in by the assembly mapper.
	AssemblyParent NodeID

	// InstanceIndex is the zero-based DAG instance index reported by the host.
	InstanceIndex int

	// InstanceNumber is the particle instance number; 0 means not instanced
	// by a particle instancer, otherwise particle index + 1.
	InstanceNumber int

	// ParentCount is the number of DAG parents; > 1 means DAG instancing.
	ParentCount int

	// Transforms holds one world matrix per transform motion sample, in
	// step order.
	Transforms []mgl64.Mat4

	Visible            bool
	Removed            bool
	Animated           bool
	InstancerConnected bool

	// LightTransform is true for a transform whose direct child is a light.
	LightTransform bool

	// Color is the optional per-particle colour override.
	Color *[3]float64

	// Excluded lists the meshes a light does not illuminate (lights only).
	Excluded []NodeID

	// Virtual marks objects synthesized by the instance expander. They are
	// never registered for change notifications.
	Virtual bool
}

// IsInstanced reports whether the node is reachable through more than one
// DAG parent.
func (o *LiveObject) IsInstanced() bool {
	return o.ParentCount > 1
}

// CurrentTransform returns the most recent transform sample, or identity
// when the object has not been sampled yet.
func (o *LiveObject) CurrentTransform() mgl64.Mat4 {
	if len(o.Transforms) == 0 {
		return mgl64.Ident4()
	}
	return o.Transforms[len(o.Transforms)-1]
}

// Clone returns a deep copy of the object. The arena hands out clones so
// readers never observe a half-applied mutation.
func (o *LiveObject) Clone() *LiveObject {
	c := *o
	if o.Transforms != nil {
		c.Transforms = append([]mgl64.Mat4(nil), o.Transforms...)
	}
	if o.Excluded != nil {
		c.Excluded = append([]NodeID(nil), o.Excluded...)
	}
	if o.Color != nil {
		col := *o.Color
		c.Color = &col
	}
	return &c
}

// Lists is the result of a walk, in walk order.
type Lists struct {
	Objects        []NodeID `json:"objects"`
	Cameras        []NodeID `json:"cameras"`
	Lights         []NodeID `json:"lights"`
	InstancerRoots []NodeID `json:"instancer_roots"`

	// Removed holds objects a fresh walk no longer found. In interactive
	// mode they are tombstoned in the arena and must be retired by the
	// caller; in batch mode they are already gone from the arena.
	Removed []NodeID `json:"removed,omitempty"`
}

// Len returns the number of classified nodes.
func (l Lists) Len() int {
	return len(l.Objects) + len(l.Cameras) + len(l.Lights) + len(l.InstancerRoots)
}

// PendingChange is one dirty leaf produced by the IPR tracker.
type PendingChange struct {
	ID NodeID `json:"id"`

	// FromTransform is set when the leaf was reached by resolving a
	// transform-level notification down to its shapes.
	FromTransform bool `json:"from_transform"`

	// Removed is set when the host deleted the node.
	Removed bool `json:"removed"`
}

package scene

import "fmt"

// Kind classifies a live node. It is assigned once per walk by the host's
// classifier and matched exhaustively afterwards.
type Kind int

const (
	// KindUnknown is the zero value; no walked object carries it.
	KindUnknown Kind = iota
	// KindCamera is a camera shape.
	KindCamera
	// KindLight is a light shape.
	KindLight
	// KindMesh is a renderable geometry shape.
	KindMesh
	// KindInstancer is a particle instancer root.
	KindInstancer
	// KindTransform is a DAG transform (group or shape parent).
	KindTransform
	// KindOther is any other DAG node the walker keeps but does not render.
	KindOther
)

var kindNames = map[Kind]string{
	KindUnknown:   "unknown",
	KindCamera:    "camera",
	KindLight:     "light",
	KindMesh:      "mesh",
	KindInstancer: "instancer",
	KindTransform: "transform",
	KindOther:     "other",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses the lower-case name of a kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && k != KindUnknown {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown node kind %q", s)
}

// IsShape reports whether k is a shape-level kind, i.e. a leaf that can be
// re-translated on its own. Transforms are the only non-shape kind.
func (k Kind) IsShape() bool {
	switch k {
	case KindCamera, KindLight, KindMesh, KindInstancer, KindOther:
		return true
	case KindTransform, KindUnknown:
		return false
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

package scene

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PathSeparator separates the components of a node path.
const PathSeparator = "|"

// RootID identifies the scene root (the host's world node).
const RootID NodeID = PathSeparator

// NodeID is the stable, path-like identity of a live node, for example
// "|group1|cube|cubeShape". Two NodeIDs are equal iff they name the same
// DAG path.
type NodeID string

// NewNodeID builds a NodeID from a host path. The path is NFC-normalized so
// that visually identical paths always produce the same key, and a missing
// leading separator is added.
func NewNodeID(path string) NodeID {
	p := norm.NFC.String(strings.TrimSpace(path))
	if p == "" || p == PathSeparator {
		return RootID
	}
	if !strings.HasPrefix(p, PathSeparator) {
		p = PathSeparator + p
	}
	return NodeID(strings.TrimSuffix(p, PathSeparator))
}

// String implements fmt.Stringer.
func (id NodeID) String() string {
	return string(id)
}

// IsRoot reports whether id is the scene root.
func (id NodeID) IsRoot() bool {
	return id == RootID
}

// Leaf returns the last path component ("cubeShape" for "|cube|cubeShape").
// The root's leaf is the empty string.
func (id NodeID) Leaf() string {
	if id.IsRoot() {
		return ""
	}
	s := string(id)
	return s[strings.LastIndex(s, PathSeparator)+1:]
}

// Parent returns the path-wise parent of id. The parent of a top-level node
// is RootID; the parent of the root is the empty NodeID.
func (id NodeID) Parent() NodeID {
	if id.IsRoot() || id == "" {
		return ""
	}
	s := string(id)
	i := strings.LastIndex(s, PathSeparator)
	if i <= 0 {
		return RootID
	}
	return NodeID(s[:i])
}

// Child returns the path of the child called name.
func (id NodeID) Child(name string) NodeID {
	if id.IsRoot() || id == "" {
		return NewNodeID(PathSeparator + name)
	}
	return NewNodeID(string(id) + PathSeparator + name)
}

// IsDescendantOf reports whether id lies strictly below ancestor.
func (id NodeID) IsDescendantOf(ancestor NodeID) bool {
	if id == ancestor || id == "" {
		return false
	}
	if ancestor.IsRoot() {
		return true
	}
	return strings.HasPrefix(string(id), string(ancestor)+PathSeparator)
}

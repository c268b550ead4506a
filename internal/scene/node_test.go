package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNodeID(t *testing.T) {
	tests := []struct {
		in   string
		want NodeID
	}{
		{"", RootID},
		{"|", RootID},
		{"group1", "|group1"},
		{"|group1|cube", "|group1|cube"},
		{"|group1|", "|group1"},
		{"  |a|b  ", "|a|b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NewNodeID(tt.in))
		})
	}
}

func TestNewNodeIDNormalizesUnicode(t *testing.T) {
	// "é" as a single code point vs. "e" + combining acute accent
	composed := NewNodeID("|caf\u00e9")
	decomposed := NewNodeID("|cafe\u0301")
	assert.Equal(t, composed, decomposed)
}

func TestNodeIDNavigation(t *testing.T) {
	id := NewNodeID("|group1|cube|cubeShape")

	assert.Equal(t, "cubeShape", id.Leaf())
	assert.Equal(t, NodeID("|group1|cube"), id.Parent())
	assert.Equal(t, RootID, NewNodeID("|group1").Parent())
	assert.Equal(t, NodeID(""), RootID.Parent())
	assert.Equal(t, "", RootID.Leaf())

	assert.Equal(t, NodeID("|group1"), RootID.Child("group1"))
	assert.Equal(t, NodeID("|group1|cube"), NewNodeID("|group1").Child("cube"))
}

func TestNodeIDIsDescendantOf(t *testing.T) {
	a := NewNodeID("|a")
	ab := NewNodeID("|a|b")
	abc := NewNodeID("|a|b|c")
	ax := NewNodeID("|ax")

	assert.True(t, ab.IsDescendantOf(a))
	assert.True(t, abc.IsDescendantOf(a))
	assert.True(t, abc.IsDescendantOf(RootID))
	assert.False(t, a.IsDescendantOf(a))
	assert.False(t, ax.IsDescendantOf(a), "prefix without separator is not a descendant")
	assert.False(t, a.IsDescendantOf(ab))
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindCamera, KindLight, KindMesh, KindInstancer, KindTransform, KindOther} {
		got, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("nurbs")
	assert.Error(t, err)
	_, err = ParseKind("unknown")
	assert.Error(t, err, "the zero kind is not parseable")
}

func TestKindIsShape(t *testing.T) {
	assert.True(t, KindMesh.IsShape())
	assert.True(t, KindLight.IsShape())
	assert.True(t, KindCamera.IsShape())
	assert.False(t, KindTransform.IsShape())
	assert.False(t, KindUnknown.IsShape())
}

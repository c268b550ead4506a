package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/scene"
)

func TestFixedSessionGenerator(t *testing.T) {
	gen := NewFixedSessionGenerator("sess-1")
	assert.Equal(t, "sess-1", gen.Generate())
	assert.Equal(t, "sess-1", gen.Generate())

	assert.Equal(t, "test-session", NewFixedSessionGenerator("").Generate())
}

func TestNewSceneBasic(t *testing.T) {
	s := NewScene(t, BasicScene)

	children, err := s.Children(scene.RootID)
	require.NoError(t, err)
	assert.Equal(t, []scene.NodeID{"|camera1", "|light1", "|group1"}, children)
}

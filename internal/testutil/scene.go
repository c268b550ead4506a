package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/host"
)

// NewScene parses a YAML scene document into a MemScene, failing the test
// on any error.
func NewScene(t *testing.T, doc string) *host.MemScene {
	t.Helper()
	d, err := host.ParseDocument([]byte(doc))
	require.NoError(t, err)
	s, err := host.NewMemSceneFromDocument(d)
	require.NoError(t, err)
	return s
}

// BasicScene is a small scene with a camera, a light linked to one of two
// meshes, and a group holding both meshes.
const BasicScene = `
name: basic
nodes:
  - name: camera1
    translate: [0, 0, 10]
    children:
      - name: cameraShape1
        kind: camera
  - name: light1
    attributes:
      linkedObjects: ["|group1|cube"]
    children:
      - name: lightShape1
        kind: light
  - name: group1
    translate: [1, 0, 0]
    children:
      - name: cube
        children:
          - name: cubeShape
            kind: mesh
      - name: sphere
        translate: [0, 3, 0]
        children:
          - name: sphereShape
            kind: mesh
`

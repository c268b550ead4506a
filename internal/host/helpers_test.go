package host

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/scene"
)

// recorder is a Listener that remembers every notification.
type recorder struct {
	mu      sync.Mutex
	changed []scene.NodeID
	added   [][2]scene.NodeID
	removed []scene.NodeID
}

func (r *recorder) NodeChanged(id scene.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, id)
}

func (r *recorder) NodeAdded(id, parent scene.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, [2]scene.NodeID{id, parent})
}

func (r *recorder) NodeRemoved(id scene.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *recorder) Changed() []scene.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scene.NodeID(nil), r.changed...)
}

const testSceneYAML = `
name: test
nodes:
  - name: camera1
    translate: [0, 0, 10]
    children:
      - name: cameraShape1
        kind: camera
  - name: group1
    translate: [1, 0, 0]
    children:
      - name: cube
        translate: [0, 2, 0]
        velocity: [1, 0, 0]
        children:
          - name: cubeShape
            kind: mesh
      - name: sphere
        children:
          - name: sphereShape
            kind: mesh
  - name: cubeInst
    instance_of: "|group1|cube"
  - name: light1
    attributes:
      linkedObjects: ["|group1|cube"]
    children:
      - name: lightShape1
        kind: light
  - name: bad
    broken: true
  - name: instancer1
    kind: instancer
    attributes:
      particleSource: "|particles1"
    particles:
      - translate: [5, 0, 0]
        paths: ["|group1|sphere"]
      - translate: [0, 5, 0]
        velocity: [0, 1, 0]
        paths: ["|group1|sphere", "|group1|cube"]
  - name: particles1
    kind: other
    attributes:
      rgbPP: [[1, 0, 0], [0, 1, 0]]
`

func newTestScene(t *testing.T) *MemScene {
	t.Helper()
	doc, err := ParseDocument([]byte(testSceneYAML))
	require.NoError(t, err)
	s, err := NewMemSceneFromDocument(doc)
	require.NoError(t, err)
	return s
}

package walker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/testutil"
)

var firstStep = scene.MotionStep{Kind: scene.StepTransform, Time: 0}

type countingRegistrar struct {
	counts map[scene.NodeID]int
}

func (r *countingRegistrar) Register(id scene.NodeID) {
	if r.counts == nil {
		r.counts = make(map[scene.NodeID]int)
	}
	r.counts[id]++
}

// snapshot renders lists with each object's kind, one line per node.
func snapshot(t *testing.T, arena *scene.Arena, lists scene.Lists) []byte {
	t.Helper()
	var b bytes.Buffer
	for _, group := range []struct {
		name string
		ids  []scene.NodeID
	}{
		{"object", lists.Objects},
		{"camera", lists.Cameras},
		{"light", lists.Lights},
		{"instancer", lists.InstancerRoots},
	} {
		for _, id := range group.ids {
			o, ok := arena.Get(id)
			require.True(t, ok, id)
			fmt.Fprintf(&b, "%s %s %s\n", group.name, id, o.Kind)
		}
	}
	return b.Bytes()
}

func TestWalkClassifiesBasicScene(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	w := New(s, arena)

	lists, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	assert.Equal(t, []scene.NodeID{
		"|", "|camera1", "|light1", "|group1",
		"|group1|cube", "|group1|cube|cubeShape",
		"|group1|sphere", "|group1|sphere|sphereShape",
	}, lists.Objects)
	assert.Equal(t, []scene.NodeID{"|camera1|cameraShape1"}, lists.Cameras)
	assert.Equal(t, []scene.NodeID{"|light1|lightShape1"}, lists.Lights)
	assert.Empty(t, lists.InstancerRoots)
	assert.Empty(t, lists.Removed)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "basic_walk", snapshot(t, arena, lists))
}

func TestWalkRecordsIdentityAndTransforms(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	_, err := New(s, arena).Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	sphere, ok := arena.Get("|group1|sphere|sphereShape")
	require.True(t, ok)
	assert.Equal(t, scene.KindMesh, sphere.Kind)
	assert.Equal(t, scene.NodeID("|group1|sphere"), sphere.Parent)
	require.Len(t, sphere.Transforms, 1)
	assert.True(t, sphere.Transforms[0].ApproxEqual(mgl64.Translate3D(1, 3, 0)))
	assert.True(t, sphere.Visible)

	light, ok := arena.Get("|light1")
	require.True(t, ok)
	assert.True(t, light.LightTransform)

	group, ok := arena.Get("|group1")
	require.True(t, ok)
	assert.False(t, group.LightTransform)
}

func TestWalkResolvesLightLinking(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene+`
  - name: light2
    children:
      - name: lightShape2
        kind: light
`)
	arena := scene.NewArena()
	_, err := New(s, arena).Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	linked, ok := arena.Get("|light1|lightShape1")
	require.True(t, ok)
	assert.Equal(t, []scene.NodeID{"|group1|sphere|sphereShape"}, linked.Excluded,
		"meshes outside the linked set are excluded")

	unlinked, ok := arena.Get("|light2|lightShape2")
	require.True(t, ok)
	assert.Empty(t, unlinked.Excluded, "a light without links illuminates everything")
}

func TestWalkSkipsReservedAndBrokenNodes(t *testing.T) {
	s := testutil.NewScene(t, `
nodes:
  - name: swatchShaderBall
    children:
      - name: ballShape
        kind: mesh
  - name: __previewRender
  - name: bad
    broken: true
    children:
      - name: hidden
        kind: mesh
  - name: good
    kind: mesh
`)
	arena := scene.NewArena()
	lists, err := New(s, arena).Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	assert.Equal(t, []scene.NodeID{"|", "|good"}, lists.Objects)
	assert.False(t, arena.Has("|swatchShaderBall|ballShape"))
	assert.False(t, arena.Has("|bad"))
}

func TestWalkCustomSkipPatterns(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	lists, err := New(s, arena, WithSkipPatterns("group*")).Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)
	assert.Equal(t, []scene.NodeID{"|", "|camera1", "|light1"}, lists.Objects)
}

func TestWalkResolvesDAGInstanceOriginal(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene+`
  - name: cubeCopy
    instance_of: "|group1|cube"
`)
	arena := scene.NewArena()
	_, err := New(s, arena).Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	inst, ok := arena.Get("|cubeCopy")
	require.True(t, ok)
	assert.Equal(t, scene.NodeID("|group1|cube"), inst.Original)
	assert.Equal(t, 1, inst.InstanceIndex)
	assert.True(t, inst.IsInstanced())

	orig, ok := arena.Get("|group1|cube")
	require.True(t, ok)
	assert.Empty(t, orig.Original)
	assert.Equal(t, 2, orig.ParentCount)
}

func TestWalkBatchDropsVanishedObjects(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	w := New(s, arena)
	_, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	require.NoError(t, s.RemoveNode("|group1|sphere"))
	lists, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	assert.ElementsMatch(t, []scene.NodeID{"|group1|sphere", "|group1|sphere|sphereShape"}, lists.Removed)
	assert.False(t, arena.Has("|group1|sphere"))
	assert.False(t, arena.Has("|group1|sphere|sphereShape"))
}

func TestWalkInteractiveTombstonesAndRegistersOnce(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	reg := &countingRegistrar{}
	w := New(s, arena, WithInteractive(true), WithRegistrar(reg))

	_, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)
	for id, n := range reg.counts {
		assert.Equal(t, 1, n, "node %s registered %d times", id, n)
	}
	assert.Len(t, reg.counts, 10)

	require.NoError(t, s.RemoveNode("|group1|sphere"))
	lists, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	assert.ElementsMatch(t, []scene.NodeID{"|group1|sphere", "|group1|sphere|sphereShape"}, lists.Removed)
	tomb, ok := arena.Get("|group1|sphere|sphereShape")
	require.True(t, ok, "interactive walks keep tombstones")
	assert.True(t, tomb.Removed)
}

func TestWalkMotionSamplesAppendTransforms(t *testing.T) {
	s := testutil.NewScene(t, `
nodes:
  - name: mover
    velocity: [2, 0, 0]
    children:
      - name: moverShape
        kind: mesh
`)
	arena := scene.NewArena()
	w := New(s, arena)

	s.MoveTimeCursor(0.8)
	_, err := w.Walk(context.Background(), 0, scene.MotionStep{Kind: scene.StepTransform, Time: -0.2})
	require.NoError(t, err)
	_, err = w.Walk(context.Background(), 1, scene.MotionStep{Kind: scene.StepDeform, Time: -0.2})
	require.NoError(t, err)
	s.MoveTimeCursor(1.2)
	_, err = w.Walk(context.Background(), 2, scene.MotionStep{Kind: scene.StepTransform, Time: 0.2})
	require.NoError(t, err)

	o, ok := arena.Get("|mover|moverShape")
	require.True(t, ok)
	require.Len(t, o.Transforms, 2, "deform steps do not add transform samples")
	assert.True(t, o.Transforms[0].ApproxEqual(mgl64.Translate3D(1.6, 0, 0)))
	assert.True(t, o.Transforms[1].ApproxEqual(mgl64.Translate3D(2.4, 0, 0)))

	// A fresh walk restarts the history
	_, err = w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)
	o, _ = arena.Get("|mover|moverShape")
	assert.Len(t, o.Transforms, 1)
}

func TestWalkIsDeterministic(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)

	walk := func() ([]byte, []byte) {
		arena := scene.NewArena()
		lists, err := New(s, arena).Walk(context.Background(), 0, firstStep)
		require.NoError(t, err)
		data, err := json.Marshal(lists)
		require.NoError(t, err)
		return data, snapshot(t, arena, lists)
	}

	first, firstKinds := walk()
	second, secondKinds := walk()
	assert.Equal(t, first, second)
	assert.Equal(t, firstKinds, secondKinds)
}

func TestWalkCancelled(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(s, scene.NewArena()).Walk(ctx, 0, firstStep)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalkSubtreeFoldsNewNodes(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	w := New(s, arena)
	_, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	id, err := s.AddNode("|group1", host.NodeSpec{Name: "cone", Children: []host.NodeSpec{{Name: "coneShape", Kind: "mesh"}}})
	require.NoError(t, err)

	found, err := w.WalkSubtree(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []scene.NodeID{"|group1|cone", "|group1|cone|coneShape"}, found.Objects)

	lists := w.Lists()
	assert.Contains(t, lists.Objects, scene.NodeID("|group1|cone|coneShape"))

	cone, ok := arena.Get("|group1|cone")
	require.True(t, ok)
	assert.Equal(t, scene.NodeID("|group1"), cone.Parent)

	light, ok := arena.Get("|light1|lightShape1")
	require.True(t, ok)
	assert.Contains(t, light.Excluded, scene.NodeID("|group1|cone|coneShape"), "links are re-resolved")
}

func TestWalkerRemoveTombstonesSubtree(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	w := New(s, arena, WithInteractive(true))
	_, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	removed := w.Remove("|group1|cube")
	assert.Equal(t, []scene.NodeID{"|group1|cube|cubeShape", "|group1|cube"}, removed)

	o, ok := arena.Get("|group1|cube")
	require.True(t, ok)
	assert.True(t, o.Removed)
	assert.NotContains(t, w.Lists().Objects, scene.NodeID("|group1|cube"))

	assert.Empty(t, w.Remove("|nope"))
}

func TestWalkerRefreshResamplesChain(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene)
	arena := scene.NewArena()
	w := New(s, arena)
	_, err := w.Walk(context.Background(), 0, firstStep)
	require.NoError(t, err)

	require.NoError(t, s.SetTranslate("|group1", [3]float64{5, 0, 0}))
	refreshed, err := w.Refresh(context.Background(), "|group1|sphere|sphereShape")
	require.NoError(t, err)
	assert.Equal(t, []scene.NodeID{"|group1|sphere|sphereShape", "|group1|sphere", "|group1", "|"}, refreshed)

	shape, _ := arena.Get("|group1|sphere|sphereShape")
	assert.True(t, shape.CurrentTransform().ApproxEqual(mgl64.Translate3D(5, 3, 0)))
	group, _ := arena.Get("|group1")
	assert.True(t, group.CurrentTransform().ApproxEqual(mgl64.Translate3D(5, 0, 0)))
	require.Len(t, group.Transforms, 1)
}

func TestWalkerRefreshKeepsMotionSamples(t *testing.T) {
	s := testutil.NewScene(t, testutil.BasicScene+`
  - name: mover
    velocity: [1, 0, 0]
    children:
      - name: moverShape
        kind: mesh
`)
	arena := scene.NewArena()
	w := New(s, arena)
	ctx := context.Background()
	_, err := w.Walk(ctx, 0, firstStep)
	require.NoError(t, err)

	s.MoveTimeCursor(-0.5)
	refreshed, err := w.Refresh(ctx, "|mover|moverShape", "|group1|sphere|sphereShape", "|group1|cube|cubeShape")
	require.NoError(t, err)
	assert.Len(t, refreshed, 8, "shared ancestors are refreshed once")

	s.MoveTimeCursor(0.5)
	require.NoError(t, w.Resample(ctx, scene.MotionStep{Kind: scene.StepDeform, Time: 0.5}, refreshed...))
	require.NoError(t, w.Resample(ctx, scene.MotionStep{Kind: scene.StepTransform, Time: 0.5}, refreshed...))

	mover, _ := arena.Get("|mover|moverShape")
	require.Len(t, mover.Transforms, 2, "deform steps take no transform sample")
	assert.InDelta(t, -0.5, mover.Transforms[0].At(0, 3), 1e-9)
	assert.InDelta(t, 0.5, mover.Transforms[1].At(0, 3), 1e-9)

	group, _ := arena.Get("|group1")
	assert.Len(t, group.Transforms, 2)
	light, _ := arena.Get("|light1|lightShape1")
	assert.Len(t, light.Transforms, 1, "untouched objects keep their history")
}

package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitializedSink(t *testing.T, opts ...MemoryOption) *MemorySink {
	t.Helper()
	s := NewMemorySink(opts...)
	require.NoError(t, s.Init(context.Background(), Frame{Number: 1, Camera: "|cam", Width: 64, Height: 64}))
	_, _, err := s.CreateOrGetAssembly("world", "")
	require.NoError(t, err)
	return s
}

func TestMemorySinkCreateOrGetIsIdempotent(t *testing.T) {
	s := newInitializedSink(t)

	ref, created, err := s.CreateOrGetAssembly("group1", "world")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, AssemblyRef{Name: "group1", Parent: "world"}, ref)

	ref, created, err = s.CreateOrGetAssembly("group1", "world")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "world", ref.Parent)
	assert.Equal(t, 2, s.Creations("assembly"))

	xf := []mgl64.Mat4{mgl64.Translate3D(1, 0, 0)}
	_, created, err = s.CreateOrGetInstance("group1_inst", "group1", "world", xf)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = s.CreateOrGetInstance("group1_inst", "group1", "world", xf)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, s.Creations("instance"))
}

func TestMemorySinkValidatesReferences(t *testing.T) {
	s := newInitializedSink(t)

	_, _, err := s.CreateOrGetAssembly("orphan", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.CreateOrGetInstance("x_inst", "missing", "world", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.PlaceObject("missing", "obj"), ErrNotFound)
	assert.ErrorIs(t, s.RemoveObject("world", "obj"), ErrNotFound)
	assert.ErrorIs(t, s.RemoveInstance("x_inst"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateInstance("x_inst", nil), ErrNotFound)
	assert.ErrorIs(t, s.RemoveAssembly("missing"), ErrNotFound)
}

func TestMemorySinkRemoveAssemblyCascades(t *testing.T) {
	s := newInitializedSink(t)
	_, _, err := s.CreateOrGetAssembly("a", "world")
	require.NoError(t, err)
	_, _, err = s.CreateOrGetAssembly("a/b", "a")
	require.NoError(t, err)
	_, _, err = s.CreateOrGetInstance("a_inst", "a", "world", nil)
	require.NoError(t, err)
	_, _, err = s.CreateOrGetInstance("a/b_inst", "a/b", "a", nil)
	require.NoError(t, err)
	require.NoError(t, s.PlaceObject("a/b", "a/b/shape"))

	require.NoError(t, s.RemoveAssembly("a"))

	assert.Equal(t, []string{"world"}, s.Assemblies())
	assert.Empty(t, s.Instances())
}

func TestMemorySinkInitRejectsBadResolution(t *testing.T) {
	s := NewMemorySink()
	err := s.Init(context.Background(), Frame{Width: 0, Height: 10})
	assert.ErrorIs(t, err, ErrSessionFatal)
}

func TestMemorySinkFailOn(t *testing.T) {
	s := newInitializedSink(t)
	boom := errors.New("boom")
	s.FailOn("instance", "bad_inst", boom)

	_, _, err := s.CreateOrGetInstance("bad_inst", "world", "world", nil)
	assert.ErrorIs(t, err, boom)

	_, _, err = s.CreateOrGetInstance("good_inst", "world", "world", nil)
	assert.NoError(t, err)
}

func TestMemorySinkFailOnce(t *testing.T) {
	s := NewMemorySink()
	transient := errors.New("device busy")
	s.FailOnce("init", "", transient)

	frame := Frame{Number: 1, Width: 8, Height: 8}
	assert.ErrorIs(t, s.Init(context.Background(), frame), transient)
	assert.NoError(t, s.Init(context.Background(), frame))
}

func TestMemorySinkRenderTiles(t *testing.T) {
	s := newInitializedSink(t, WithTileSize(16))

	var pre, updates atomic.Int32
	err := s.Render(context.Background(), NewController(), TileCallbacks{
		PreTile: func(r Rect) { pre.Add(1) },
		UpdateTile: func(r Rect, pixels []float32) {
			updates.Add(1)
			assert.Len(t, pixels, r.W*r.H*4)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(16), pre.Load())
	assert.Equal(t, int32(16), updates.Load())
	assert.Equal(t, 1, s.Renders())
	assert.Contains(t, s.Ops(), "render frame=1 tiles=16")
}

func TestMemorySinkSetFrame(t *testing.T) {
	s := newInitializedSink(t, WithTileSize(64))

	require.NoError(t, s.SetFrame(2.5))
	require.NoError(t, s.Render(context.Background(), NewController(), TileCallbacks{}))
	assert.Equal(t, "render frame=2.5 tiles=1", s.Ops()[len(s.Ops())-1])
}

func TestMemorySinkRenderCrop(t *testing.T) {
	s := newInitializedSink(t, WithTileSize(16))
	require.NoError(t, s.SetCropWindow(Rect{X: 8, Y: 8, W: 20, H: 10}))

	var tiles []Rect
	require.NoError(t, s.Render(context.Background(), NewController(), TileCallbacks{
		PreTile: func(r Rect) { tiles = append(tiles, r) },
	}))
	assert.Equal(t, []Rect{{X: 8, Y: 8, W: 16, H: 10}, {X: 24, Y: 8, W: 4, H: 10}}, tiles)
}

func TestMemorySinkRenderAbort(t *testing.T) {
	s := newInitializedSink(t, WithTileSize(4), WithTileDelay(time.Millisecond))
	ctrl := NewController()

	var n atomic.Int32
	err := s.Render(context.Background(), ctrl, TileCallbacks{
		UpdateTile: func(r Rect, pixels []float32) {
			if n.Add(1) == 3 {
				ctrl.Abort()
			}
		},
	})
	require.NoError(t, err, "abort is not an error")
	assert.Equal(t, int32(3), n.Load())
	assert.Contains(t, s.Ops(), "render frame=1 aborted after 3 tiles")

	ctrl.Reset()
	assert.Equal(t, Continue, ctrl.Status())
}

func TestMemorySinkRelease(t *testing.T) {
	s := newInitializedSink(t)
	require.NoError(t, s.Release())
	assert.Empty(t, s.Assemblies())
	assert.Equal(t, "release", s.Ops()[len(s.Ops())-1])
}

func TestRectHelpers(t *testing.T) {
	assert.True(t, Rect{}.Empty())
	assert.False(t, Rect{W: 1, H: 1}.Empty())
	assert.Equal(t, "1,2,3,4", Rect{1, 2, 3, 4}.String())
}

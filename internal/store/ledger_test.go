package store

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/sink"
)

func TestLatestSessionEmpty(t *testing.T) {
	s := createTestStore(t)
	_, err := s.LatestSession(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecordSessionAndState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSession(ctx, "sess", "interactive", "demo", "|cam", 320, 240))
	require.NoError(t, s.RecordSession(ctx, "sess", "batch", "other", "|x", 1, 1), "duplicate ids are ignored")
	require.NoError(t, s.RecordState(ctx, "sess", "Rendering"))

	got, err := s.ReadSession(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, Session{
		ID: "sess", Mode: "interactive", Scene: "demo", Camera: "|cam",
		Width: 320, Height: 240, State: "Rendering", Seq: 1,
	}, got)
}

func TestRecordFrames(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSession(ctx, "sess", "batch", "demo", "|cam", 8, 8))

	require.NoError(t, s.RecordFrame(ctx, "sess", 1, "done", 5, ""))
	require.NoError(t, s.RecordFrame(ctx, "sess", 2, "skipped", 0, "no motion steps"))

	frames, err := s.ReadFrames(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, []FrameRecord{
		{Frame: 1, Status: "done", Steps: 5, Seq: 2},
		{Frame: 2, Status: "skipped", Steps: 0, Error: "no motion steps", Seq: 3},
	}, frames)
}

func TestFramesRequireSession(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordFrame(context.Background(), "missing", 1, "done", 1, "")
	assert.Error(t, err, "foreign keys are enforced")
}

func TestLedgerTracksSinkMutations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSession(ctx, "sess", "interactive", "demo", "|cam", 8, 8))

	mem := sink.NewMemorySink()
	rec := sink.Record(mem, s.Ledger("sess"), nil)
	require.NoError(t, rec.Init(ctx, sink.Frame{Width: 8, Height: 8}))

	_, _, err := rec.CreateOrGetAssembly("world", "")
	require.NoError(t, err)
	_, _, err = rec.CreateOrGetAssembly("group1", "world")
	require.NoError(t, err)
	_, _, err = rec.CreateOrGetInstance("group1_inst", "group1", "world", []mgl64.Mat4{mgl64.Translate3D(1, 0, 0)})
	require.NoError(t, err)
	require.NoError(t, rec.PlaceObject("group1", "group1/cube"))
	require.NoError(t, rec.UpdateInstance("group1_inst", []mgl64.Mat4{mgl64.Translate3D(2, 0, 0)}))

	asms, err := s.ReadAssemblies(ctx, "sess", false)
	require.NoError(t, err)
	require.Len(t, asms, 2)
	assert.Equal(t, "world", asms[0].Name)
	assert.Equal(t, "group1", asms[1].Name)
	assert.Equal(t, "world", asms[1].Parent)
	assert.Len(t, asms[1].ContentID, 64)

	insts, err := s.ReadInstances(ctx, "sess", false)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "group1", insts[0].Assembly)
	require.Len(t, insts[0].Transforms, 1)
	assert.True(t, insts[0].Transforms[0].ApproxEqual(mgl64.Translate3D(2, 0, 0)))

	objs, err := s.ReadObjects(ctx, "sess", false)
	require.NoError(t, err)
	assert.Equal(t, []ObjectRecord{{Assembly: "group1", Name: "group1/cube", Seq: 5}}, objs)

	// Removal tombstones rows instead of deleting them
	require.NoError(t, rec.RemoveObject("group1", "group1/cube"))
	require.NoError(t, rec.RemoveInstance("group1_inst"))
	require.NoError(t, rec.RemoveAssembly("group1"))

	asms, err = s.ReadAssemblies(ctx, "sess", false)
	require.NoError(t, err)
	assert.Len(t, asms, 1)

	all, err := s.ReadAssemblies(ctx, "sess", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Removed)

	insts, err = s.ReadInstances(ctx, "sess", true)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.True(t, insts[0].Removed)

	objs, err = s.ReadObjects(ctx, "sess", false)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestLedgerRecreateClearsTombstone(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSession(ctx, "sess", "interactive", "demo", "|cam", 8, 8))
	l := s.Ledger("sess")

	require.NoError(t, l.AssemblyCreated(ctx, "a", "world"))
	require.NoError(t, l.AssemblyRemoved(ctx, "a"))
	require.NoError(t, l.AssemblyCreated(ctx, "a", "world"))

	asms, err := s.ReadAssemblies(ctx, "sess", false)
	require.NoError(t, err)
	require.Len(t, asms, 1)
	assert.False(t, asms[0].Removed)
	assert.Equal(t, int64(4), asms[0].Seq)
}

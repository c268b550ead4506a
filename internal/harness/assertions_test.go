package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/store"
)

var sampleOps = []string{
	"init 64x32 camera=|cam",
	"create_assembly world parent=",
	"place_object box in=world",
	"render frame=1 tiles=2",
	"render frame=2 tiles=2",
	"release",
}

func TestAssertSinkContains(t *testing.T) {
	require.NoError(t, assertSinkContains(sampleOps, Assertion{Op: "place_object box in=world"}))

	err := assertSinkContains(sampleOps, Assertion{Op: "place_object cone in=world"})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertSinkContains, aerr.Type)
	assert.Contains(t, err.Error(), "not found in trace")
	assert.Contains(t, err.Error(), "[3] place_object box in=world", "failure lists the whole trace")
}

func TestAssertSinkAbsent(t *testing.T) {
	require.NoError(t, assertSinkAbsent(sampleOps, Assertion{Op: "remove_object box in=world"}))

	err := assertSinkAbsent(sampleOps, Assertion{Op: "release"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found at position 6")
}

func TestAssertSinkOrder_InOrderWithGaps(t *testing.T) {
	err := assertSinkOrder(sampleOps, Assertion{Ops: []string{"init 64x32 camera=|cam", "render frame=2 tiles=2", "release"}})
	assert.NoError(t, err)
}

func TestAssertSinkOrder_RepeatedOps(t *testing.T) {
	ops := []string{"render frame=1 tiles=2", "update_instance a samples=1", "render frame=1 tiles=2"}
	assert.NoError(t, assertSinkOrder(ops, Assertion{Ops: []string{"render frame=1 tiles=2", "update_instance a samples=1", "render frame=1 tiles=2"}}))
	assert.Error(t, assertSinkOrder(ops, Assertion{Ops: []string{"render frame=1 tiles=2", "render frame=1 tiles=2", "render frame=1 tiles=2"}}))
}

func TestAssertSinkOrder_WrongOrder(t *testing.T) {
	err := assertSinkOrder(sampleOps, Assertion{Ops: []string{"release", "init 64x32 camera=|cam"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init 64x32 camera=|cam appears before release")
}

func TestAssertSinkOrder_Missing(t *testing.T) {
	err := assertSinkOrder(sampleOps, Assertion{Ops: []string{"init 64x32 camera=|cam", "crop 0,0,8,8"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing operation: crop 0,0,8,8")
}

func TestAssertSinkCount(t *testing.T) {
	assert.NoError(t, assertSinkCount(sampleOps, Assertion{Prefix: "render frame=", Count: 2}))
	assert.NoError(t, assertSinkCount(sampleOps, Assertion{Prefix: "remove_", Count: 0}))

	err := assertSinkCount(sampleOps, Assertion{Prefix: "create_assembly ", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 operations")
}

func TestAssertRenderStateAndError(t *testing.T) {
	result := &Result{State: "Stopped", Error: "init render sink: no device"}

	assert.NoError(t, assertRenderState(result, Assertion{State: "Stopped"}))
	assert.Error(t, assertRenderState(result, Assertion{State: "Done"}))

	assert.NoError(t, assertErrorContains(result, Assertion{Text: "no device"}))
	assert.Error(t, assertErrorContains(result, Assertion{Text: "license"}))

	err := assertErrorContains(&Result{State: "Done"}, Assertion{Text: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session error")
}

// seededStore opens a ledger holding one finished session.
func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.RecordSession(ctx, "s1", "batch", "basic", "|cam", 64, 32))
	require.NoError(t, st.RecordState(ctx, "s1", "Done"))
	require.NoError(t, st.RecordFrame(ctx, "s1", 1, "rendered", 1, ""))
	require.NoError(t, st.RecordFrame(ctx, "s1", 2, "skipped", 1, "HOOK_FAILED"))
	ledger := st.Ledger("s1")
	require.NoError(t, ledger.AssemblyCreated(ctx, "world", ""))
	require.NoError(t, ledger.ObjectPlaced(ctx, "world", "box"))
	return st
}

func TestAssertFinalState_Match(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()

	err := assertFinalState(ctx, st, Assertion{
		Table:  "sessions",
		Where:  map[string]any{"id": "s1"},
		Expect: map[string]any{"state": "Done", "width": 64, "mode": "batch"},
	})
	assert.NoError(t, err)

	err = assertFinalState(ctx, st, Assertion{
		Table:  "frames",
		Where:  map[string]any{"frame": 2},
		Expect: map[string]any{"status": "skipped", "frame": 2.0},
	})
	assert.NoError(t, err, "integers and reals compare numerically")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "objects",
		Where:  map[string]any{"name": "box", "removed_seq": nil},
		Expect: map[string]any{"assembly": "world", "removed_seq": nil},
	})
	assert.NoError(t, err, "nil matches NULL")
}

func TestAssertFinalState_Mismatch(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()

	err := assertFinalState(ctx, st, Assertion{
		Table:  "sessions",
		Where:  map[string]any{"id": "s1"},
		Expect: map[string]any{"state": "Stopped"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "state"`)

	err = assertFinalState(ctx, st, Assertion{
		Table:  "sessions",
		Where:  map[string]any{"id": "s2"},
		Expect: map[string]any{"state": "Done"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row not found")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "frames",
		Where:  map[string]any{"session_id": "s1"},
		Expect: map[string]any{"steps": 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple rows matched")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "sessions",
		Where:  map[string]any{"id": "s1"},
		Expect: map[string]any{"colour": "red"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present in result columns")
}

func TestAssertFinalState_RejectsInjection(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()

	err := assertFinalState(ctx, st, Assertion{
		Table:  "sessions; DROP TABLE sessions",
		Expect: map[string]any{"state": "Done"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "sessions",
		Where:  map[string]any{"id = id OR 1": 1},
		Expect: map[string]any{"state": "Done"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestBuildWhereClause_Deterministic(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"name": "box", "assembly": "world", "removed_seq": nil})
	require.NoError(t, err)
	assert.Equal(t, "assembly = ? AND name = ? AND removed_seq IS NULL", sql)
	assert.Equal(t, []any{"world", "box"}, args)
}

func TestEvaluateAssertions_CollectsEveryFailure(t *testing.T) {
	result := &Result{Ops: sampleOps, State: "Done"}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertRenderState, State: "Done"},
		{Type: AssertSinkContains, Op: "crop 0,0,8,8"},
		{Type: AssertFinalState, Table: "frames", Expect: map[string]any{"status": "rendered"}},
		{Type: "trace_contains"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "crop 0,0,8,8")
	assert.Contains(t, errs[1], "requires database context")
	assert.Contains(t, errs[2], "unknown assertion type")
}

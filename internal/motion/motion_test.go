package motion

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/scene"
)

func TestStepsDisabled(t *testing.T) {
	steps, err := Steps(Settings{Enabled: false, Shutter: 0.5, TransformSamples: 0})
	require.NoError(t, err)
	assert.Equal(t, []scene.MotionStep{{Kind: scene.StepNone, Time: 0}}, steps)
}

func TestStepsCenterScenario(t *testing.T) {
	steps, err := Steps(Settings{
		Enabled:          true,
		Shutter:          0.4,
		Type:             Center,
		TransformSamples: 2,
		DeformSamples:    2,
	})
	require.NoError(t, err)
	require.Len(t, steps, 5)

	want := []scene.MotionStep{
		{Kind: scene.StepTransform, Time: -0.2},
		{Kind: scene.StepDeform, Time: -0.2},
		{Kind: scene.StepTransform, Time: 0.2},
		{Kind: scene.StepDeform, Time: 0.2},
		{Kind: scene.StepNone, Time: 0},
	}
	for i := range want {
		assert.Equal(t, want[i].Kind, steps[i].Kind, "step %d kind", i)
		assert.InDelta(t, want[i].Time, steps[i].Time, 1e-12, "step %d time", i)
	}
}

func TestStepsSingleSampleHonorsStartOffset(t *testing.T) {
	tests := []struct {
		blur BlurType
		want float64
	}{
		{Center, -0.25},
		{FrameStart, 0},
		{FrameEnd, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.blur.String(), func(t *testing.T) {
			steps, err := Steps(Settings{Enabled: true, Shutter: 0.5, Type: tt.blur, TransformSamples: 1, DeformSamples: 1})
			require.NoError(t, err)
			require.Len(t, steps, 3)
			assert.InDelta(t, tt.want, steps[0].Time, 1e-12)
			assert.InDelta(t, tt.want, steps[1].Time, 1e-12)
			assert.Equal(t, scene.StepTransform, steps[0].Kind)
			assert.Equal(t, scene.StepDeform, steps[1].Kind)
		})
	}
}

func TestStepsInvalidCounts(t *testing.T) {
	_, err := Steps(Settings{Enabled: true, Shutter: 0.5, TransformSamples: 0, DeformSamples: 1})
	assert.ErrorIs(t, err, ErrInvalidSampleCount)

	_, err = Steps(Settings{Enabled: true, Shutter: 0.5, TransformSamples: 2, DeformSamples: -1})
	assert.ErrorIs(t, err, ErrInvalidSampleCount)

	_, err = Steps(Settings{Enabled: true, Shutter: -1, TransformSamples: 1, DeformSamples: 1})
	assert.Error(t, err)
}

// Every valid combination is sorted (ignoring the trailing None) and has
// transform+deform+1 entries.
func TestStepsProperties(t *testing.T) {
	for _, blur := range []BlurType{Center, FrameStart, FrameEnd} {
		for _, shutter := range []float64{0, 0.1, 0.5, 1, 2.5} {
			for tc := 1; tc <= 5; tc++ {
				for dc := 1; dc <= 5; dc++ {
					s := Settings{Enabled: true, Shutter: shutter, Type: blur, TransformSamples: tc, DeformSamples: dc}
					steps, err := Steps(s)
					require.NoError(t, err)
					require.Len(t, steps, tc+dc+1)

					body := steps[:len(steps)-1]
					assert.True(t, sort.SliceIsSorted(body, func(i, j int) bool {
						return body[i].Time < body[j].Time
					}), "%+v not sorted", s)
					assert.Equal(t, scene.StepNone, steps[len(steps)-1].Kind)

					start := s.StartOffset()
					for _, st := range body {
						assert.GreaterOrEqual(t, st.Time, start-1e-12)
						assert.LessOrEqual(t, st.Time, start+shutter+1e-12)
					}
				}
			}
		}
	}
}

func TestViewUpdates(t *testing.T) {
	steps, err := Steps(Settings{Enabled: true, Shutter: 0.4, Type: Center, TransformSamples: 2, DeformSamples: 2})
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, true, false, false}, ViewUpdates(steps))
	assert.Equal(t, []bool{true}, ViewUpdates([]scene.MotionStep{{Kind: scene.StepNone}}))
}

func TestSamples(t *testing.T) {
	steps, err := Steps(Settings{Enabled: true, Shutter: 0.4, TransformSamples: 3, DeformSamples: 1})
	require.NoError(t, err)
	assert.Len(t, Samples(steps), 4)

	disabled, err := Steps(Settings{})
	require.NoError(t, err)
	assert.Len(t, Samples(disabled), 1)
}

func TestParseBlurType(t *testing.T) {
	for _, b := range []BlurType{Center, FrameStart, FrameEnd} {
		got, err := ParseBlurType(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
	_, err := ParseBlurType("sideways")
	assert.Error(t, err)
}

// Package motion computes the motion-blur sampling schedule of a frame.
//
// Steps is pure: it depends only on its Settings and never touches a live
// scene, so every combination can be unit tested directly.
package motion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/scenebridge/internal/scene"
)

// ErrInvalidSampleCount is returned when a sample count is below one.
var ErrInvalidSampleCount = errors.New("motion: sample count must be at least 1")

// BlurType places the shutter interval relative to the frame.
type BlurType int

const (
	// Center opens the shutter half an interval before the frame.
	Center BlurType = iota
	// FrameStart opens the shutter on the frame.
	FrameStart
	// FrameEnd closes the shutter on the frame.
	FrameEnd
)

// String implements fmt.Stringer.
func (b BlurType) String() string {
	switch b {
	case Center:
		return "center"
	case FrameStart:
		return "frame_start"
	case FrameEnd:
		return "frame_end"
	}
	return fmt.Sprintf("blur(%d)", int(b))
}

// ParseBlurType parses center, frame_start or frame_end.
func ParseBlurType(s string) (BlurType, error) {
	switch s {
	case "center", "":
		return Center, nil
	case "frame_start":
		return FrameStart, nil
	case "frame_end":
		return FrameEnd, nil
	}
	return Center, fmt.Errorf("unknown blur type %q (want center, frame_start or frame_end)", s)
}

// Settings are the motion-blur render globals.
type Settings struct {
	Enabled          bool
	Shutter          float64
	Type             BlurType
	TransformSamples int
	DeformSamples    int
}

// StartOffset returns the time of the first sample relative to the frame.
func (s Settings) StartOffset() float64 {
	switch s.Type {
	case FrameStart:
		return 0
	case FrameEnd:
		return -s.Shutter
	case Center:
		return -s.Shutter / 2
	}
	return -s.Shutter / 2
}

// Steps returns the ordered sampling schedule for one frame.
//
// Disabled blur yields a single None step at offset 0. Otherwise the
// transform samples come first, then the deform samples, each evenly spaced
// over [start, start+shutter]; the list is stable-sorted by time so equal
// times keep transform before deform, and a trailing None step is appended.
func Steps(s Settings) ([]scene.MotionStep, error) {
	if !s.Enabled {
		return []scene.MotionStep{{Kind: scene.StepNone, Time: 0}}, nil
	}
	if s.TransformSamples < 1 || s.DeformSamples < 1 {
		return nil, fmt.Errorf("%w: transform=%d deform=%d",
			ErrInvalidSampleCount, s.TransformSamples, s.DeformSamples)
	}
	if s.Shutter < 0 {
		return nil, fmt.Errorf("motion: shutter must not be negative, got %g", s.Shutter)
	}

	start := s.StartOffset()
	steps := make([]scene.MotionStep, 0, s.TransformSamples+s.DeformSamples+1)
	steps = appendSamples(steps, scene.StepTransform, start, s.Shutter, s.TransformSamples)
	steps = appendSamples(steps, scene.StepDeform, start, s.Shutter, s.DeformSamples)

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Time < steps[j].Time
	})

	return append(steps, scene.MotionStep{Kind: scene.StepNone, Time: 0}), nil
}

func appendSamples(steps []scene.MotionStep, kind scene.StepKind, start, shutter float64, n int) []scene.MotionStep {
	if n == 1 {
		return append(steps, scene.MotionStep{Kind: kind, Time: start})
	}
	for i := 0; i < n; i++ {
		t := start + shutter*float64(i)/float64(n-1)
		steps = append(steps, scene.MotionStep{Kind: kind, Time: t})
	}
	return steps
}

// ViewUpdates reports, for each step, whether the host time cursor has to
// move before sampling it. The second of an equal-time pair reuses the
// previous evaluation, and the None step never moves the cursor.
func ViewUpdates(steps []scene.MotionStep) []bool {
	out := make([]bool, len(steps))
	for i, st := range steps {
		if st.Kind == scene.StepNone {
			// Only a lone None step (blur disabled) samples the frame itself.
			out[i] = len(steps) == 1
			continue
		}
		out[i] = i == 0 || steps[i-1].Time != st.Time
	}
	return out
}

// Samples returns the steps that are actually evaluated: the trailing None
// step is dropped unless it is the only step.
func Samples(steps []scene.MotionStep) []scene.MotionStep {
	if len(steps) <= 1 {
		return steps
	}
	if steps[len(steps)-1].Kind == scene.StepNone {
		return steps[:len(steps)-1]
	}
	return steps
}

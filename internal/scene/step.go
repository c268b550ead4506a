package scene

import "fmt"

// StepKind says what a motion sample captures.
type StepKind int

const (
	// StepNone is the synthetic trailing step. It carries no time offset and
	// never participates in interpolation.
	StepNone StepKind = iota
	// StepTransform samples transforms.
	StepTransform
	// StepDeform samples deformation.
	StepDeform
	// StepBoth samples transforms and deformation.
	StepBoth
)

// String implements fmt.Stringer.
func (k StepKind) String() string {
	switch k {
	case StepNone:
		return "none"
	case StepTransform:
		return "transform"
	case StepDeform:
		return "deform"
	case StepBoth:
		return "both"
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// SamplesTransform reports whether a step of this kind records a transform.
func (k StepKind) SamplesTransform() bool {
	return k == StepTransform || k == StepBoth
}

// MotionStep is one time-offset sample of a frame, relative to the frame
// number.
type MotionStep struct {
	Kind StepKind `json:"kind"`
	Time float64  `json:"time"`
}

// String implements fmt.Stringer.
func (s MotionStep) String() string {
	return fmt.Sprintf("%s@%g", s.Kind, s.Time)
}

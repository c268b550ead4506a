// Package config loads scenebridge render globals.
//
// Globals come from a .cue file, unified with an embedded schema that
// carries defaults and constraints, or from a .yaml file decoded strictly
// over the defaults. Command-line flags override loaded values.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"path"
	"time"

	"github.com/roach88/scenebridge/internal/motion"
)

//go:embed schema.cue
var schemaSource string

// Config is the set of render globals.
type Config struct {
	Camera string `json:"camera" yaml:"camera"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`

	Frames      Frames      `json:"frames" yaml:"frames"`
	MotionBlur  MotionBlur  `json:"motion_blur" yaml:"motion_blur"`
	Interactive Interactive `json:"interactive" yaml:"interactive"`

	// SkipPatterns match leaf names of host scratch nodes whose subtrees
	// are never walked.
	SkipPatterns []string `json:"skip_patterns" yaml:"skip_patterns"`

	// RelativeToTemplate expresses particle matrices relative to the
	// template's world matrix.
	RelativeToTemplate bool `json:"relative_to_template" yaml:"relative_to_template"`
}

// Frames is an inclusive frame range.
type Frames struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Step  float64 `json:"step" yaml:"step"`
}

// MotionBlur holds the motion-blur globals.
type MotionBlur struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	Shutter          float64 `json:"shutter" yaml:"shutter"`
	Type             string  `json:"type" yaml:"type"`
	TransformSamples int     `json:"transform_samples" yaml:"transform_samples"`
	DeformSamples    int     `json:"deform_samples" yaml:"deform_samples"`
}

// Interactive holds the IPR tracker timings in milliseconds.
type Interactive struct {
	IdleMS         int `json:"idle_ms" yaml:"idle_ms"`
	DrainPollMS    int `json:"drain_poll_ms" yaml:"drain_poll_ms"`
	DrainTimeoutMS int `json:"drain_timeout_ms" yaml:"drain_timeout_ms"`
}

// Idle returns the quiet period before pending changes are resolved.
func (i Interactive) Idle() time.Duration {
	return time.Duration(i.IdleMS) * time.Millisecond
}

// DrainPoll returns the interval at which an unconsumed batch is
// re-checked.
func (i Interactive) DrainPoll() time.Duration {
	return time.Duration(i.DrainPollMS) * time.Millisecond
}

// DrainTimeout returns how long resolution waits for the previous batch.
func (i Interactive) DrainTimeout() time.Duration {
	return time.Duration(i.DrainTimeoutMS) * time.Millisecond
}

// Default returns the globals used when nothing is configured. They match
// the defaults of the embedded schema.
func Default() Config {
	return Config{
		Width:  640,
		Height: 480,
		Frames: Frames{Start: 1, End: 1, Step: 1},
		MotionBlur: MotionBlur{
			Shutter:          0.5,
			Type:             "center",
			TransformSamples: 2,
			DeformSamples:    2,
		},
		Interactive: Interactive{
			IdleMS:         100,
			DrainPollMS:    10,
			DrainTimeoutMS: 5000,
		},
		SkipPatterns: []string{"swatch*", "__preview*"},
	}
}

// Validate checks the constraints the schema enforces for CUE input, plus
// the cross-field ones it cannot express.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Frames.Step <= 0 {
		return fmt.Errorf("frames.step must be positive, got %g", c.Frames.Step)
	}
	if c.Frames.End < c.Frames.Start {
		return fmt.Errorf("frames.end (%g) is before frames.start (%g)", c.Frames.End, c.Frames.Start)
	}
	if _, err := c.Motion(); err != nil {
		return err
	}
	if c.Interactive.IdleMS <= 0 || c.Interactive.DrainPollMS <= 0 || c.Interactive.DrainTimeoutMS <= 0 {
		return fmt.Errorf("interactive timings must be positive")
	}
	for _, p := range c.SkipPatterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("skip pattern %q: %w", p, err)
		}
	}
	return nil
}

// Motion converts the motion-blur globals into sampler settings.
func (c Config) Motion() (motion.Settings, error) {
	bt, err := motion.ParseBlurType(c.MotionBlur.Type)
	if err != nil {
		return motion.Settings{}, err
	}
	if c.MotionBlur.Shutter < 0 {
		return motion.Settings{}, fmt.Errorf("motion_blur.shutter must not be negative, got %g", c.MotionBlur.Shutter)
	}
	if c.MotionBlur.TransformSamples < 1 || c.MotionBlur.DeformSamples < 1 {
		return motion.Settings{}, fmt.Errorf("%w: transform=%d deform=%d",
			motion.ErrInvalidSampleCount, c.MotionBlur.TransformSamples, c.MotionBlur.DeformSamples)
	}
	return motion.Settings{
		Enabled:          c.MotionBlur.Enabled,
		Shutter:          c.MotionBlur.Shutter,
		Type:             bt,
		TransformSamples: c.MotionBlur.TransformSamples,
		DeformSamples:    c.MotionBlur.DeformSamples,
	}, nil
}

// FrameList expands the frame range. Frames are computed from the start
// by index so fractional steps do not accumulate rounding error.
func (c Config) FrameList() []float64 {
	if c.Frames.Step <= 0 || c.Frames.End < c.Frames.Start {
		return nil
	}
	n := int(math.Floor((c.Frames.End-c.Frames.Start)/c.Frames.Step+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.Frames.Start+float64(i)*c.Frames.Step)
	}
	return out
}

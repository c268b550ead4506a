package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/config"
	"github.com/roach88/scenebridge/internal/sink"
)

// SettingsOptions holds the render-globals flags shared by render, ipr,
// walk and steps. Flags override values loaded from --settings.
type SettingsOptions struct {
	Settings string
	Camera   string
	Width    int
	Height   int
	Frames   string
	Blur     bool
}

func (o *SettingsOptions) addFlags(cmd *cobra.Command) {
	d := config.Default()
	cmd.Flags().StringVar(&o.Settings, "settings", "", "render globals file (.cue or .yaml)")
	cmd.Flags().StringVar(&o.Camera, "camera", "", "camera shape path")
	cmd.Flags().IntVar(&o.Width, "width", d.Width, "image width in pixels")
	cmd.Flags().IntVar(&o.Height, "height", d.Height, "image height in pixels")
	cmd.Flags().StringVar(&o.Frames, "frames", "", "frame range start-end[:step]")
	cmd.Flags().BoolVar(&o.Blur, "motion-blur", false, "enable motion blur")
}

// load reads --settings, applies the flags the user set and validates the
// result.
func (o *SettingsOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.Settings != "" {
		loaded, err := config.Load(o.Settings)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("camera") {
		cfg.Camera = o.Camera
	}
	if flags.Changed("width") {
		cfg.Width = o.Width
	}
	if flags.Changed("height") {
		cfg.Height = o.Height
	}
	if flags.Changed("motion-blur") {
		cfg.MotionBlur.Enabled = o.Blur
	}
	if flags.Changed("frames") {
		fr, err := parseFrames(o.Frames)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Frames = fr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseFrames parses "start-end[:step]" or a single frame number.
func parseFrames(s string) (config.Frames, error) {
	fr := config.Frames{Step: 1}
	rng, step, hasStep := strings.Cut(s, ":")
	if hasStep {
		v, err := strconv.ParseFloat(step, 64)
		if err != nil {
			return config.Frames{}, fmt.Errorf("invalid frame step %q: %w", step, err)
		}
		fr.Step = v
	}

	// The separator search starts at 1 so a negative start frame parses.
	start, end := rng, rng
	if i := strings.Index(rng[min(1, len(rng)):], "-"); i >= 0 {
		start, end = rng[:i+1], rng[i+2:]
	}
	var err error
	if fr.Start, err = strconv.ParseFloat(start, 64); err != nil {
		return config.Frames{}, fmt.Errorf("invalid frame range %q: %w", s, err)
	}
	if fr.End, err = strconv.ParseFloat(end, 64); err != nil {
		return config.Frames{}, fmt.Errorf("invalid frame range %q: %w", s, err)
	}
	return fr, nil
}

// parseRegion parses "x,y,w,h".
func parseRegion(s string) (sink.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return sink.Rect{}, fmt.Errorf("invalid region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return sink.Rect{}, fmt.Errorf("invalid region %q: %w", s, err)
		}
		v[i] = n
	}
	r := sink.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 {
		return sink.Rect{}, fmt.Errorf("invalid region %q: origin must not be negative and size must be positive", s)
	}
	return r, nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/motion"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, []float64{1}, c.FrameList())

	m, err := c.Motion()
	require.NoError(t, err)
	assert.False(t, m.Enabled)
	assert.Equal(t, motion.Center, m.Type)
}

func TestLoadCUEAppliesSchemaDefaults(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "globals.cue"))
	require.NoError(t, err)

	assert.Equal(t, "|camera1|cameraShape1", c.Camera)
	assert.Equal(t, 320, c.Width)
	assert.Equal(t, 240, c.Height)
	assert.Equal(t, []float64{1, 2, 3}, c.FrameList())
	assert.Equal(t, 2, c.MotionBlur.DeformSamples, "default from schema")
	assert.Equal(t, 100*time.Millisecond, c.Interactive.Idle())
	assert.Equal(t, []string{"swatch*", "__preview*"}, c.SkipPatterns)

	m, err := c.Motion()
	require.NoError(t, err)
	assert.Equal(t, motion.Settings{
		Enabled:          true,
		Shutter:          0.4,
		Type:             motion.FrameStart,
		TransformSamples: 3,
		DeformSamples:    2,
	}, m)
}

func TestLoadCUEMatchesDefault(t *testing.T) {
	c, err := ParseCUE([]byte(""), "empty.cue")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadCUEReportsField(t *testing.T) {
	_, err := ParseCUE([]byte("width: -4\n"), "bad.cue")
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "width", le.Field)
}

func TestLoadCUERejectsUnknownBlurType(t *testing.T) {
	_, err := ParseCUE([]byte(`motion_blur: type: "sideways"`), "bad.cue")
	require.Error(t, err)
}

func TestLoadCUERejectsUnknownField(t *testing.T) {
	_, err := ParseCUE([]byte("samples: 4\n"), "bad.cue")
	require.Error(t, err)
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "globals.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 320, c.Width)
	assert.Equal(t, 480, c.Height, "default kept")
	assert.Equal(t, []float64{10, 10.5, 11, 11.5, 12}, c.FrameList())
	assert.Equal(t, 50*time.Millisecond, c.Interactive.Idle())
	assert.Equal(t, 5*time.Second, c.Interactive.DrainTimeout())
	assert.Equal(t, []string{"tmp*"}, c.SkipPatterns)
	assert.True(t, c.RelativeToTemplate)
}

func TestLoadYAMLRejectsUnknownField(t *testing.T) {
	_, err := ParseYAML([]byte("widht: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "widht")
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "globals.toml")
	require.NoError(t, os.WriteFile(path, []byte("width = 1"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported settings format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero width", func(c *Config) { c.Width = 0 }, "resolution"},
		{"reversed frames", func(c *Config) { c.Frames.Start, c.Frames.End = 5, 1 }, "before"},
		{"zero step", func(c *Config) { c.Frames.Step = 0 }, "frames.step"},
		{"bad blur type", func(c *Config) { c.MotionBlur.Type = "sideways" }, "blur"},
		{"zero samples", func(c *Config) { c.MotionBlur.TransformSamples = 0 }, "sample count"},
		{"bad pattern", func(c *Config) { c.SkipPatterns = []string{"["} }, "skip pattern"},
		{"zero idle", func(c *Config) { c.Interactive.IdleMS = 0 }, "interactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFrameListFractionalStep(t *testing.T) {
	c := Default()
	c.Frames = Frames{Start: 0, End: 1, Step: 0.1}
	frames := c.FrameList()
	require.Len(t, frames, 11)
	assert.InDelta(t, 1.0, frames[10], 1e-9)
}

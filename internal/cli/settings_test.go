package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/config"
	"github.com/roach88/scenebridge/internal/sink"
)

func TestParseFrames(t *testing.T) {
	tests := []struct {
		in   string
		want config.Frames
	}{
		{"1-24", config.Frames{Start: 1, End: 24, Step: 1}},
		{"7", config.Frames{Start: 7, End: 7, Step: 1}},
		{"10-12:0.5", config.Frames{Start: 10, End: 12, Step: 0.5}},
		{"-2-3", config.Frames{Start: -2, End: 3, Step: 1}},
		{"-5", config.Frames{Start: -5, End: -5, Step: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFrames(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFramesRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "a-b", "1-", "1-3:x"} {
		_, err := parseFrames(in)
		assert.Error(t, err, in)
	}
}

func TestParseRegion(t *testing.T) {
	r, err := parseRegion("0, 16, 32,64")
	require.NoError(t, err)
	assert.Equal(t, sink.Rect{X: 0, Y: 16, W: 32, H: 64}, r)

	for _, in := range []string{"1,2,3", "0,0,0,10", "-1,0,4,4", "a,b,c,d"} {
		_, err := parseRegion(in)
		assert.Error(t, err, in)
	}
}

func newSettingsCommand(opts *SettingsOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	opts.addFlags(cmd)
	return cmd
}

func TestSettingsFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "globals.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera: \"|cam|camShape\"\nwidth: 320\nheight: 200\n"), 0644))

	opts := &SettingsOptions{}
	cmd := newSettingsCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--settings", path, "--height", "100", "--frames", "3-5"}))

	cfg, err := opts.load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "|cam|camShape", cfg.Camera)
	assert.Equal(t, 320, cfg.Width, "unset flags keep the file's value")
	assert.Equal(t, 100, cfg.Height)
	assert.Equal(t, config.Frames{Start: 3, End: 5, Step: 1}, cfg.Frames)
}

func TestSettingsWithoutFileUseDefaults(t *testing.T) {
	opts := &SettingsOptions{}
	cmd := newSettingsCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--motion-blur"}))

	cfg, err := opts.load(cmd)
	require.NoError(t, err)
	want := config.Default()
	want.MotionBlur.Enabled = true
	assert.Equal(t, want, cfg)
}

func TestSettingsRejectInvalidOverride(t *testing.T) {
	opts := &SettingsOptions{}
	cmd := newSettingsCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--frames", "5-1"}))

	_, err := opts.load(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frames.end")
}

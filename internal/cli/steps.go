package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/motion"
)

// NewStepsCommand creates the steps command.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WalkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Print the motion steps a frame is sampled at",
		Long: `Print the ordered motion steps for the configured motion blur settings,
with the time offsets relative to the frame and whether the time cursor
moves before each step. The trailing none step is bookkeeping and is not
sampled when blur is enabled.

Example:
  scenebridge steps --settings globals.cue
  scenebridge steps --motion-blur --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(cmd, opts)
		},
	}
	opts.SettingsOptions.addFlags(cmd)
	return cmd
}

// stepReport is one line of the steps command.
type stepReport struct {
	Kind       string  `json:"kind"`
	Time       float64 `json:"time"`
	MoveCursor bool    `json:"move_cursor"`
}

type stepsReport []stepReport

// WriteText implements textReport.
func (r stepsReport) WriteText(w io.Writer) error {
	for i, st := range r {
		move := ""
		if st.MoveCursor {
			move = " (move cursor)"
		}
		if _, err := fmt.Fprintf(w, "%d  %-9s %+g%s\n", i, st.Kind, st.Time, move); err != nil {
			return err
		}
	}
	return nil
}

func runSteps(cmd *cobra.Command, opts *WalkOptions) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid render settings", err)
	}
	settings, err := cfg.Motion()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid motion blur settings", err)
	}
	steps, err := motion.Steps(settings)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid motion blur settings", err)
	}
	moves := motion.ViewUpdates(steps)

	out := make(stepsReport, 0, len(steps))
	for i, st := range steps {
		out = append(out, stepReport{Kind: st.Kind.String(), Time: st.Time, MoveCursor: moves[i]})
	}
	return newFormatter(opts.RootOptions, cmd).Success(out)
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/engine"
	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/sink"
)

// NewIPRCommand creates the ipr command.
func NewIPRCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ipr <scene.yaml>",
		Short: "Interactive render that follows edits to the scene file",
		Long: `Render the first frame and keep the render in sync with the scene file.

Every save of the scene file is applied as host edits; changed objects are
re-translated and the render restarts. Ctrl-C stops the session.

Control lines read from stdin:
  pause            stop applying edits until resumed
  resume           apply edits again, including those made while paused
  region x,y,w,h   restart the render inside a crop window
  region full      restart the render on the whole image
  stop             end the session

Example:
  scenebridge ipr ./shot.yaml --region 0,0,320,240`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIPR(cmd, opts, args[0])
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func runIPR(cmd *cobra.Command, opts *RenderOptions, scenePath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l, err := launch(ctx, cmd, opts, scenePath)
	if err != nil {
		return err
	}
	defer l.close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := host.Watch(watchCtx, l.path, l.scene, l.logger); err != nil {
			l.logger.Warn("scene file is not watched, edits will not reach the render", "path", l.path, "error", err)
		}
	}()

	l.engine.StartIPR()
	waited := make(chan error, 1)
	go func() { waited <- l.engine.Wait(context.Background()) }()

	fmt.Fprintln(cmd.ErrOrStderr(), "IPR started. Edit the scene file to update the render.")
	fmt.Fprintln(cmd.ErrOrStderr(), "Type pause, resume, region x,y,w,h or stop. Press Ctrl-C to stop.")
	go func() {
		if err := readControl(cmd.InOrStdin(), l.engine, cmd.ErrOrStderr()); err != nil {
			l.logger.Warn("control input closed", "error", err)
		}
	}()

	stop := interruptOn(ctx, l.logger, l.engine.StopIPR)
	werr := <-waited
	stop()

	formatter := newFormatter(opts.RootOptions, cmd)
	if err := formatter.Success(l.report(engine.ModeInteractive, werr)); err != nil {
		return err
	}
	if werr != nil {
		return WrapExitError(ExitFailure, "interactive render failed", werr)
	}
	return nil
}

// iprControl is the render-control surface driven by control lines.
type iprControl interface {
	PauseIPR(paused bool)
	UpdateIPRRegion(r sink.Rect)
	StopIPR()
}

// readControl applies control lines from r until EOF or a stop line.
// Malformed lines are reported to out and ignored.
func readControl(r io.Reader, ctl iprControl, out io.Writer) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "pause":
			ctl.PauseIPR(true)
		case "resume":
			ctl.PauseIPR(false)
		case "region":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: region x,y,w,h | region full")
				continue
			}
			if fields[1] == "full" {
				ctl.UpdateIPRRegion(sink.Rect{})
				continue
			}
			region, err := parseRegion(fields[1])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			ctl.UpdateIPRRegion(region)
		case "stop":
			ctl.StopIPR()
			return nil
		default:
			fmt.Fprintf(out, "unknown control %q: want pause, resume, region or stop\n", fields[0])
		}
	}
	return sc.Err()
}

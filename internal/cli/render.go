package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/engine"
)

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <scene.yaml>",
		Short: "Batch render every frame of a scene",
		Long: `Translate the scene once per frame and render it.

Frames that fail to translate or render are skipped; a session-fatal sink
error stops the render. Ctrl-C interrupts after the current tile.

Example:
  scenebridge render ./shot.yaml --frames 1-24 --db ./session.db
  scenebridge render ./shot.yaml --settings globals.cue --motion-blur`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, args[0])
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func runRender(cmd *cobra.Command, opts *RenderOptions, scenePath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l, err := launch(ctx, cmd, opts, scenePath)
	if err != nil {
		return err
	}
	defer l.close()

	stop := interruptOn(ctx, l.logger, l.engine.Interrupt)
	defer stop()

	l.engine.StartRender()
	werr := l.engine.Wait(context.Background())

	formatter := newFormatter(opts.RootOptions, cmd)
	if err := formatter.Success(l.report(engine.ModeBatch, werr)); err != nil {
		return err
	}
	switch {
	case werr != nil:
		return WrapExitError(ExitFailure, "render failed", werr)
	case l.engine.State() == engine.StateStopped:
		return NewExitError(ExitFailure, "render interrupted")
	}
	return nil
}

// interruptOn calls fn once on SIGINT, SIGTERM or when ctx is cancelled.
// The returned function stops listening.
func interruptOn(ctx context.Context, logger *slog.Logger, fn func()) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping render", "signal", sig)
			fn()
		case <-ctx.Done():
			logger.Info("command cancelled, stopping render")
			fn()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		close(done)
	}
}

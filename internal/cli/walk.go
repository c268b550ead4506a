package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/walker"
)

// WalkOptions holds flags for the walk command.
type WalkOptions struct {
	*RootOptions
	SettingsOptions
	Interactive bool
}

// NewWalkCommand creates the walk command.
func NewWalkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WalkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "walk <scene.yaml>",
		Short: "Print the objects, cameras, lights and particles a render would translate",
		Long: `Walk the scene at the first frame and print the translation lists.

Example:
  scenebridge walk ./shot.yaml
  scenebridge walk ./shot.yaml --format json --frames 12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalk(cmd, opts, args[0])
		},
	}
	opts.SettingsOptions.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.Interactive, "interactive", false, "walk as an interactive session does")
	return cmd
}

// walkReport is the result of the walk command.
type walkReport struct {
	Frame      float64         `json:"frame"`
	Lists      scene.Lists     `json:"lists"`
	Particles  []walkParticle  `json:"particles"`
	LightLinks []walkLightLink `json:"light_links,omitempty"`
}

type walkParticle struct {
	ID    scene.NodeID `json:"id"`
	Color *[3]float64  `json:"color,omitempty"`
}

// walkLightLink lists the meshes a linked light does not illuminate.
type walkLightLink struct {
	Light    scene.NodeID   `json:"light"`
	Excluded []scene.NodeID `json:"excluded"`
}

// WriteText implements textReport.
func (r walkReport) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Frame %g\n", r.Frame)
	section := func(title string, ids []scene.NodeID) {
		fmt.Fprintf(&b, "%s (%d):\n", title, len(ids))
		for _, id := range ids {
			fmt.Fprintf(&b, "  %s\n", id)
		}
	}
	section("Objects", r.Lists.Objects)
	section("Cameras", r.Lists.Cameras)
	section("Lights", r.Lists.Lights)
	section("Instancers", r.Lists.InstancerRoots)

	fmt.Fprintf(&b, "Particles (%d):\n", len(r.Particles))
	for _, p := range r.Particles {
		if p.Color != nil {
			fmt.Fprintf(&b, "  %s color=%g,%g,%g\n", p.ID, p.Color[0], p.Color[1], p.Color[2])
			continue
		}
		fmt.Fprintf(&b, "  %s\n", p.ID)
	}
	fmt.Fprintf(&b, "Light links (%d):\n", len(r.LightLinks))
	for _, l := range r.LightLinks {
		excluded := make([]string, len(l.Excluded))
		for i, id := range l.Excluded {
			excluded[i] = string(id)
		}
		fmt.Fprintf(&b, "  %s excludes %s\n", l.Light, strings.Join(excluded, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func runWalk(cmd *cobra.Command, opts *WalkOptions, scenePath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.load(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid render settings", err)
	}
	doc, err := host.LoadDocument(scenePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scene", err)
	}
	h, err := host.NewMemSceneFromDocument(doc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scene", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	arena := scene.NewArena()
	w := walker.New(h, arena,
		walker.WithLogger(logger),
		walker.WithSkipPatterns(cfg.SkipPatterns...),
		walker.WithInteractive(opts.Interactive),
	)
	x := walker.NewExpander(h, arena,
		walker.WithExpanderLogger(logger),
		walker.WithRelativeToTemplate(cfg.RelativeToTemplate),
	)

	frame := cfg.Frames.Start
	h.MoveTimeCursor(frame)
	step := scene.MotionStep{Kind: scene.StepTransform}
	lists, err := w.Walk(ctx, 0, step)
	if err != nil {
		return WrapExitError(ExitFailure, "scene walk failed", err)
	}
	particles, _, err := x.Expand(ctx, lists.InstancerRoots, 0, step)
	if err != nil {
		return WrapExitError(ExitFailure, "instancer expansion failed", err)
	}
	report := walkReport{
		Frame:     frame,
		Lists:     lists,
		Particles: make([]walkParticle, 0, len(particles)),
	}
	for _, id := range particles {
		p := walkParticle{ID: id}
		if o, ok := arena.Get(id); ok {
			p.Color = o.Color
		}
		report.Particles = append(report.Particles, p)
	}
	for _, id := range lists.Lights {
		if o, ok := arena.Get(id); ok && len(o.Excluded) > 0 {
			report.LightLinks = append(report.LightLinks, walkLightLink{Light: id, Excluded: o.Excluded})
		}
	}
	return newFormatter(opts.RootOptions, cmd).Success(report)
}

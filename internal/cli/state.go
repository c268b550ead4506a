package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/store"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Database string
	Session  string
	Removed  bool
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the recorded render state and sink ledger of a session",
		Long: `Query a session ledger for the last render state (Translating, Rendering,
Done, None or Stopped), the frame outcomes and the render entities the
session created.

Example:
  scenebridge state --db ./session.db
  scenebridge state --db ./session.db --session 0190... --removed --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite session ledger (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: latest)")
	cmd.Flags().BoolVar(&opts.Removed, "removed", false, "include removed entities")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

// stateReport is the result of the state command.
type stateReport struct {
	Session    store.Session          `json:"session"`
	Frames     []store.FrameRecord    `json:"frames"`
	Assemblies []store.AssemblyRecord `json:"assemblies"`
	Instances  []store.InstanceRecord `json:"instances"`
	Objects    []store.ObjectRecord   `json:"objects"`
}

// WriteText implements textReport.
func (r stateReport) WriteText(w io.Writer) error {
	s := r.Session
	fmt.Fprintf(w, "Session %s (%s) scene=%s camera=%s %dx%d\n", s.ID, s.Mode, s.Scene, s.Camera, s.Width, s.Height)
	fmt.Fprintf(w, "State: %s\n", s.State)
	fmt.Fprintf(w, "Frames (%d):\n", len(r.Frames))
	for _, f := range r.Frames {
		line := fmt.Sprintf("  %g %s steps=%d", f.Frame, f.Status, f.Steps)
		if f.Error != "" {
			line += " error=" + f.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Assemblies (%d):\n", len(r.Assemblies))
	for _, a := range r.Assemblies {
		fmt.Fprintf(w, "  %s parent=%s%s\n", a.Name, a.Parent, removedMark(a.Removed))
	}
	fmt.Fprintf(w, "Instances (%d):\n", len(r.Instances))
	for _, i := range r.Instances {
		fmt.Fprintf(w, "  %s of=%s in=%s samples=%d%s\n", i.Name, i.Assembly, i.Container, len(i.Transforms), removedMark(i.Removed))
	}
	fmt.Fprintf(w, "Objects (%d):\n", len(r.Objects))
	for _, o := range r.Objects {
		fmt.Fprintf(w, "  %s in=%s%s\n", o.Name, o.Assembly, removedMark(o.Removed))
	}
	return nil
}

func removedMark(removed bool) string {
	if removed {
		return " (removed)"
	}
	return ""
}

func runState(cmd *cobra.Command, opts *StateOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// Opening creates a missing database; a query must not.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	report, err := readState(ctx, st, opts.Session, opts.Removed)
	if errors.Is(err, store.ErrNoSession) {
		return WrapExitError(ExitCommandError, "no recorded session", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}
	return newFormatter(opts.RootOptions, cmd).Success(report)
}

func readState(ctx context.Context, st *store.Store, id string, removed bool) (stateReport, error) {
	var (
		r   stateReport
		err error
	)
	if id == "" {
		r.Session, err = st.LatestSession(ctx)
	} else {
		r.Session, err = st.ReadSession(ctx, id)
	}
	if err != nil {
		return stateReport{}, err
	}
	if r.Frames, err = st.ReadFrames(ctx, r.Session.ID); err != nil {
		return stateReport{}, err
	}
	if r.Assemblies, err = st.ReadAssemblies(ctx, r.Session.ID, removed); err != nil {
		return stateReport{}, err
	}
	if r.Instances, err = st.ReadInstances(ctx, r.Session.ID, removed); err != nil {
		return stateReport{}, err
	}
	if r.Objects, err = st.ReadObjects(ctx, r.Session.ID, removed); err != nil {
		return stateReport{}, err
	}
	return r, nil
}

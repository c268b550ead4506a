package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/engine"
	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/sink"
	"github.com/roach88/scenebridge/internal/store"
)

// RenderOptions holds flags for the render and ipr commands.
type RenderOptions struct {
	*RootOptions
	SettingsOptions
	Database string
	Region   string

	// SessionIDs allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	SessionIDs engine.SessionIDGenerator
}

func (o *RenderOptions) addFlags(cmd *cobra.Command) {
	o.SettingsOptions.addFlags(cmd)
	cmd.Flags().StringVar(&o.Database, "db", "", "path to SQLite session ledger (optional)")
	cmd.Flags().StringVar(&o.Region, "region", "", "crop window x,y,w,h")
}

// launched is a session whose engine loop is running.
type launched struct {
	path     string
	scene    *host.MemScene
	sink     *sink.MemorySink
	progress *progressHooks
	engine   *engine.Engine
	logger   *slog.Logger
	close    func()
}

// launch loads the scene and settings and starts an engine loop. The loop
// outlives ctx so a cancelled command can still stop the render cleanly;
// close stops it.
func launch(ctx context.Context, cmd *cobra.Command, opts *RenderOptions, scenePath string) (*launched, error) {
	cfg, err := opts.load(cmd)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid render settings", err)
	}
	var region sink.Rect
	if opts.Region != "" {
		if region, err = parseRegion(opts.Region); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid render settings", err)
		}
	}
	doc, err := host.LoadDocument(scenePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load scene", err)
	}
	h, err := host.NewMemSceneFromDocument(doc)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load scene", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	sopts := []engine.SessionOption{
		engine.WithSceneName(sceneName(doc, scenePath)),
		engine.WithSessionLogger(logger),
	}
	if opts.SessionIDs != nil {
		sopts = append(sopts, engine.WithSessionIDs(opts.SessionIDs))
	}

	var st *store.Store
	if opts.Database != "" {
		logger.Info("opening session ledger", "path", opts.Database)
		if st, err = store.Open(opts.Database); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		sopts = append(sopts, engine.WithStore(st))
	}
	closeStore := func() {
		if st == nil {
			return
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}

	mem := sink.NewMemorySink()
	session, err := engine.NewSession(cfg, h, mem, sopts...)
	if err != nil {
		closeStore()
		return nil, WrapExitError(ExitCommandError, "invalid render settings", err)
	}

	progress := &progressHooks{logger: logger}
	eng := engine.New(session,
		engine.WithHooks(progress),
		engine.WithLogger(logger),
		engine.WithRegion(region),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(runCtx)
	}()

	return &launched{
		path:     scenePath,
		scene:    h,
		sink:     mem,
		progress: progress,
		engine:   eng,
		logger:   logger,
		close: func() {
			cancel()
			<-done
			closeStore()
		},
	}, nil
}

func sceneName(doc *host.Document, path string) string {
	if doc.Name != "" {
		return doc.Name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// report summarizes the finished session.
func (l *launched) report(mode engine.Mode, err error) renderReport {
	rendered, attempted, tiles := l.progress.snapshot()
	r := renderReport{
		Session:    l.engine.Session().ID,
		Mode:       mode.String(),
		State:      l.engine.State().Query(),
		Rendered:   rendered,
		Skipped:    attempted - len(rendered),
		Renders:    l.sink.Renders(),
		Tiles:      tiles,
		Assemblies: l.sink.Creations("assembly"),
		Instances:  l.sink.Creations("instance"),
		Objects:    l.sink.Creations("object"),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// progressHooks logs frame progress and counts what was rendered.
type progressHooks struct {
	engine.NopHooks

	logger *slog.Logger

	mu        sync.Mutex
	attempted int
	rendered  []float64
	tiles     int
}

func (p *progressHooks) PreFrame(_ context.Context, frame float64) error {
	p.mu.Lock()
	p.attempted++
	p.mu.Unlock()
	p.logger.Debug("frame starting", "frame", frame)
	return nil
}

func (p *progressHooks) PostFrame(_ context.Context, frame float64) error {
	p.mu.Lock()
	p.rendered = append(p.rendered, frame)
	p.mu.Unlock()
	p.logger.Info("frame complete", "frame", frame)
	return nil
}

func (p *progressHooks) UpdateTile(sink.Rect, []float32) {
	p.mu.Lock()
	p.tiles++
	p.mu.Unlock()
}

func (p *progressHooks) snapshot() (rendered []float64, attempted, tiles int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64{}, p.rendered...), p.attempted, p.tiles
}

// renderReport is the result of the render and ipr commands.
type renderReport struct {
	Session    string    `json:"session"`
	Mode       string    `json:"mode"`
	State      string    `json:"state"`
	Rendered   []float64 `json:"rendered"`
	Skipped    int       `json:"skipped"`
	Renders    int       `json:"renders"`
	Tiles      int       `json:"tiles"`
	Assemblies int       `json:"assemblies_created"`
	Instances  int       `json:"instances_created"`
	Objects    int       `json:"objects_placed"`
	Error      string    `json:"error,omitempty"`
}

// WriteText implements textReport.
func (r renderReport) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, `Session:    %s (%s)
State:      %s
Frames:     %d rendered, %d skipped
Renders:    %d (%d tiles)
Created:    %d assemblies, %d instances, %d objects
`, r.Session, r.Mode, r.State, len(r.Rendered), r.Skipped, r.Renders, r.Tiles,
		r.Assemblies, r.Instances, r.Objects)
	if err == nil && r.Error != "" {
		_, err = fmt.Fprintf(w, "Error:      %s\n", r.Error)
	}
	return err
}

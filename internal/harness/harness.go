package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roach88/scenebridge/internal/config"
	"github.com/roach88/scenebridge/internal/engine"
	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/sink"
	"github.com/roach88/scenebridge/internal/store"
	"github.com/roach88/scenebridge/internal/testutil"
)

// DefaultTimeout bounds each wait of a scenario run.
const DefaultTimeout = 5 * time.Second

// Harness holds the collaborators of one scenario run.
type Harness struct {
	scenario *Scenario
	scene    *host.MemScene
	sink     *sink.MemorySink
	store    *store.Store
	engine   *engine.Engine
	hooks    *tileHooks
	logger   *slog.Logger
	timeout  time.Duration
}

// tileHooks counts tiles seen on the loop goroutine.
type tileHooks struct {
	engine.NopHooks

	mu    sync.Mutex
	tiles int
}

func (h *tileHooks) PreTile(sink.Rect) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tiles++
}

func (h *tileHooks) seen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tiles
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory ledger with a fixed session id
// and a deterministic ledger clock.
//
// Execution flow:
// 1. Load render globals and the scene document
// 2. Start the engine against a MemorySink with the scenario's failures
// 3. Batch: render every frame. Interactive: apply each edit after the
// previous render completed, then stop
// 4. Evaluate assertions against the trace and the ledger
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := loadSettings(scenario.Settings)
	if err != nil {
		return nil, err
	}
	doc, err := host.LoadDocument(scenario.Scene)
	if err != nil {
		return nil, err
	}
	ms, err := host.NewMemSceneFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build scene: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		scene:    ms,
		sink:     sink.NewMemorySink(),
		store:    st,
		hooks:    &tileHooks{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:  DefaultTimeout,
	}
	for _, f := range scenario.FailOn {
		ferr := errors.New(f.Error)
		if f.Fatal {
			ferr = fmt.Errorf("%w: %s", sink.ErrSessionFatal, f.Error)
		}
		if f.Once {
			h.sink.FailOnce(f.Op, f.Name, ferr)
		} else {
			h.sink.FailOn(f.Op, f.Name, ferr)
		}
	}

	sceneName := doc.Name
	if sceneName == "" {
		sceneName = strings.TrimSuffix(filepath.Base(scenario.Scene), filepath.Ext(scenario.Scene))
	}
	session, err := engine.NewSession(cfg, ms, h.sink,
		engine.WithSceneName(sceneName),
		engine.WithStore(st),
		engine.WithSessionIDs(testutil.NewFixedSessionGenerator(scenario.SessionID)),
		engine.WithSessionLogger(h.logger),
	)
	if err != nil {
		return nil, err
	}

	opts := []engine.EngineOption{engine.WithHooks(h.hooks), engine.WithLogger(h.logger)}
	if scenario.Region != nil {
		opts = append(opts, engine.WithRegion(*scenario.Region))
	}
	h.engine = engine.New(session, opts...)
	// Ledger seqs must not depend on event interleaving.
	st.SetSequencer(testutil.NewDeterministicClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.engine.Run(ctx)
	}()
	defer func() {
		h.engine.Stop()
		<-runDone
	}()

	result := NewResult()
	var out outcome
	if scenario.Mode == "interactive" {
		out, err = h.runInteractive(ctx)
	} else {
		out, err = h.runBatch(ctx)
	}
	if err != nil {
		return nil, err
	}

	result.Ops = h.sink.Ops()
	result.State = h.engine.State().Query()
	if out.err != nil {
		result.Error = out.err.Error()
	}
	frames, err := st.ReadFrames(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}
	for _, f := range frames {
		result.Frames = append(result.Frames, FrameOutcome{Frame: f.Frame, Status: f.Status, Steps: f.Steps, Error: f.Error})
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func loadSettings(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return cfg, nil
}

// outcome is what the engine reported for the session. A harness failure
// is returned separately as an error.
type outcome struct {
	err error
}

// runBatch renders every frame.
func (h *Harness) runBatch(ctx context.Context) (outcome, error) {
	h.engine.StartRender()
	return h.wait(ctx, "batch render did not finish")
}

func (h *Harness) wait(ctx context.Context, msg string) (outcome, error) {
	wctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	err := h.engine.Wait(wctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome{}, fmt.Errorf("%s within %s", msg, h.timeout)
	}
	return outcome{err: err}, nil
}

// runInteractive starts an IPR session, applies the edits one by one and
// stops it.
func (h *Harness) runInteractive(ctx context.Context) (outcome, error) {
	h.engine.StartIPR()

	// A seen tile means the loop processed the callback installation that
	// precedes it.
	started := h.waitFor(func() bool {
		return h.hooks.seen() > 0 && h.completedRenders() > 0
	})
	if !started {
		// The session may have ended before rendering, e.g. on a failed init.
		if h.sessionOver() {
			return h.wait(ctx, "interactive session did not end")
		}
		if len(h.scenario.Edits) > 0 {
			return outcome{}, fmt.Errorf("first interactive render did not complete within %s", h.timeout)
		}
	}

	// Host edits made while paused are held back; the resume that
	// releases them is followed by one render.
	paused, held := false, 0
	for i, e := range h.scenario.Edits {
		before := h.completedRenders()
		if err := h.apply(e); err != nil {
			return outcome{}, fmt.Errorf("edits[%d]: %w", i, err)
		}
		switch e.Op {
		case EditPause:
			paused = true
			if !h.waitFor(h.engine.IPRPaused) {
				return outcome{}, fmt.Errorf("edits[%d]: pause was not applied within %s", i, h.timeout)
			}
			continue
		case EditResume:
			paused = false
			if held == 0 {
				continue
			}
			held = 0
		case EditRegion:
		default:
			if paused {
				held++
				continue
			}
		}
		if !h.waitFor(func() bool { return h.completedRenders() > before || h.sessionOver() }) {
			return outcome{}, fmt.Errorf("edits[%d]: no render followed %s of %s", i, e.Op, e.Node)
		}
		if h.sessionOver() {
			break
		}
	}

	h.engine.StopIPR()
	return h.wait(ctx, "interactive session did not stop")
}

func (h *Harness) apply(e Edit) error {
	id := scene.NodeID(e.Node)
	switch e.Op {
	case EditTranslate:
		return h.scene.SetTranslate(id, [3]float64{e.Translate[0], e.Translate[1], e.Translate[2]})
	case EditVisible:
		return h.scene.SetVisible(id, *e.Visible)
	case EditAttribute:
		return h.scene.SetAttribute(id, e.Attribute, e.Value)
	case EditAdd:
		_, err := h.scene.AddNode(id, *e.Add)
		return err
	case EditRemove:
		return h.scene.RemoveNode(id)
	case EditRegion:
		h.engine.UpdateIPRRegion(*e.Region)
		return nil
	case EditPause, EditResume:
		h.engine.PauseIPR(e.Op == EditPause)
		return nil
	}
	return fmt.Errorf("unknown edit op %q", e.Op)
}

func (h *Harness) sessionOver() bool {
	switch h.engine.State() {
	case engine.StateDone, engine.StateStopped:
		return true
	}
	return false
}

// completedRenders counts renders that ran to the last tile.
func (h *Harness) completedRenders() int {
	n := 0
	for _, op := range h.sink.Ops() {
		if strings.HasPrefix(op, "render frame=") && !strings.Contains(op, "aborted") {
			n++
		}
	}
	return n
}

func (h *Harness) waitFor(cond func() bool) bool {
	deadline := time.Now().Add(h.timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

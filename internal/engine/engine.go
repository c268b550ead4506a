package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/scenebridge/internal/sink"
)

// ErrEngineStopped is returned by Wait when the engine stopped before the
// session finished.
var ErrEngineStopped = errors.New("engine: stopped")

// State is the orchestrator state.
type State int32

const (
	StateNone State = iota
	StateTranslating
	StateRendering
	StateUpdating
	StateDone
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateTranslating:
		return "Translating"
	case StateRendering:
		return "Rendering"
	case StateUpdating:
		return "Updating"
	case StateDone:
		return "Done"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

// Query returns the state as reported to render-state queries, one of
// Translating, Rendering, Done, None or Stopped. Applying an IPR batch is
// a translation from the caller's point of view.
func (s State) Query() string {
	if s == StateUpdating {
		return StateTranslating.String()
	}
	return s.String()
}

// job is one started render, finished exactly once.
type job struct {
	mode Mode
	done chan struct{}
	once sync.Once
	err  error
}

func newJob(mode Mode) *job {
	return &job{mode: mode, done: make(chan struct{})}
}

func (j *job) finish(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

// Engine is the single-writer render orchestrator.
//
// CRITICAL: every sink call and every translation happens on the Run
// goroutine. The render goroutine only calls Sink.Render; host callbacks
// only reach the IPR tracker. Public methods enqueue events.
//
// Thread-safety model:
//   - StartRender, StartIPR, StopIPR, Interrupt, PauseIPR, IPRPaused,
//     UpdateIPRRegion, State, Wait: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	session *Session
	clock   *Clock
	queue   *eventQueue
	hooks   Hooks
	logger  *slog.Logger
	ctrl    *sink.Controller
	state   atomic.Int32
	paused  atomic.Bool

	jobMu sync.Mutex
	job   *job

	// Owned by the Run goroutine.
	active      *job
	pipe        *pipeline
	over        chan struct{}
	frames      []float64
	next        int
	frame       float64
	steps       int
	gen         uint64
	rendering   chan struct{}
	renderStart time.Time
	region      sink.Rect
	stopping    bool
	callbacks   bool
	initPending bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithHooks sets the frame and tile hooks. Default: NopHooks.
func WithHooks(h Hooks) EngineOption {
	return func(e *Engine) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithLogger sets the engine logger. Default: the session logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the logical clock, e.g. to continue an existing ledger.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRegion sets the initial crop window.
func WithRegion(r sink.Rect) EngineOption {
	return func(e *Engine) {
		e.region = r
	}
}

// New creates an Engine driving session.
func New(session *Session, opts ...EngineOption) *Engine {
	clock := NewClock()
	if session.store != nil {
		clock = NewClockAt(session.store.LastSeq())
	}
	e := &Engine{
		session: session,
		clock:   clock,
		queue:   newEventQueue(),
		hooks:   NopHooks{},
		logger:  session.logger,
		ctrl:    sink.NewController(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if session.store != nil {
		session.store.SetSequencer(e.clock)
	}
	return e
}

// Session returns the session the engine drives.
func (e *Engine) Session() *Session {
	return e.session
}

func (e *Engine) enqueue(ev Event) bool {
	ev.Seq = e.clock.Next()
	return e.queue.Enqueue(ev)
}

// StartRender starts a batch render of every configured frame.
func (e *Engine) StartRender() {
	e.start(ModeBatch)
}

// StartIPR starts an interactive session on the first configured frame.
func (e *Engine) StartIPR() {
	e.start(ModeInteractive)
}

func (e *Engine) start(mode Mode) {
	j := newJob(mode)
	e.jobMu.Lock()
	e.job = j
	e.jobMu.Unlock()
	if !e.enqueue(Event{Type: EventInitRender, job: j}) {
		j.finish(ErrEngineStopped)
	}
}

// StopIPR ends the interactive session.
func (e *Engine) StopIPR() {
	e.enqueue(Event{Type: EventStopIPR})
}

// Interrupt aborts the running render. A batch render stops after the
// current frame; an interactive session keeps waiting for edits.
//
// The abort flag is set immediately; the render call polls it.
func (e *Engine) Interrupt() {
	e.ctrl.Abort()
	e.enqueue(Event{Type: EventInterrupt})
}

// PauseIPR pauses or resumes change resolution.
func (e *Engine) PauseIPR(paused bool) {
	e.enqueue(Event{Type: EventPauseIPR, Paused: paused})
}

// UpdateIPRRegion sets the crop window. An interactive render restarts
// with the new region; a batch render applies it to the next session.
func (e *Engine) UpdateIPRRegion(r sink.Rect) {
	e.enqueue(Event{Type: EventUpdateRegion, Region: r})
}

// IPRPaused reports whether the running interactive session holds its
// edits back.
func (e *Engine) IPRPaused() bool {
	return e.paused.Load()
}

// State returns the current orchestrator state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Wait blocks until the most recently started render finished and returns
// its session-fatal error, if any.
func (e *Engine) Wait(ctx context.Context) error {
	e.jobMu.Lock()
	j := e.job
	e.jobMu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.err
	}
}

// Stop closes the event queue; Run returns once it is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failing event is logged with its context and the loop
// continues. Frame and session failures are handled by the event handlers
// themselves.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(e.logger, event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.shutdown(ctx, ctx.Err())
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed once the queue is closed.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				e.shutdown(ctx, ErrEngineStopped)
				return nil
			}
		}
	}
}

// shutdown ends an active session when the loop exits.
func (e *Engine) shutdown(ctx context.Context, err error) {
	if e.active == nil {
		return
	}
	e.abortRender()
	e.finish(context.WithoutCancel(ctx), err, StateStopped)
}

// processEvent routes an event to its handler.
// CRITICAL: called only from the Run goroutine.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	eventsTotal.WithLabelValues(ev.Type.String()).Inc()

	switch ev.Type {
	case EventInitRender:
		return e.handleInitRender(ctx, ev)
	case EventFrameRender:
		return e.handleFrameRender(ctx)
	case EventFrameDone:
		return e.handleFrameDone(ctx, ev)
	case EventRenderDone:
		e.handleRenderDone(ctx, ev.Err)
	case EventInterrupt:
		e.handleInterrupt()
	case EventAddCallbacks:
		e.handleAddCallbacks(ctx)
	case EventUpdateUI:
		e.hooks.UpdateTile(ev.Region, ev.Pixels)
	case EventPreTile:
		e.hooks.PreTile(ev.Region)
	case EventIPRUpdate:
		return e.handleIPRUpdate(ctx)
	case EventUpdateRegion:
		return e.handleUpdateRegion(ctx, ev.Region)
	case EventPauseIPR:
		if e.pipe != nil && e.pipe.tracker != nil {
			e.pipe.tracker.Pause(ev.Paused)
			e.paused.Store(ev.Paused)
			e.logger.Info("IPR paused", "paused", ev.Paused)
		}
	case EventStopIPR:
		e.handleStopIPR(ctx)
	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
	return nil
}

// busy reports whether a session is active or still shutting down.
func (e *Engine) busy() bool {
	if e.over == nil {
		return false
	}
	select {
	case <-e.over:
		return false
	default:
		return true
	}
}

func (e *Engine) handleInitRender(ctx context.Context, ev Event) error {
	if e.busy() {
		// Defer without blocking the loop: re-enqueue once the previous
		// session has fully shut down.
		over := e.over
		e.logger.Info("previous session still shutting down, deferring render start", "mode", ev.job.mode)
		go func() {
			<-over
			if !e.enqueue(ev) {
				ev.job.finish(ErrEngineStopped)
			}
		}()
		return nil
	}

	cfg := e.session.Config
	e.active = ev.job
	e.over = make(chan struct{})
	e.stopping = false
	e.callbacks = false
	e.frames = cfg.FrameList()
	if ev.job.mode == ModeInteractive && len(e.frames) > 1 {
		e.frames = e.frames[:1]
	}
	e.next = 0
	if len(e.frames) == 0 {
		e.finish(ctx, fmt.Errorf("empty frame range %g-%g", cfg.Frames.Start, cfg.Frames.End), StateStopped)
		return nil
	}
	e.frame = e.frames[0]

	if st := e.session.store; st != nil {
		if err := st.RecordSession(ctx, e.session.ID, ev.job.mode.String(), e.session.Scene,
			cfg.Camera, cfg.Width, cfg.Height); err != nil {
			e.logger.Warn("ledger write failed", "op", "record_session", "error", err)
		}
	}
	e.setState(ctx, StateTranslating)

	e.pipe = e.session.newPipeline(ev.job.mode)
	e.initPending = true
	e.logger.Info("render started", "mode", ev.job.mode, "frames", len(e.frames),
		"camera", cfg.Camera, "width", cfg.Width, "height", cfg.Height)
	e.enqueue(Event{Type: EventFrameRender})
	return nil
}

func (e *Engine) handleFrameRender(ctx context.Context) error {
	if e.pipe == nil {
		return nil
	}
	if e.stopping || e.next >= len(e.frames) {
		e.enqueue(Event{Type: EventRenderDone})
		return nil
	}

	frame := e.frames[e.next]
	e.next++
	e.frame = frame
	e.steps = 0
	e.setState(ctx, StateTranslating)

	if e.initPending {
		if err := e.initSink(ctx, frame); err != nil {
			if e.pipe.mode == ModeInteractive {
				// No later frame to fall back to.
				e.stopping = true
				e.handleRenderDone(ctx, err)
				return nil
			}
			return e.frameFailed(ctx, frame, err)
		}
	}

	if err := e.hooks.PreFrame(ctx, frame); err != nil {
		return e.frameFailed(ctx, frame, frameError(ErrCodeHook, frame, err))
	}
	steps, err := e.translateFrame(ctx, frame)
	e.steps = steps
	if err != nil {
		return e.frameFailed(ctx, frame, err)
	}
	if err := e.session.Sink.SetFrame(frame); err != nil {
		return e.frameFailed(ctx, frame, frameError(ErrCodeRender, frame, err))
	}

	e.addCallbacks()
	e.startRender(ctx, frame)
	return nil
}

// initSink constructs the render scene for frame. Until it succeeds every
// batch frame retries it.
func (e *Engine) initSink(ctx context.Context, frame float64) error {
	cfg := e.session.Config
	err := e.session.Sink.Init(ctx, sink.Frame{
		Number: frame,
		Camera: cfg.Camera,
		Width:  cfg.Width,
		Height: cfg.Height,
	})
	if err != nil {
		return frameError(ErrCodeInit, frame, fmt.Errorf("init render sink: %w", err))
	}
	e.initPending = false
	if !e.region.Empty() {
		if err := e.session.Sink.SetCropWindow(e.region); err != nil {
			e.logger.Warn("crop window rejected, rendering the full image", "region", e.region, "error", err)
		}
	}
	return nil
}

// frameFailed skips the frame, or ends the session when err is fatal.
func (e *Engine) frameFailed(ctx context.Context, frame float64, err error) error {
	if IsSessionFatal(err) {
		e.stopping = true
		e.handleRenderDone(ctx, err)
		return nil
	}

	framesTotal.WithLabelValues("skipped").Inc()
	e.recordFrame(ctx, frame, "skipped", err)
	e.logger.Error("frame skipped", "frame", frame, "error", err)

	if e.pipe.mode == ModeBatch {
		e.enqueue(Event{Type: EventFrameRender})
		return nil
	}
	// Interactive: wait for edits that may fix the scene.
	e.addCallbacks()
	return nil
}

func (e *Engine) addCallbacks() {
	if e.pipe.mode == ModeInteractive && !e.callbacks {
		e.enqueue(Event{Type: EventAddCallbacks})
	}
}

// startRender spawns the render goroutine for frame.
func (e *Engine) startRender(ctx context.Context, frame float64) {
	e.ctrl.Reset()
	e.gen++
	gen := e.gen
	done := make(chan struct{})
	e.rendering = done
	e.renderStart = time.Now()
	e.setState(ctx, StateRendering)

	cb := sink.TileCallbacks{
		PreTile: func(r sink.Rect) {
			e.enqueue(Event{Type: EventPreTile, Region: r})
		},
		UpdateTile: func(r sink.Rect, pixels []float32) {
			e.enqueue(Event{Type: EventUpdateUI, Region: r, Pixels: pixels})
		},
	}
	s, ctrl := e.session.Sink, e.ctrl
	go func() {
		err := s.Render(ctx, ctrl, cb)
		close(done)
		e.enqueue(Event{Type: EventFrameDone, Frame: frame, Err: err, gen: gen})
	}()
}

// join waits for the render goroutine to return.
func (e *Engine) join() {
	if e.rendering == nil {
		return
	}
	<-e.rendering
	e.rendering = nil
	renderDuration.Observe(time.Since(e.renderStart).Seconds())
}

// abortRender aborts and joins the running render. Its FrameDone event is
// superseded.
func (e *Engine) abortRender() {
	if e.rendering == nil {
		return
	}
	e.ctrl.Abort()
	e.join()
	e.gen++
}

func (e *Engine) handleFrameDone(ctx context.Context, ev Event) error {
	if e.pipe == nil || ev.gen != e.gen {
		return nil
	}
	e.join()

	if ev.Err != nil {
		return e.frameFailed(ctx, ev.Frame, frameError(ErrCodeRender, ev.Frame, ev.Err))
	}

	if e.ctrl.Aborted() {
		framesTotal.WithLabelValues("aborted").Inc()
		e.recordFrame(ctx, ev.Frame, "aborted", nil)
		e.logger.Info("render aborted", "frame", ev.Frame)
	} else {
		if err := e.hooks.PostFrame(ctx, ev.Frame); err != nil {
			return e.frameFailed(ctx, ev.Frame, frameError(ErrCodeHook, ev.Frame, err))
		}
		framesTotal.WithLabelValues("rendered").Inc()
		e.recordFrame(ctx, ev.Frame, "rendered", nil)
		e.logger.Info("frame rendered", "frame", ev.Frame, "steps", e.steps)
	}

	if e.pipe.mode == ModeBatch {
		e.enqueue(Event{Type: EventFrameRender})
	}
	return nil
}

func (e *Engine) handleRenderDone(ctx context.Context, err error) {
	if e.active == nil {
		return
	}
	e.abortRender()
	state := StateDone
	if err != nil || e.stopping {
		state = StateStopped
	}
	e.finish(ctx, err, state)
}

// finish tears the session down, releases the sink and completes the job.
func (e *Engine) finish(ctx context.Context, err error, state State) {
	var over <-chan struct{}
	if e.pipe != nil {
		over = e.pipe.stop()
		e.pipe = nil
	}
	if rerr := e.session.Sink.Release(); rerr != nil {
		e.logger.Warn("sink release failed", "error", rerr)
	}
	e.setState(ctx, state)

	if err != nil {
		e.logger.Error("render session failed", "state", state, "error", err)
	} else {
		e.logger.Info("render session finished", "state", state)
	}

	sessionOver := e.over
	if over == nil {
		close(sessionOver)
	} else {
		go func() {
			<-over
			close(sessionOver)
		}()
	}

	if e.active != nil {
		e.active.finish(err)
		e.active = nil
	}
	e.frames = nil
	e.next = 0
	e.stopping = false
	e.initPending = false
	e.paused.Store(false)
}

func (e *Engine) handleInterrupt() {
	if e.pipe == nil {
		return
	}
	e.ctrl.Abort()
	if e.pipe.mode == ModeBatch {
		e.stopping = true
	}
	e.logger.Info("render interrupted", "frame", e.frame, "mode", e.pipe.mode)
}

func (e *Engine) handleStopIPR(ctx context.Context) {
	if e.pipe == nil || e.pipe.mode != ModeInteractive {
		return
	}
	e.stopping = true
	e.handleRenderDone(ctx, nil)
}

func (e *Engine) handleAddCallbacks(ctx context.Context) {
	if e.pipe == nil || e.pipe.tracker == nil || e.callbacks {
		return
	}
	e.callbacks = true
	e.pipe.startTracking(ctx, func(ev Event) { e.enqueue(ev) })
	e.pipe.tracker.Rearm()
	e.logger.Debug("IPR callbacks installed", "subscriptions", e.pipe.tracker.Armed())
}

func (e *Engine) handleIPRUpdate(ctx context.Context) error {
	if e.pipe == nil || e.pipe.tracker == nil {
		return nil
	}
	b, ok := e.pipe.tracker.Take()
	if !ok {
		return nil
	}

	e.abortRender()
	e.setState(ctx, StateUpdating)
	err := e.applyBatch(ctx, b)
	e.pipe.tracker.Rearm()
	iprUpdatesTotal.Inc()
	if err != nil {
		if IsSessionFatal(err) {
			e.stopping = true
			e.handleRenderDone(ctx, err)
			return nil
		}
		e.logger.Error("IPR update incomplete", "frame", e.frame, "error", err)
	}

	e.startRender(ctx, e.frame)
	return nil
}

func (e *Engine) handleUpdateRegion(ctx context.Context, r sink.Rect) error {
	e.region = r
	if e.pipe == nil || e.pipe.mode != ModeInteractive || e.next == 0 {
		return nil
	}
	e.abortRender()
	if err := e.session.Sink.SetCropWindow(r); err != nil {
		return fmt.Errorf("set crop window %s: %w", r, err)
	}
	e.logger.Info("IPR region updated", "region", r)
	e.startRender(ctx, e.frame)
	return nil
}

func (e *Engine) setState(ctx context.Context, s State) {
	if State(e.state.Swap(int32(s))) == s {
		return
	}
	if st := e.session.store; st != nil {
		if err := st.RecordState(ctx, e.session.ID, s.Query()); err != nil {
			e.logger.Warn("ledger write failed", "op", "record_state", "error", err)
		}
	}
}

func (e *Engine) recordFrame(ctx context.Context, frame float64, status string, err error) {
	st := e.session.store
	if st == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if werr := st.RecordFrame(ctx, e.session.ID, frame, status, e.steps, msg); werr != nil {
		e.logger.Warn("ledger write failed", "op", "record_frame", "frame", frame, "error", werr)
	}
}

// logEventError logs a failed event with enough context to reproduce it.
func logEventError(logger *slog.Logger, ev Event, err error) {
	logger.Error("event processing failed",
		"type", ev.Type,
		"seq", ev.Seq,
		"frame", ev.Frame,
		"error", err,
	)
}

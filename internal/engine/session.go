package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/scenebridge/internal/assembly"
	"github.com/roach88/scenebridge/internal/config"
	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/ipr"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/sink"
	"github.com/roach88/scenebridge/internal/store"
	"github.com/roach88/scenebridge/internal/walker"
)

// Mode is the render type of a session.
type Mode int

const (
	// ModeBatch renders every configured frame once.
	ModeBatch Mode = iota
	// ModeInteractive renders the first frame and keeps it in sync with
	// host edits until stopped.
	ModeInteractive
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeInteractive {
		return "interactive"
	}
	return "batch"
}

// Session is the explicit context of one render: its globals and the two
// external collaborators. Nothing in the engine is process-global.
type Session struct {
	ID     string
	Scene  string
	Config config.Config
	Host   host.LiveScene
	Sink   sink.Sink

	store  *store.Store
	logger *slog.Logger
}

// SessionOption configures NewSession.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	scene  string
	store  *store.Store
	ids    SessionIDGenerator
	logger *slog.Logger
}

// WithSceneName records the scene document the session renders.
func WithSceneName(name string) SessionOption {
	return func(o *sessionOptions) {
		o.scene = name
	}
}

// WithStore records the session, its frames and every sink mutation in st.
func WithStore(st *store.Store) SessionOption {
	return func(o *sessionOptions) {
		o.store = st
	}
}

// WithSessionIDs sets the session id generator. Default: UUIDv7Generator.
func WithSessionIDs(g SessionIDGenerator) SessionOption {
	return func(o *sessionOptions) {
		o.ids = g
	}
}

// WithSessionLogger sets the logger shared by every session component.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(o *sessionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewSession validates cfg and creates a session rendering h into s.
// With a store, s is wrapped so every mutation lands in the ledger.
func NewSession(cfg config.Config, h host.LiveScene, s sink.Sink, opts ...SessionOption) (*Session, error) {
	o := sessionOptions{ids: UUIDv7Generator{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid render globals: %w", err)
	}
	if h == nil || s == nil {
		return nil, fmt.Errorf("session needs a live scene and a sink")
	}

	id := o.ids.Generate()
	logger := o.logger.With("session", id)
	if o.store != nil {
		s = sink.Record(s, o.store.Ledger(id), logger)
	}
	return &Session{
		ID:     id,
		Scene:  o.scene,
		Config: cfg,
		Host:   h,
		Sink:   s,
		store:  o.store,
		logger: logger,
	}, nil
}

// pipeline is the translation state of one started render. It is created
// by InitRender and torn down by RenderDone.
type pipeline struct {
	mode     Mode
	arena    *scene.Arena
	walker   *walker.Walker
	expander *walker.Expander
	mapper   *assembly.Mapper
	tracker  *ipr.Tracker

	// samples and moves are the motion steps of the last translated frame;
	// IPR batches sample changed objects at the same times.
	samples []scene.MotionStep
	moves   []bool

	detach func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Session) newPipeline(mode Mode) *pipeline {
	cfg := s.Config
	p := &pipeline{mode: mode, arena: scene.NewArena()}
	interactive := mode == ModeInteractive

	wopts := []walker.Option{
		walker.WithLogger(s.logger),
		walker.WithSkipPatterns(cfg.SkipPatterns...),
		walker.WithInteractive(interactive),
	}
	if interactive {
		p.tracker = ipr.NewTracker(s.Host, p.arena,
			ipr.WithLogger(s.logger),
			ipr.WithIdle(cfg.Interactive.Idle()),
			ipr.WithDrainPoll(cfg.Interactive.DrainPoll()),
			ipr.WithDrainTimeout(cfg.Interactive.DrainTimeout()),
		)
		wopts = append(wopts, walker.WithRegistrar(p.tracker))
	}
	p.walker = walker.New(s.Host, p.arena, wopts...)
	p.expander = walker.NewExpander(s.Host, p.arena,
		walker.WithExpanderLogger(s.logger),
		walker.WithRelativeToTemplate(cfg.RelativeToTemplate),
	)
	p.mapper = assembly.NewMapper(s.Sink, p.arena,
		assembly.WithLogger(s.logger),
		assembly.WithInteractive(interactive),
	)
	return p
}

// startTracking attaches the tracker to the host and runs its resolver.
// Ready batches are forwarded to the loop as EventIPRUpdate.
func (p *pipeline) startTracking(ctx context.Context, enqueue func(Event)) {
	if p.tracker == nil || p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.detach = p.tracker.Attach()
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		_ = p.tracker.Run(ctx)
	}()
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.tracker.Ready():
				enqueue(Event{Type: EventIPRUpdate})
			}
		}
	}()
}

// stop cancels tracking and returns a channel closed once the tracker
// goroutines have exited.
func (p *pipeline) stop() <-chan struct{} {
	if p.cancel != nil {
		p.cancel()
	}
	if p.detach != nil {
		p.detach()
	}
	if p.tracker != nil {
		p.tracker.Disarm()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	return done
}

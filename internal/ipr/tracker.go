// Package ipr tracks host-side changes during an interactive session.
//
// The Tracker subscribes to one-shot change notifications for every walked
// node, collects them into a pending set, and after an idle period resolves
// the set into a batch of dirty leaves for the orchestrator. At most one
// batch is in flight: a new batch is only produced once the previous one
// has been taken.
//
// State machine:
//
//	Idle ──notification──▶ Accumulating ──idle timer──▶ Resolving
//	  ▲                                                    │
//	  └──────── Take ◀── AwaitingConsumption ◀─────────────┘
//
// Host callbacks only push into the pending set; they never touch the
// render-scene sink.
package ipr

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/scene"
)

// Defaults for the tracker timings.
const (
	DefaultIdle         = 100 * time.Millisecond
	DefaultDrainPoll    = 10 * time.Millisecond
	DefaultDrainTimeout = 5 * time.Second
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenebridge_ipr_notifications_total",
		Help: "Host notifications received by the IPR tracker",
	}, []string{"kind"})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenebridge_ipr_batches_total",
		Help: "Dirty-leaf batches produced by the IPR tracker",
	})

	batchLeaves = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenebridge_ipr_batch_leaves",
		Help:    "Number of dirty leaves per IPR batch",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 500},
	})

	drainTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenebridge_ipr_drain_timeouts_total",
		Help: "Resolutions postponed because the previous batch was not consumed in time",
	})
)

// State is the tracker state.
type State int32

// Tracker states.
const (
	StateIdle State = iota
	StateAccumulating
	StateResolving
	StateAwaitingConsumption
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAccumulating:
		return "Accumulating"
	case StateResolving:
		return "Resolving"
	case StateAwaitingConsumption:
		return "AwaitingConsumption"
	}
	return "Unknown"
}

// Added is a node the host inserted. The orchestrator re-walks the subtree
// rooted at ID.
type Added struct {
	ID     scene.NodeID `json:"id"`
	Parent scene.NodeID `json:"parent"`
}

// Batch is one resolved set of changes.
type Batch struct {
	// Leaves are the dirty leaves, sorted by identity.
	Leaves []scene.PendingChange `json:"leaves"`
	// Added are new subtrees, in notification order.
	Added []Added `json:"added,omitempty"`
}

// Empty reports whether the batch carries no work.
func (b Batch) Empty() bool {
	return len(b.Leaves) == 0 && len(b.Added) == 0
}

type note struct {
	changed bool
	removed bool
}

// Tracker aggregates host notifications into batches of dirty leaves.
type Tracker struct {
	host   host.LiveScene
	arena  *scene.Arena
	logger *slog.Logger

	idle         time.Duration
	drainPoll    time.Duration
	drainTimeout time.Duration

	mu         sync.Mutex
	state      State
	paused     bool
	pending    map[scene.NodeID]*note
	order      []scene.NodeID
	added      []Added
	subs       map[scene.NodeID]host.Subscription
	registered map[scene.NodeID]bool
	batch      *Batch

	signal  chan struct{}
	ready   chan struct{}
	drained chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithIdle sets how long notifications must stay quiet before the pending
// set is resolved.
func WithIdle(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.idle = d
		}
	}
}

// WithDrainPoll sets the interval at which the resolver re-checks an
// unconsumed batch.
func WithDrainPoll(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.drainPoll = d
		}
	}
}

// WithDrainTimeout bounds how long the resolver waits for the previous
// batch to be taken before postponing.
func WithDrainTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.drainTimeout = d
		}
	}
}

// NewTracker creates a tracker for h whose objects live in arena.
func NewTracker(h host.LiveScene, arena *scene.Arena, opts ...Option) *Tracker {
	t := &Tracker{
		host:         h,
		arena:        arena,
		logger:       slog.Default(),
		idle:         DefaultIdle,
		drainPoll:    DefaultDrainPoll,
		drainTimeout: DefaultDrainTimeout,
		pending:      make(map[scene.NodeID]*note),
		subs:         make(map[scene.NodeID]host.Subscription),
		registered:   make(map[scene.NodeID]bool),
		signal:       make(chan struct{}, 1),
		ready:        make(chan struct{}, 1),
		drained:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ready receives a value whenever a batch becomes available.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Register arms a one-shot change subscription for id unless one is
// already armed. It implements walker.Registrar.
func (t *Tracker) Register(id scene.NodeID) {
	t.mu.Lock()
	if _, ok := t.subs[id]; ok {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	sub, err := t.host.RegisterChangeNotification(id, t)
	if err != nil {
		t.logger.Warn("cannot register change notification", "path", id, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[id]; ok {
		// Lost a race with a concurrent Register of the same node.
		t.host.CancelNotification(sub)
		return
	}
	t.subs[id] = sub
	t.registered[id] = true
}

// Rearm re-registers subscriptions for every live, non-virtual object in
// the arena. Acting on a change consumes its subscription, so the
// orchestrator calls Rearm after applying each batch. It returns the number
// of subscriptions armed.
func (t *Tracker) Rearm() int {
	n := 0
	for _, o := range t.arena.Snapshot() {
		if o.Removed || o.Virtual {
			continue
		}
		t.mu.Lock()
		_, armed := t.subs[o.ID]
		t.mu.Unlock()
		if armed {
			continue
		}
		t.Register(o.ID)
		n++
	}
	return n
}

// Disarm cancels every armed subscription.
func (t *Tracker) Disarm() {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[scene.NodeID]host.Subscription)
	t.registered = make(map[scene.NodeID]bool)
	t.mu.Unlock()

	for _, sub := range subs {
		t.host.CancelNotification(sub)
	}
}

// Armed returns the number of armed subscriptions.
func (t *Tracker) Armed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Pause suspends or resumes resolution. Notifications keep accumulating
// while paused.
func (t *Tracker) Pause(paused bool) {
	t.mu.Lock()
	t.paused = paused
	resume := !paused && (len(t.pending) > 0 || len(t.added) > 0)
	t.mu.Unlock()
	if resume {
		t.notify()
	}
}

// NodeChanged implements host.Listener.
func (t *Tracker) NodeChanged(id scene.NodeID) {
	notificationsTotal.WithLabelValues("changed").Inc()
	t.mu.Lock()
	delete(t.subs, id)
	t.noteLocked(id).changed = true
	t.mu.Unlock()
	t.notify()
}

// NodeRemoved implements host.Listener.
func (t *Tracker) NodeRemoved(id scene.NodeID) {
	notificationsTotal.WithLabelValues("removed").Inc()
	t.mu.Lock()
	delete(t.subs, id)
	delete(t.registered, id)
	t.noteLocked(id).removed = true
	t.mu.Unlock()
	t.notify()
}

// NodeAdded implements host.Listener.
func (t *Tracker) NodeAdded(id, parent scene.NodeID) {
	notificationsTotal.WithLabelValues("added").Inc()
	t.mu.Lock()
	dup := false
	for _, a := range t.added {
		if a.ID == id {
			dup = true
			break
		}
	}
	if !dup {
		t.added = append(t.added, Added{ID: id, Parent: parent})
	}
	if t.state == StateIdle {
		t.state = StateAccumulating
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) noteLocked(id scene.NodeID) *note {
	n, ok := t.pending[id]
	if !ok {
		n = &note{}
		t.pending[id] = n
		t.order = append(t.order, id)
	}
	if t.state == StateIdle {
		t.state = StateAccumulating
	}
	return n
}

func (t *Tracker) notify() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Take consumes the batch awaiting consumption, if any.
func (t *Tracker) Take() (Batch, bool) {
	t.mu.Lock()
	b := t.batch
	t.batch = nil
	if b != nil {
		if len(t.pending) > 0 || len(t.added) > 0 {
			t.state = StateAccumulating
		} else {
			t.state = StateIdle
		}
	}
	t.mu.Unlock()

	if b == nil {
		return Batch{}, false
	}
	select {
	case t.drained <- struct{}{}:
	default:
	}
	return *b, true
}

// Attach installs the tracker as the host's structural listener so node
// additions and removals reach the pending set. The returned function
// detaches it.
func (t *Tracker) Attach() (detach func()) {
	return t.host.WatchStructure(t)
}

// Run resolves pending notifications until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.signal:
		}
		if !t.settle(ctx) {
			return ctx.Err()
		}
		t.resolve(ctx)
	}
}

// settle waits until no notification arrived for the idle period.
func (t *Tracker) settle(ctx context.Context) bool {
	timer := time.NewTimer(t.idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.signal:
			timer.Reset(t.idle)
		case <-timer.C:
			return true
		}
	}
}

// waitDrained blocks until no batch is awaiting consumption, or the drain
// timeout passes.
func (t *Tracker) waitDrained(ctx context.Context) bool {
	deadline := time.NewTimer(t.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.drainPoll)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		inFlight := t.batch != nil
		t.mu.Unlock()
		if !inFlight {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-t.drained:
		case <-ticker.C:
		}
	}
}

func (t *Tracker) resolve(ctx context.Context) {
	if !t.waitDrained(ctx) {
		if ctx.Err() == nil {
			drainTimeouts.Inc()
			t.logger.Warn("previous IPR batch not consumed, postponing resolution", "timeout", t.drainTimeout)
			t.notify()
		}
		return
	}

	t.mu.Lock()
	if t.paused || (len(t.pending) == 0 && len(t.added) == 0) {
		t.mu.Unlock()
		return
	}
	pending, order, added := t.pending, t.order, t.added
	t.pending = make(map[scene.NodeID]*note)
	t.order = nil
	t.added = nil
	t.state = StateResolving
	tracked := make(map[scene.NodeID]bool, len(t.registered))
	for id := range t.registered {
		tracked[id] = true
	}
	t.mu.Unlock()

	_, span := otel.Tracer("scenebridge/ipr").Start(ctx, "ipr.Tracker.resolve",
		trace.WithAttributes(
			attribute.Int("pending", len(order)),
			attribute.Int("added", len(added)),
		),
	)
	leaves := t.resolveLeaves(pending, order, tracked)
	span.SetAttributes(attribute.Int("leaves", len(leaves)))
	span.End()

	b := &Batch{Leaves: leaves, Added: added}
	t.mu.Lock()
	t.batch = b
	t.state = StateAwaitingConsumption
	t.mu.Unlock()

	batchesTotal.Inc()
	batchLeaves.Observe(float64(len(leaves)))
	t.logger.Debug("IPR batch resolved", "notifications", len(order), "leaves", len(leaves), "added", len(added))

	select {
	case t.ready <- struct{}{}:
	default:
	}
}

// resolveLeaves turns pending notes into dirty leaves. A removal wins over
// a change. A changed transform resolves to the shapes below it, stopping
// at nested transforms that are tracked themselves; a transform without
// such shapes is its own leaf.
func (t *Tracker) resolveLeaves(pending map[scene.NodeID]*note, order []scene.NodeID, tracked map[scene.NodeID]bool) []scene.PendingChange {
	leaves := make(map[scene.NodeID]scene.PendingChange)
	add := func(c scene.PendingChange) {
		prev, ok := leaves[c.ID]
		if ok {
			c.FromTransform = c.FromTransform || prev.FromTransform
			c.Removed = c.Removed || prev.Removed
		}
		leaves[c.ID] = c
	}

	for _, id := range order {
		n := pending[id]
		if n.removed {
			t.arena.Modify(id, func(o *scene.LiveObject) {
				o.Removed = true
			})
			add(scene.PendingChange{ID: id, Removed: true})
			continue
		}
		obj, ok := t.arena.Get(id)
		if !ok || obj.Removed {
			t.logger.Debug("change on unknown node ignored", "path", id)
			continue
		}
		if obj.Kind != scene.KindTransform {
			add(scene.PendingChange{ID: id})
			continue
		}
		shapes := t.shapesBelow(id, tracked)
		if len(shapes) == 0 {
			add(scene.PendingChange{ID: id, FromTransform: true})
			continue
		}
		for _, s := range shapes {
			add(scene.PendingChange{ID: s, FromTransform: true})
		}
	}

	out := make([]scene.PendingChange, 0, len(leaves))
	for _, c := range leaves {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) shapesBelow(id scene.NodeID, tracked map[scene.NodeID]bool) []scene.NodeID {
	var out []scene.NodeID
	for _, child := range t.arena.ChildrenOf(id) {
		if child.Virtual {
			continue
		}
		if child.Kind.IsShape() {
			out = append(out, child.ID)
			continue
		}
		if tracked[child.ID] {
			continue
		}
		out = append(out, t.shapesBelow(child.ID, tracked)...)
	}
	return out
}

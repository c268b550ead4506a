// Package assembly maps LiveObjects onto render-scene assemblies and
// instances.
//
// The Mapper decides which objects own a reusable assembly and which are
// folded into the assembly of their nearest owning ancestor, then performs
// lookup-or-create calls against the sink. Names are derived from node
// identities only, so rebinding an unchanged object never creates anything.
//
// A Mapper is single-writer: it must only be called from the orchestration
// goroutine, which is also the only goroutine touching the sink.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/sink"
)

var (
	// ErrUnknownObject is returned when binding an identity the arena does
	// not hold.
	ErrUnknownObject = errors.New("assembly: unknown object")

	// ErrRemoved is returned when binding a tombstoned object. Removed
	// objects are retired, never bound.
	ErrRemoved = errors.New("assembly: object removed")
)

var (
	assembliesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenebridge_assemblies_created_total",
		Help: "Total number of assemblies created in the render-scene sink",
	})

	instancesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenebridge_instances_created_total",
		Help: "Total number of assembly instances created in the render-scene sink",
	}, []string{"kind"})

	bindFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenebridge_bind_failures_total",
		Help: "Number of objects whose binding failed and was rolled back",
	})
)

// Binding maps one LiveObject to the render-scene entities representing it.
type Binding struct {
	Object scene.NodeID `json:"object"`

	// Owner is the object whose instance places Assembly. For objects
	// folded into an ancestor it is that ancestor.
	Owner scene.NodeID `json:"owner"`

	Assembly  string `json:"assembly"`
	Instance  string `json:"instance,omitempty"`
	Container string `json:"container,omitempty"`

	// Placement is the object name placed in Assembly (meshes and lights).
	Placement string `json:"placement,omitempty"`

	// Shared is set when Assembly belongs to another object: the original
	// of a DAG instance or the template of a particle.
	Shared bool `json:"shared,omitempty"`
}

// Mapper binds LiveObjects to sink entities.
type Mapper struct {
	sink        sink.Sink
	arena       *scene.Arena
	logger      *slog.Logger
	interactive bool

	bindings map[scene.NodeID]Binding
	// parents records the container of every assembly this mapper created
	// or reused, so retiring an assembly can drop nested bindings.
	parents map[string]string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		m.logger = l
	}
}

// WithInteractive enables the interactive policy under which every
// transform owns an assembly.
func WithInteractive(on bool) Option {
	return func(m *Mapper) {
		m.interactive = on
	}
}

// NewMapper creates a mapper populating s from the objects in arena.
func NewMapper(s sink.Sink, arena *scene.Arena, opts ...Option) *Mapper {
	m := &Mapper{
		sink:     s,
		arena:    arena,
		logger:   slog.Default(),
		bindings: make(map[scene.NodeID]Binding),
		parents:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NeedsOwnAssembly reports whether obj owns a reusable assembly. The first
// matching rule wins.
//
// In interactive mode every transform owns an assembly. A transform edit
// then only has to update that transform's instance, at the cost of one
// assembly per transform in the scene.
func (m *Mapper) NeedsOwnAssembly(obj *scene.LiveObject) bool {
	switch {
	case m.interactive && obj.Kind == scene.KindTransform:
		return true
	case obj.ID.IsRoot():
		return true
	case obj.InstanceNumber > 0:
		return false
	case obj.InstancerConnected || obj.IsInstanced():
		return true
	case obj.Animated:
		return true
	case obj.LightTransform:
		return true
	}
	return false
}

// Bind maps the object id to its assembly, creating whatever the sink is
// missing. Binding an unchanged object again creates nothing and returns an
// equal Binding. On failure every entity created by this call is removed
// again and no binding is recorded.
func (m *Mapper) Bind(ctx context.Context, id scene.NodeID) (Binding, error) {
	if err := ctx.Err(); err != nil {
		return Binding{}, err
	}
	obj, ok := m.arena.Get(id)
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if obj.Removed {
		return Binding{}, fmt.Errorf("%w: %s", ErrRemoved, id)
	}

	tx := &txn{mapper: m}
	var (
		b   Binding
		err error
	)
	if obj.Virtual && obj.InstanceNumber > 0 {
		b, err = m.bindParticle(tx, obj)
	} else {
		b, err = m.bindObject(tx, obj)
	}
	if err != nil {
		tx.rollback()
		bindFailures.Inc()
		return Binding{}, fmt.Errorf("bind %s: %w", id, err)
	}

	m.arena.Modify(id, func(o *scene.LiveObject) {
		o.AssemblyParent = b.Owner
	})
	m.bindings[id] = b
	return b, nil
}

func (m *Mapper) bindObject(tx *txn, obj *scene.LiveObject) (Binding, error) {
	owner := m.ownerOf(obj)
	ent, err := m.ensure(tx, owner)
	if err != nil {
		return Binding{}, err
	}
	b := Binding{
		Object:    obj.ID,
		Owner:     owner.ID,
		Assembly:  ent.assembly,
		Instance:  ent.instance,
		Container: ent.container,
		Shared:    ent.shared,
	}

	prev, hadPrev := m.bindings[obj.ID]
	// A shared assembly already holds the original's object; placing the
	// instance's object too would render the geometry twice.
	if placeable(obj.Kind) && !b.Shared {
		name := scene.ObjectName(obj.ID)
		if obj.Visible {
			if err := m.sink.PlaceObject(b.Assembly, name); err != nil {
				return Binding{}, fmt.Errorf("place %s in %s: %w", name, b.Assembly, err)
			}
			b.Placement = name
		}
	}
	// A placement that moved or was hidden leaves the old assembly.
	if hadPrev && prev.Placement != "" && (prev.Placement != b.Placement || prev.Assembly != b.Assembly) {
		if err := m.sink.RemoveObject(prev.Assembly, prev.Placement); err != nil && !errors.Is(err, sink.ErrNotFound) {
			return Binding{}, fmt.Errorf("remove %s from %s: %w", prev.Placement, prev.Assembly, err)
		}
	}
	return b, nil
}

// bindParticle places the template's assembly once per particle, directly
// in the world assembly, with the particle's own transform samples.
func (m *Mapper) bindParticle(tx *txn, obj *scene.LiveObject) (Binding, error) {
	tmpl, ok := m.arena.Get(obj.Original)
	if !ok || tmpl.Removed {
		return Binding{}, fmt.Errorf("%w: particle template %s", ErrUnknownObject, obj.Original)
	}
	owner := m.ownerOf(tmpl)
	ent, err := m.ensure(tx, owner)
	if err != nil {
		return Binding{}, err
	}
	inst := scene.ParticleInstanceName(ent.assembly, obj.InstanceNumber, obj.Parent)
	if err := m.placeInstance(tx, inst, ent.assembly, scene.WorldAssembly, transformsOf(obj), "particle"); err != nil {
		return Binding{}, err
	}
	return Binding{
		Object:    obj.ID,
		Owner:     obj.ID,
		Assembly:  ent.assembly,
		Instance:  inst,
		Container: scene.WorldAssembly,
		Shared:    true,
	}, nil
}

type entities struct {
	assembly  string
	instance  string
	container string
	shared    bool
}

// ensure makes sure owner's assembly and the instance placing it exist,
// ensuring the containing owners first.
func (m *Mapper) ensure(tx *txn, owner *scene.LiveObject) (entities, error) {
	if owner.ID.IsRoot() {
		if err := m.createAssembly(tx, scene.WorldAssembly, ""); err != nil {
			return entities{}, err
		}
		return entities{assembly: scene.WorldAssembly}, nil
	}

	parentOwner := m.containerOwner(owner)
	container, err := m.ensure(tx, parentOwner)
	if err != nil {
		return entities{}, err
	}

	ent := entities{container: container.assembly}
	if owner.InstanceIndex > 0 && owner.Original != "" {
		orig, ok := m.arena.Get(owner.Original)
		if !ok || orig.Removed {
			return entities{}, fmt.Errorf("%w: instance original %s", ErrUnknownObject, owner.Original)
		}
		shared, err := m.ensure(tx, m.ownerOf(orig))
		if err != nil {
			return entities{}, err
		}
		ent.assembly = shared.assembly
		ent.shared = true
	} else {
		ent.assembly = scene.AssemblyName(owner.ID)
		if err := m.createAssembly(tx, ent.assembly, ent.container); err != nil {
			return entities{}, err
		}
	}

	ent.instance = scene.InstanceName(ent.assembly, owner.InstanceIndex, 0)
	kind := "assembly"
	if ent.shared {
		kind = "dag"
	}
	if err := m.placeInstance(tx, ent.instance, ent.assembly, ent.container, relativeTransforms(owner, parentOwner), kind); err != nil {
		return entities{}, err
	}
	return ent, nil
}

func (m *Mapper) createAssembly(tx *txn, name, parent string) error {
	_, created, err := m.sink.CreateOrGetAssembly(name, parent)
	if err != nil {
		return fmt.Errorf("assembly %s: %w", name, err)
	}
	m.parents[name] = parent
	if created {
		assembliesCreated.Inc()
		tx.assemblies = append(tx.assemblies, name)
		m.logger.Debug("assembly created", "assembly", name, "parent", parent)
	}
	return nil
}

// placeInstance creates the instance or, when it exists with different
// transform samples, updates it.
func (m *Mapper) placeInstance(tx *txn, name, assembly, container string, xfs []mgl64.Mat4, kind string) error {
	ref, created, err := m.sink.CreateOrGetInstance(name, assembly, container, xfs)
	if err != nil {
		return fmt.Errorf("instance %s: %w", name, err)
	}
	if created {
		instancesCreated.WithLabelValues(kind).Inc()
		tx.instances = append(tx.instances, name)
		return nil
	}
	if sameTransforms(ref.Transforms, xfs) {
		return nil
	}
	if err := m.sink.UpdateInstance(name, xfs); err != nil {
		return fmt.Errorf("update instance %s: %w", name, err)
	}
	return nil
}

// ownerOf returns the nearest object, starting at obj itself, that owns an
// assembly. A missing ancestor resolves to the scene root.
func (m *Mapper) ownerOf(obj *scene.LiveObject) *scene.LiveObject {
	for cur := obj; ; {
		if m.NeedsOwnAssembly(cur) {
			return cur
		}
		next := m.lookup(cur.Parent)
		if next == nil {
			return rootObject()
		}
		cur = next
	}
}

// containerOwner returns the owner of the assembly an owner's instance is
// placed in.
func (m *Mapper) containerOwner(owner *scene.LiveObject) *scene.LiveObject {
	parent := m.lookup(owner.Parent)
	if parent == nil {
		return rootObject()
	}
	return m.ownerOf(parent)
}

func (m *Mapper) lookup(id scene.NodeID) *scene.LiveObject {
	if id == "" {
		return nil
	}
	o, ok := m.arena.Get(id)
	if !ok {
		return nil
	}
	return o
}

func rootObject() *scene.LiveObject {
	return &scene.LiveObject{
		ID:          scene.RootID,
		Kind:        scene.KindTransform,
		ParentCount: 1,
		Visible:     true,
		Transforms:  []mgl64.Mat4{mgl64.Ident4()},
	}
}

// Retire removes the render-scene entities of id. Entities already removed
// by an earlier cascade are ignored.
func (m *Mapper) Retire(ctx context.Context, id scene.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, ok := m.bindings[id]
	if !ok {
		return nil
	}
	delete(m.bindings, id)

	var err error
	switch {
	case b.Owner == id && b.Shared:
		err = m.sink.RemoveInstance(b.Instance)
	case b.Owner == id:
		err = m.sink.RemoveAssembly(b.Assembly)
		m.dropAssembly(b.Assembly)
	case b.Placement != "" && !b.Shared:
		err = m.sink.RemoveObject(b.Assembly, b.Placement)
	}
	if err != nil && !errors.Is(err, sink.ErrNotFound) {
		return fmt.Errorf("retire %s: %w", id, err)
	}
	m.logger.Debug("object retired", "path", id, "assembly", b.Assembly, "instance", b.Instance)
	return nil
}

// dropAssembly forgets every binding living in name or in an assembly
// nested below it; the sink removed them together with name.
func (m *Mapper) dropAssembly(name string) {
	gone := map[string]bool{name: true}
	for changed := true; changed; {
		changed = false
		for asm, parent := range m.parents {
			if gone[parent] && !gone[asm] {
				gone[asm] = true
				changed = true
			}
		}
	}
	for asm := range gone {
		delete(m.parents, asm)
	}
	for id, b := range m.bindings {
		if gone[b.Assembly] || gone[b.Container] {
			delete(m.bindings, id)
		}
	}
}

// Binding returns the current binding of id.
func (m *Mapper) Binding(id scene.NodeID) (Binding, bool) {
	b, ok := m.bindings[id]
	return b, ok
}

// Bindings returns every binding, ordered by object identity.
func (m *Mapper) Bindings() []Binding {
	out := make([]Binding, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Object < out[j].Object })
	return out
}

// Reset forgets every binding. The sink is left untouched.
func (m *Mapper) Reset() {
	m.bindings = make(map[scene.NodeID]Binding)
	m.parents = make(map[string]string)
}

func placeable(k scene.Kind) bool {
	return k == scene.KindMesh || k == scene.KindLight
}

// txn tracks the entities created by one Bind call.
type txn struct {
	mapper     *Mapper
	assemblies []string
	instances  []string
}

func (t *txn) rollback() {
	s := t.mapper.sink
	for i := len(t.instances) - 1; i >= 0; i-- {
		if err := s.RemoveInstance(t.instances[i]); err != nil && !errors.Is(err, sink.ErrNotFound) {
			t.mapper.logger.Warn("rollback: cannot remove instance", "instance", t.instances[i], "error", err)
		}
	}
	for i := len(t.assemblies) - 1; i >= 0; i-- {
		name := t.assemblies[i]
		if err := s.RemoveAssembly(name); err != nil && !errors.Is(err, sink.ErrNotFound) {
			t.mapper.logger.Warn("rollback: cannot remove assembly", "assembly", name, "error", err)
		}
		delete(t.mapper.parents, name)
	}
}

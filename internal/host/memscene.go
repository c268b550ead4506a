package host

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/roach88/scenebridge/internal/scene"
)

// MemScene is an in-memory LiveScene.
//
// All state is guarded by one mutex. Listener callbacks run after the mutex
// is released, on the goroutine that performed the mutation.
type MemScene struct {
	mu    sync.RWMutex
	nodes map[scene.NodeID]*memNode
	time  float64

	nextSub Subscription
	subs    map[Subscription]subscription

	nextWatch  int
	structural map[int]Listener
}

type memNode struct {
	id       scene.NodeID
	kind     scene.Kind
	parent   scene.NodeID
	children []scene.NodeID

	translate, rotate, scale, velocity [3]float64
	visible                            bool
	broken                             bool
	attrs                              map[string]any
	particles                          []particle

	// instanceOf is the original of a DAG instance; instances lists the
	// DAG instances of an original in creation order.
	instanceOf scene.NodeID
	instances  []scene.NodeID

	// spec is the node's own description without children, kept for Apply.
	spec NodeSpec
}

type particle struct {
	translate, velocity [3]float64
	paths               []scene.NodeID
}

type subscription struct {
	id       scene.NodeID
	listener Listener
}

type noticeKind int

const (
	noticeChanged noticeKind = iota
	noticeAdded
	noticeRemoved
)

type notice struct {
	kind      noticeKind
	id        scene.NodeID
	parent    scene.NodeID
	listeners []Listener
}

// NewMemScene returns a scene holding only the root transform.
func NewMemScene() *MemScene {
	s := &MemScene{
		nodes:      make(map[scene.NodeID]*memNode),
		subs:       make(map[Subscription]subscription),
		structural: make(map[int]Listener),
	}
	s.nodes[scene.RootID] = &memNode{
		id:      scene.RootID,
		kind:    scene.KindTransform,
		scale:   [3]float64{1, 1, 1},
		visible: true,
	}
	return s
}

// NewMemSceneFromDocument builds a scene from doc without firing
// notifications.
func NewMemSceneFromDocument(doc *Document) (*MemScene, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	s := NewMemScene()
	for i := range doc.Nodes {
		if _, err := s.insert(scene.RootID, &doc.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Root implements LiveScene.
func (s *MemScene) Root() scene.NodeID {
	return scene.RootID
}

// Children implements LiveScene.
func (s *MemScene) Children(id scene.NodeID) ([]scene.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]scene.NodeID(nil), n.children...), nil
}

// Classify implements LiveScene.
func (s *MemScene) Classify(id scene.NodeID) (scene.Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return scene.KindUnknown, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n.broken {
		return scene.KindUnknown, fmt.Errorf("host: cannot resolve node %s", id)
	}
	return n.kind, nil
}

// WorldTransform implements LiveScene.
func (s *MemScene) WorldTransform(id scene.NodeID) (mgl64.Mat4, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worldLocked(id)
}

func (s *MemScene) worldLocked(id scene.NodeID) (mgl64.Mat4, error) {
	m := mgl64.Ident4()
	for cur := id; cur != "" && !cur.IsRoot(); {
		n, ok := s.nodes[cur]
		if !ok {
			return mgl64.Ident4(), fmt.Errorf("%w: %s", ErrNotFound, cur)
		}
		m = s.localLocked(n).Mul4(m)
		cur = n.parent
	}
	return m, nil
}

func (s *MemScene) localLocked(n *memNode) mgl64.Mat4 {
	t := n.translate
	for i := range t {
		t[i] += n.velocity[i] * s.time
	}
	return mgl64.Translate3D(t[0], t[1], t[2]).
		Mul4(mgl64.HomogRotate3DZ(mgl64.DegToRad(n.rotate[2]))).
		Mul4(mgl64.HomogRotate3DY(mgl64.DegToRad(n.rotate[1]))).
		Mul4(mgl64.HomogRotate3DX(mgl64.DegToRad(n.rotate[0]))).
		Mul4(mgl64.Scale3D(n.scale[0], n.scale[1], n.scale[2]))
}

// RegisterChangeNotification implements LiveScene. The subscription fires
// once and is then discarded.
func (s *MemScene) RegisterChangeNotification(id scene.NodeID, l Listener) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.nextSub++
	s.subs[s.nextSub] = subscription{id: id, listener: l}
	return s.nextSub, nil
}

// CancelNotification implements LiveScene.
func (s *MemScene) CancelNotification(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// SubscriptionCount returns the number of armed change subscriptions.
func (s *MemScene) SubscriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// WatchStructure implements LiveScene.
func (s *MemScene) WatchStructure(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWatch++
	key := s.nextWatch
	s.structural[key] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.structural, key)
	}
}

// MoveTimeCursor implements LiveScene.
func (s *MemScene) MoveTimeCursor(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.time = t
}

// TimeCursor implements LiveScene.
func (s *MemScene) TimeCursor() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.time
}

// QueryAttribute implements LiveScene.
func (s *MemScene) QueryAttribute(id scene.NodeID, name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if v, ok := s.attributeLocked(n, name); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, id, name)
}

func (s *MemScene) attributeLocked(n *memNode, name string) (any, bool) {
	switch name {
	case AttrVisibility:
		return n.visible, true
	case AttrInstanceIndex:
		if n.instanceOf == "" {
			return 0, true
		}
		orig := s.nodes[n.instanceOf]
		for i, inst := range orig.instances {
			if inst == n.id {
				return i + 1, true
			}
		}
		return 0, true
	case AttrParentCount:
		orig := n
		if n.instanceOf != "" {
			orig = s.nodes[n.instanceOf]
		}
		return 1 + len(orig.instances), true
	case AttrInstanceOriginal:
		if n.instanceOf == "" {
			return nil, false
		}
		return string(n.instanceOf), true
	case AttrAnimated:
		if v, ok := n.attrs[name]; ok {
			return v, true
		}
		return n.velocity != [3]float64{}, true
	case AttrInstancerConnected:
		if v, ok := n.attrs[name]; ok {
			return v, true
		}
		return s.isTemplateLocked(n.id), true
	}
	v, ok := n.attrs[name]
	return v, ok
}

func (s *MemScene) isTemplateLocked(id scene.NodeID) bool {
	for _, n := range s.nodes {
		for _, p := range n.particles {
			for _, path := range p.paths {
				if path == id {
					return true
				}
			}
		}
	}
	return false
}

// Instances implements LiveScene.
func (s *MemScene) Instances(id scene.NodeID) ([]ParticleInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n.kind != scene.KindInstancer {
		return nil, fmt.Errorf("host: %s is not an instancer", id)
	}
	out := make([]ParticleInstance, 0, len(n.particles))
	for i, p := range n.particles {
		t := p.translate
		for k := range t {
			t[k] += p.velocity[k] * s.time
		}
		out = append(out, ParticleInstance{
			Index:  i,
			Matrix: mgl64.Translate3D(t[0], t[1], t[2]),
			Paths:  append([]scene.NodeID(nil), p.paths...),
		})
	}
	return out, nil
}

// SetTranslate moves a node and notifies its subscribers.
func (s *MemScene) SetTranslate(id scene.NodeID, t [3]float64) error {
	return s.mutate(id, func(n *memNode) {
		n.translate = t
		n.spec.Translate = t[:]
	})
}

// SetVisible toggles a node's visibility and notifies its subscribers.
func (s *MemScene) SetVisible(id scene.NodeID, visible bool) error {
	return s.mutate(id, func(n *memNode) {
		n.visible = visible
		n.spec.Visible = &visible
	})
}

// SetAttribute sets a custom attribute and notifies the node's subscribers.
func (s *MemScene) SetAttribute(id scene.NodeID, name string, value any) error {
	return s.mutate(id, func(n *memNode) {
		if n.attrs == nil {
			n.attrs = make(map[string]any)
		}
		n.attrs[name] = value
		attrs := make(map[string]any, len(n.attrs))
		for k, v := range n.attrs {
			attrs[k] = v
		}
		n.spec.Attributes = attrs
	})
}

func (s *MemScene) mutate(id scene.NodeID, fn func(n *memNode)) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(n)
	notices := []notice{s.changedLocked(id)}
	s.mu.Unlock()
	dispatch(notices)
	return nil
}

// AddNode inserts spec (with its subtree) under parent and notifies the
// structural listeners.
func (s *MemScene) AddNode(parent scene.NodeID, spec NodeSpec) (scene.NodeID, error) {
	s.mu.Lock()
	id, err := s.insert(parent, &spec)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	notices := []notice{s.structuralLocked(noticeAdded, id, parent)}
	s.mu.Unlock()
	dispatch(notices)
	return id, nil
}

// RemoveNode deletes id and its subtree. Structural listeners hear about
// every removed node, descendants first.
func (s *MemScene) RemoveNode(id scene.NodeID) error {
	if id.IsRoot() {
		return fmt.Errorf("host: cannot remove the root")
	}
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	notices := s.removeLocked(id)
	s.mu.Unlock()
	dispatch(notices)
	return nil
}

// Apply diffs doc against the current scene and applies the difference:
// vanished nodes are removed, new nodes added and edited nodes updated, each
// with the matching notifications.
func (s *MemScene) Apply(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	type entry struct {
		parent scene.NodeID
		spec   *NodeSpec
	}
	want := make(map[scene.NodeID]entry)
	var order []scene.NodeID
	var collect func(parent scene.NodeID, specs []NodeSpec)
	collect = func(parent scene.NodeID, specs []NodeSpec) {
		for i := range specs {
			id := parent.Child(specs[i].Name)
			want[id] = entry{parent: parent, spec: &specs[i]}
			order = append(order, id)
			collect(id, specs[i].Children)
		}
	}
	collect(scene.RootID, doc.Nodes)

	s.mu.Lock()
	var notices []notice

	var gone []scene.NodeID
	for id, n := range s.nodes {
		if id.IsRoot() {
			continue
		}
		if _, ok := want[id]; ok {
			continue
		}
		if _, parentKept := want[n.parent]; !parentKept && !n.parent.IsRoot() {
			// Parent is gone too; its removal covers this node.
			continue
		}
		gone = append(gone, id)
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, id := range gone {
		if _, ok := s.nodes[id]; ok {
			notices = append(notices, s.removeLocked(id)...)
		}
	}

	for _, id := range order {
		e := want[id]
		n, exists := s.nodes[id]
		if !exists {
			if _, parentExists := s.nodes[e.parent]; !parentExists {
				continue
			}
			if _, err := s.insert(e.parent, e.spec); err != nil {
				s.mu.Unlock()
				dispatch(notices)
				return err
			}
			notices = append(notices, s.structuralLocked(noticeAdded, id, e.parent))
			continue
		}
		shallow := *e.spec
		shallow.Children = nil
		if reflect.DeepEqual(shallow, n.spec) {
			continue
		}
		if err := s.assign(n, &shallow); err != nil {
			s.mu.Unlock()
			dispatch(notices)
			return err
		}
		notices = append(notices, s.changedLocked(id))
	}
	s.mu.Unlock()

	dispatch(notices)
	return nil
}

// insert creates spec and its subtree under parent. Callers hold the lock
// or own the scene exclusively.
func (s *MemScene) insert(parent scene.NodeID, spec *NodeSpec) (scene.NodeID, error) {
	p, ok := s.nodes[parent]
	if !ok {
		return "", fmt.Errorf("%w: parent %s", ErrNotFound, parent)
	}
	id := parent.Child(spec.Name)
	if _, dup := s.nodes[id]; dup {
		return "", fmt.Errorf("host: node %s already exists", id)
	}
	n := &memNode{id: id, parent: parent}
	shallow := *spec
	shallow.Children = nil
	if err := s.assign(n, &shallow); err != nil {
		return "", fmt.Errorf("%s: %w", id, err)
	}
	s.nodes[id] = n
	p.children = append(p.children, id)
	if n.instanceOf != "" {
		orig := s.nodes[n.instanceOf]
		orig.instances = append(orig.instances, id)
	}

	for i := range spec.Children {
		if _, err := s.insert(id, &spec.Children[i]); err != nil {
			return "", err
		}
	}
	return id, nil
}

// assign copies a childless spec onto n.
func (s *MemScene) assign(n *memNode, spec *NodeSpec) error {
	kind, err := spec.kind()
	if err != nil {
		return err
	}
	if spec.InstanceOf != "" {
		orig := scene.NewNodeID(spec.InstanceOf)
		o, ok := s.nodes[orig]
		if !ok {
			return fmt.Errorf("%w: instance original %s", ErrNotFound, orig)
		}
		if o.instanceOf != "" {
			return fmt.Errorf("host: %s is itself an instance", orig)
		}
		if n.instanceOf != orig && n.instanceOf != "" {
			return fmt.Errorf("host: cannot re-target instance %s", n.id)
		}
		if spec.Kind == "" {
			kind = o.kind
		}
		n.instanceOf = orig
	}

	n.kind = kind
	n.translate = vec3(spec.Translate, [3]float64{})
	n.rotate = vec3(spec.Rotate, [3]float64{})
	n.scale = vec3(spec.Scale, [3]float64{1, 1, 1})
	n.velocity = vec3(spec.Velocity, [3]float64{})
	n.visible = spec.Visible == nil || *spec.Visible
	n.broken = spec.Broken
	n.attrs = nil
	if len(spec.Attributes) > 0 {
		n.attrs = make(map[string]any, len(spec.Attributes))
		for k, v := range spec.Attributes {
			n.attrs[k] = v
		}
	}

	n.particles = n.particles[:0]
	for _, ps := range spec.Particles {
		p := particle{
			translate: vec3(ps.Translate, [3]float64{}),
			velocity:  vec3(ps.Velocity, [3]float64{}),
		}
		for _, path := range ps.Paths {
			p.paths = append(p.paths, scene.NewNodeID(path))
		}
		n.particles = append(n.particles, p)
	}
	n.spec = *spec
	return nil
}

func (s *MemScene) removeLocked(id scene.NodeID) []notice {
	n := s.nodes[id]
	var notices []notice
	for _, child := range append([]scene.NodeID(nil), n.children...) {
		if _, ok := s.nodes[child]; ok {
			notices = append(notices, s.removeLocked(child)...)
		}
	}
	for _, inst := range append([]scene.NodeID(nil), n.instances...) {
		if _, ok := s.nodes[inst]; ok {
			notices = append(notices, s.removeLocked(inst)...)
		}
	}

	if p, ok := s.nodes[n.parent]; ok {
		p.children = without(p.children, id)
	}
	if n.instanceOf != "" {
		if o, ok := s.nodes[n.instanceOf]; ok {
			o.instances = without(o.instances, id)
		}
	}
	for key, sub := range s.subs {
		if sub.id == id {
			delete(s.subs, key)
		}
	}
	delete(s.nodes, id)
	return append(notices, s.structuralLocked(noticeRemoved, id, n.parent))
}

// changedLocked consumes every subscription on id.
func (s *MemScene) changedLocked(id scene.NodeID) notice {
	nt := notice{kind: noticeChanged, id: id}
	keys := make([]Subscription, 0)
	for key, sub := range s.subs {
		if sub.id == id {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		nt.listeners = append(nt.listeners, s.subs[key].listener)
		delete(s.subs, key)
	}
	return nt
}

func (s *MemScene) structuralLocked(kind noticeKind, id, parent scene.NodeID) notice {
	nt := notice{kind: kind, id: id, parent: parent}
	keys := make([]int, 0, len(s.structural))
	for key := range s.structural {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	for _, key := range keys {
		nt.listeners = append(nt.listeners, s.structural[key])
	}
	return nt
}

func dispatch(notices []notice) {
	for _, nt := range notices {
		for _, l := range nt.listeners {
			switch nt.kind {
			case noticeChanged:
				l.NodeChanged(nt.id)
			case noticeAdded:
				l.NodeAdded(nt.id, nt.parent)
			case noticeRemoved:
				l.NodeRemoved(nt.id)
			}
		}
	}
}

func without(ids []scene.NodeID, id scene.NodeID) []scene.NodeID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// Package walker turns the live scene into LiveObjects.
//
// Walker classifies and enumerates nodes into scene.Lists and keeps the
// arena in step with the host; Expander synthesizes per-particle virtual
// objects for instancer roots. Both run only on the orchestration
// goroutine.
package walker

import (
	"context"
	"log/slog"
	"path"
	"sort"

	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/scene"
)

// DefaultSkipPatterns match host scratch nodes (material swatches, preview
// renders) that never belong in a render.
var DefaultSkipPatterns = []string{"swatch*", "__preview*"}

// Registrar is told about every node a walk discovers so it can arm a
// change subscription. The IPR tracker implements it.
type Registrar interface {
	Register(id scene.NodeID)
}

// Walker performs scene walks against a LiveScene.
type Walker struct {
	host        host.LiveScene
	arena       *scene.Arena
	logger      *slog.Logger
	skip        []string
	registrar   Registrar
	interactive bool

	lists scene.Lists
	seen  map[scene.NodeID]bool
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) {
		w.logger = l
	}
}

// WithSkipPatterns replaces the leaf-name patterns whose subtrees are
// skipped. Patterns use path.Match syntax.
func WithSkipPatterns(patterns ...string) Option {
	return func(w *Walker) {
		w.skip = append([]string(nil), patterns...)
	}
}

// WithRegistrar sets the change-subscription registrar used in interactive
// mode.
func WithRegistrar(r Registrar) Option {
	return func(w *Walker) {
		w.registrar = r
	}
}

// WithInteractive switches the walker to interactive mode: vanished objects
// are tombstoned instead of dropped, and nodes are registered with the
// registrar.
func WithInteractive(on bool) Option {
	return func(w *Walker) {
		w.interactive = on
	}
}

// New creates a walker over h that stores objects in arena.
func New(h host.LiveScene, arena *scene.Arena, opts ...Option) *Walker {
	w := &Walker{
		host:   h,
		arena:  arena,
		logger: slog.Default(),
		skip:   DefaultSkipPatterns,
		seen:   make(map[scene.NodeID]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Lists returns a copy of the lists of the last walk.
func (w *Walker) Lists() scene.Lists {
	return copyLists(w.lists)
}

// Walk performs one sampling pass. Sample 0 is a fresh walk of the whole
// scene; later samples only append the current world transform to every
// walked object when step samples transforms.
func (w *Walker) Walk(ctx context.Context, sample int, step scene.MotionStep) (scene.Lists, error) {
	if sample > 0 {
		return w.resample(ctx, step)
	}

	w.lists = scene.Lists{}
	w.seen = make(map[scene.NodeID]bool)
	if err := w.visit(ctx, w.host.Root(), "", &w.lists); err != nil {
		return scene.Lists{}, err
	}
	w.lists.Removed = w.sweep()
	w.resolveLightLinks()

	w.logger.Debug("scene walked",
		"objects", len(w.lists.Objects),
		"cameras", len(w.lists.Cameras),
		"lights", len(w.lists.Lights),
		"instancers", len(w.lists.InstancerRoots),
		"removed", len(w.lists.Removed))
	return copyLists(w.lists), nil
}

// WalkSubtree walks the subtree rooted at root (a node the host just added)
// and folds what it finds into the current lists. The returned lists hold
// only the newly walked nodes.
func (w *Walker) WalkSubtree(ctx context.Context, root scene.NodeID) (scene.Lists, error) {
	var found scene.Lists
	if err := w.visit(ctx, root, root.Parent(), &found); err != nil {
		return scene.Lists{}, err
	}
	w.lists.Objects = appendMissing(w.lists.Objects, found.Objects)
	w.lists.Cameras = appendMissing(w.lists.Cameras, found.Cameras)
	w.lists.Lights = appendMissing(w.lists.Lights, found.Lights)
	w.lists.InstancerRoots = appendMissing(w.lists.InstancerRoots, found.InstancerRoots)
	w.resolveLightLinks()
	return found, nil
}

// Remove tombstones id and every walked object below it and drops them
// from the lists. It returns the tombstoned identities, deepest first.
func (w *Walker) Remove(id scene.NodeID) []scene.NodeID {
	targets := append(w.arena.Descendants(id), id)
	var out []scene.NodeID
	for _, t := range targets {
		marked := w.arena.Modify(t, func(o *scene.LiveObject) {
			if !o.Virtual {
				o.Removed = true
			}
		})
		if marked {
			if o, ok := w.arena.Get(t); ok && o.Removed {
				out = append(out, t)
			}
		}
		delete(w.seen, t)
	}
	gone := make(map[scene.NodeID]bool, len(out))
	for _, t := range out {
		gone[t] = true
	}
	w.lists.Objects = dropAll(w.lists.Objects, gone)
	w.lists.Cameras = dropAll(w.lists.Cameras, gone)
	w.lists.Lights = dropAll(w.lists.Lights, gone)
	w.lists.InstancerRoots = dropAll(w.lists.InstancerRoots, gone)

	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// Refresh re-reads the changed nodes ids and their walked ancestors at the
// current time cursor, restarting their transform history with a single
// sample. It returns the refreshed nodes; Resample completes their history
// when motion blur takes more samples.
func (w *Walker) Refresh(ctx context.Context, ids ...scene.NodeID) ([]scene.NodeID, error) {
	var out []scene.NodeID
	seen := make(map[scene.NodeID]bool)
	for _, id := range ids {
		for cur := id; cur != "" && !seen[cur]; cur = cur.Parent() {
			seen[cur] = true
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !w.arena.Has(cur) {
				continue
			}
			kind, err := w.host.Classify(cur)
			if err != nil {
				w.logger.Warn("refresh: cannot classify node, keeping previous state", "path", cur, "error", err)
				continue
			}
			wt, err := w.host.WorldTransform(cur)
			if err != nil {
				w.logger.Warn("refresh: cannot read transform, keeping previous state", "path", cur, "error", err)
				continue
			}
			a := w.readAttributes(cur)
			w.arena.Modify(cur, func(o *scene.LiveObject) {
				o.Kind = kind
				o.Visible = a.visible
				o.Animated = a.animated
				o.InstancerConnected = a.instancerConnected
				o.ParentCount = a.parentCount
				o.Transforms = append(o.Transforms[:0], wt)
			})
			out = append(out, cur)
		}
	}
	return out, nil
}

type nodeAttrs struct {
	visible            bool
	animated           bool
	instancerConnected bool
	instanceIndex      int
	parentCount        int
	original           scene.NodeID
}

func (w *Walker) readAttributes(id scene.NodeID) nodeAttrs {
	a := nodeAttrs{
		visible:            host.Bool(w.host, id, host.AttrVisibility, true),
		animated:           host.Bool(w.host, id, host.AttrAnimated, false),
		instancerConnected: host.Bool(w.host, id, host.AttrInstancerConnected, false),
		instanceIndex:      host.Int(w.host, id, host.AttrInstanceIndex, 0),
		parentCount:        host.Int(w.host, id, host.AttrParentCount, 1),
	}
	if a.instanceIndex > 0 {
		a.original = scene.NewNodeID(host.String(w.host, id, host.AttrInstanceOriginal, ""))
	}
	return a
}

// visit classifies id, records it and recurses into its children. Only
// context cancellation aborts the walk; node failures are logged and the
// node's subtree is skipped.
func (w *Walker) visit(ctx context.Context, id, parent scene.NodeID, lists *scene.Lists) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.skipped(id) {
		w.logger.Debug("skipping reserved node", "path", id)
		return nil
	}

	kind, err := w.host.Classify(id)
	if err != nil {
		w.logger.Warn("skipping node that cannot be resolved", "path", id, "error", err)
		return nil
	}
	wt, err := w.host.WorldTransform(id)
	if err != nil {
		w.logger.Warn("skipping node without a transform", "path", id, "error", err)
		return nil
	}

	a := w.readAttributes(id)
	if a.instanceIndex > 0 {
		orig, ok := w.arena.Get(a.original)
		if !ok || orig.Removed || !w.seen[a.original] {
			w.logger.Warn("instance original not walked yet", "path", id, "original", a.original, "instance_index", a.instanceIndex)
			a.original = ""
		}
	}

	w.arena.Update(id, kind, func(o *scene.LiveObject) {
		o.Kind = kind
		o.Parent = parent
		o.Original = a.original
		o.InstanceIndex = a.instanceIndex
		o.InstanceNumber = 0
		o.ParentCount = a.parentCount
		o.Visible = a.visible
		o.Animated = a.animated
		o.InstancerConnected = a.instancerConnected
		o.LightTransform = false
		o.Removed = false
		o.Virtual = false
		o.Excluded = nil
		o.Color = nil
		o.Transforms = append(o.Transforms[:0], wt)
	})
	w.seen[id] = true

	switch kind {
	case scene.KindCamera:
		lists.Cameras = append(lists.Cameras, id)
	case scene.KindLight:
		lists.Lights = append(lists.Lights, id)
		w.arena.Modify(parent, func(o *scene.LiveObject) {
			if o.Kind == scene.KindTransform {
				o.LightTransform = true
			}
		})
	case scene.KindInstancer:
		lists.InstancerRoots = append(lists.InstancerRoots, id)
	case scene.KindMesh, scene.KindTransform, scene.KindOther, scene.KindUnknown:
		lists.Objects = append(lists.Objects, id)
	}

	if w.interactive && w.registrar != nil {
		w.registrar.Register(id)
	}

	children, err := w.host.Children(id)
	if err != nil {
		w.logger.Warn("cannot enumerate children", "path", id, "error", err)
		return nil
	}
	for _, child := range children {
		if err := w.visit(ctx, child, id, lists); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) skipped(id scene.NodeID) bool {
	if id.IsRoot() {
		return false
	}
	leaf := id.Leaf()
	for _, pattern := range w.skip {
		if ok, _ := path.Match(pattern, leaf); ok {
			return true
		}
	}
	return false
}

// sweep handles objects a fresh walk did not rediscover. Interactive walks
// tombstone them so their render entities can be retired explicitly;
// batch walks drop them.
func (w *Walker) sweep() []scene.NodeID {
	var removed []scene.NodeID
	for _, o := range w.arena.Snapshot() {
		if o.Virtual || w.seen[o.ID] {
			continue
		}
		if w.interactive {
			w.arena.Modify(o.ID, func(o *scene.LiveObject) {
				o.Removed = true
			})
		} else {
			w.arena.Delete(o.ID)
		}
		removed = append(removed, o.ID)
	}
	return removed
}

// resolveLightLinks fills each light's exclusion list. A light without a
// linkedObjects attribute (on the shape or its transform) lights
// everything.
func (w *Walker) resolveLightLinks() {
	var meshes []scene.NodeID
	for _, id := range w.lists.Objects {
		if o, ok := w.arena.Get(id); ok && o.Kind == scene.KindMesh {
			meshes = append(meshes, id)
		}
	}

	for _, light := range w.lists.Lights {
		linked, ok := host.Strings(w.host, light, host.AttrLinkedObjects)
		if !ok {
			linked, ok = host.Strings(w.host, light.Parent(), host.AttrLinkedObjects)
		}
		var excluded []scene.NodeID
		if ok {
			links := make([]scene.NodeID, 0, len(linked))
			for _, l := range linked {
				links = append(links, scene.NewNodeID(l))
			}
			for _, mesh := range meshes {
				if !isLinked(mesh, links) {
					excluded = append(excluded, mesh)
				}
			}
			sort.Slice(excluded, func(i, j int) bool { return excluded[i] < excluded[j] })
		}
		w.arena.Modify(light, func(o *scene.LiveObject) {
			o.Excluded = excluded
		})
	}
}

func isLinked(mesh scene.NodeID, links []scene.NodeID) bool {
	for _, l := range links {
		if mesh == l || mesh.IsDescendantOf(l) {
			return true
		}
	}
	return false
}

func (w *Walker) resample(ctx context.Context, step scene.MotionStep) (scene.Lists, error) {
	for _, group := range [][]scene.NodeID{w.lists.Objects, w.lists.Cameras, w.lists.Lights, w.lists.InstancerRoots} {
		if err := w.Resample(ctx, step, group...); err != nil {
			return scene.Lists{}, err
		}
	}
	return copyLists(w.lists), nil
}

// Resample appends a transform sample taken at the current time cursor to
// each of ids. Steps that do not sample transforms leave them untouched.
func (w *Walker) Resample(ctx context.Context, step scene.MotionStep, ids ...scene.NodeID) error {
	if !step.Kind.SamplesTransform() {
		return nil
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		wt, err := w.host.WorldTransform(id)
		if err != nil {
			w.logger.Warn("transform sample failed, repeating previous sample", "path", id, "time", step.Time, "error", err)
			w.arena.Modify(id, func(o *scene.LiveObject) {
				o.Transforms = append(o.Transforms, o.CurrentTransform())
			})
			continue
		}
		w.arena.Modify(id, func(o *scene.LiveObject) {
			o.Transforms = append(o.Transforms, wt)
		})
	}
	return nil
}

func copyLists(l scene.Lists) scene.Lists {
	return scene.Lists{
		Objects:        append([]scene.NodeID(nil), l.Objects...),
		Cameras:        append([]scene.NodeID(nil), l.Cameras...),
		Lights:         append([]scene.NodeID(nil), l.Lights...),
		InstancerRoots: append([]scene.NodeID(nil), l.InstancerRoots...),
		Removed:        append([]scene.NodeID(nil), l.Removed...),
	}
}

func appendMissing(dst, src []scene.NodeID) []scene.NodeID {
	have := make(map[scene.NodeID]bool, len(dst))
	for _, id := range dst {
		have[id] = true
	}
	for _, id := range src {
		if !have[id] {
			dst = append(dst, id)
			have[id] = true
		}
	}
	return dst
}

func dropAll(ids []scene.NodeID, gone map[scene.NodeID]bool) []scene.NodeID {
	out := ids[:0]
	for _, id := range ids {
		if !gone[id] {
			out = append(out, id)
		}
	}
	return out
}

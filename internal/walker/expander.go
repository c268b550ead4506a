package walker

import (
	"context"
	"log/slog"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/scene"
)

// Expander synthesizes one virtual LiveObject per (particle, instanced
// path) of every instancer root.
type Expander struct {
	host     host.LiveScene
	arena    *scene.Arena
	logger   *slog.Logger
	relative bool

	current []scene.NodeID
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithExpanderLogger sets the logger. Default is slog.Default().
func WithExpanderLogger(l *slog.Logger) ExpanderOption {
	return func(e *Expander) {
		e.logger = l
	}
}

// WithRelativeToTemplate expresses each particle matrix relative to the
// template's current world matrix.
func WithRelativeToTemplate(on bool) ExpanderOption {
	return func(e *Expander) {
		e.relative = on
	}
}

// NewExpander creates an expander over h storing virtual objects in arena.
func NewExpander(h host.LiveScene, arena *scene.Arena, opts ...ExpanderOption) *Expander {
	e := &Expander{host: h, arena: arena, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the identities of the last expansion.
func (e *Expander) Current() []scene.NodeID {
	return append([]scene.NodeID(nil), e.current...)
}

// Expand runs one sampling pass over roots.
//
// Sample 0 replaces the previous expansion entirely: every virtual object
// is rebuilt from the particles present now, and objects of the previous
// expansion that no longer exist are deleted from the arena and returned
// in removed so their render entities can be retired. Later samples append
// the particle matrix to the objects created at sample 0.
func (e *Expander) Expand(ctx context.Context, roots []scene.NodeID, sample int, step scene.MotionStep) (current, removed []scene.NodeID, err error) {
	if sample > 0 && !step.Kind.SamplesTransform() {
		return e.Current(), nil, nil
	}

	var next []scene.NodeID
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		particles, err := e.host.Instances(root)
		if err != nil {
			e.logger.Warn("skipping instancer without particles", "instancer", root, "error", err)
			continue
		}
		colors := e.colors(root)

		for _, p := range particles {
			for _, tmplID := range p.Paths {
				id := scene.ParticleID(root, tmplID, p.Index)
				if sample > 0 {
					if m, ok := e.matrix(p, tmplID); ok {
						e.arena.Modify(id, func(o *scene.LiveObject) {
							o.Transforms = append(o.Transforms, m)
						})
					}
					continue
				}

				tmpl, ok := e.arena.Get(tmplID)
				if !ok || tmpl.Removed {
					e.logger.Warn("particle template not found, skipping particle",
						"instancer", root, "particle", p.Index, "path", tmplID)
					continue
				}
				m, ok := e.matrix(p, tmplID)
				if !ok {
					continue
				}
				obj := &scene.LiveObject{
					ID:             id,
					Kind:           tmpl.Kind,
					Parent:         root,
					Original:       tmplID,
					InstanceNumber: p.Index + 1,
					ParentCount:    1,
					Transforms:     []mgl64.Mat4{m},
					Visible:        tmpl.Visible,
					Virtual:        true,
				}
				if p.Index < len(colors) {
					c := colors[p.Index]
					obj.Color = &c
				}
				e.arena.Put(obj)
				next = append(next, id)
			}
		}
	}

	if sample > 0 {
		return e.Current(), nil, nil
	}

	keep := make(map[scene.NodeID]bool, len(next))
	for _, id := range next {
		keep[id] = true
	}
	for _, id := range e.current {
		if !keep[id] {
			e.arena.Delete(id)
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	e.current = next

	e.logger.Debug("instancers expanded", "instancers", len(roots), "particles", len(next), "removed", len(removed))
	return e.Current(), removed, nil
}

// Reset forgets the current expansion and deletes its objects.
func (e *Expander) Reset() {
	for _, id := range e.current {
		e.arena.Delete(id)
	}
	e.current = nil
}

func (e *Expander) matrix(p host.ParticleInstance, tmpl scene.NodeID) (mgl64.Mat4, bool) {
	if !e.relative {
		return p.Matrix, true
	}
	world, err := e.host.WorldTransform(tmpl)
	if err != nil {
		e.logger.Warn("template transform unavailable, skipping particle",
			"particle", p.Index, "path", tmpl, "error", err)
		return mgl64.Mat4{}, false
	}
	if world.Det() == 0 {
		e.logger.Warn("template transform is singular, skipping particle",
			"particle", p.Index, "path", tmpl)
		return mgl64.Mat4{}, false
	}
	return p.Matrix.Mul4(world.Inv()), true
}

// colors reads per-particle colours from the instancer's upstream particle
// source, if it has one.
func (e *Expander) colors(root scene.NodeID) [][3]float64 {
	src := host.String(e.host, root, host.AttrParticleSource, "")
	if src == "" {
		return nil
	}
	colors, ok := host.Float3s(e.host, scene.NewNodeID(src), host.AttrRGBPP)
	if !ok {
		return nil
	}
	return colors
}

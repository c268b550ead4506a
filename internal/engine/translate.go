package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/scenebridge/internal/ipr"
	"github.com/roach88/scenebridge/internal/motion"
	"github.com/roach88/scenebridge/internal/scene"
)

var tracer = otel.Tracer("scenebridge/engine")

// translateFrame runs one walk and expansion per motion step, in time
// order, moving the host cursor once per distinct time. Entities are
// retired and bound once all samples are taken, so every instance carries
// its whole transform history. It returns the number of steps taken.
func (e *Engine) translateFrame(ctx context.Context, frame float64) (int, error) {
	p := e.pipe
	settings, err := e.session.Config.Motion()
	if err != nil {
		return 0, frameError(ErrCodeNoSteps, frame, err)
	}
	steps, err := motion.Steps(settings)
	if err != nil {
		return 0, frameError(ErrCodeNoSteps, frame, err)
	}
	samples := motion.Samples(steps)
	if len(samples) == 0 {
		return 0, frameError(ErrCodeNoSteps, frame, errors.New("motion sampler produced no steps"))
	}
	moves := motion.ViewUpdates(steps)
	p.samples, p.moves = samples, moves

	ctx, span := tracer.Start(ctx, "engine.translateFrame",
		trace.WithAttributes(
			attribute.Float64("frame", frame),
			attribute.Int("steps", len(samples)),
		),
	)
	defer span.End()
	timer := prometheus.NewTimer(translateDuration)
	defer timer.ObserveDuration()

	h := e.session.Host
	var (
		lists scene.Lists
		gone  []scene.NodeID
	)
	for i, st := range samples {
		if moves[i] {
			h.MoveTimeCursor(frame + st.Time)
		}
		l, err := p.walker.Walk(ctx, i, st)
		if err != nil {
			return i, e.translateFailed(span, frame, fmt.Errorf("walk %s: %w", st, err))
		}
		_, removed, err := p.expander.Expand(ctx, l.InstancerRoots, i, st)
		if err != nil {
			return i, e.translateFailed(span, frame, fmt.Errorf("expand %s: %w", st, err))
		}
		if i == 0 {
			lists = l
			gone = append(append(gone, l.Removed...), removed...)
		}
	}
	h.MoveTimeCursor(frame)

	if err := e.retire(ctx, gone); err != nil {
		return len(samples), e.translateFailed(span, frame, err)
	}
	particles := p.expander.Current()
	bound, err := e.bindAll(ctx, lists.Objects, lists.Lights, particles)
	if err != nil {
		return len(samples), e.translateFailed(span, frame, err)
	}

	span.SetAttributes(attribute.Int("bound", bound))
	e.logger.Info("frame translated",
		"frame", frame,
		"steps", len(samples),
		"objects", len(lists.Objects),
		"cameras", len(lists.Cameras),
		"lights", len(lists.Lights),
		"particles", len(particles),
		"retired", len(gone),
		"bound", bound,
	)
	return len(samples), nil
}

func (e *Engine) translateFailed(span trace.Span, frame float64, err error) error {
	span.SetStatus(codes.Error, err.Error())
	return frameError(ErrCodeTranslate, frame, err)
}

// bindAll binds every id. A failing object is skipped; the mapper has
// already rolled its entities back. Session-fatal sink errors stop the
// pass.
func (e *Engine) bindAll(ctx context.Context, groups ...[]scene.NodeID) (int, error) {
	m := e.pipe.mapper
	bound := 0
	for _, ids := range groups {
		for _, id := range ids {
			if _, err := m.Bind(ctx, id); err != nil {
				if IsSessionFatal(err) || ctx.Err() != nil {
					return bound, err
				}
				e.logger.Warn("object skipped", "path", id, "frame", e.frame, "error", err)
				continue
			}
			bound++
		}
	}
	return bound, nil
}

// retire removes the render entities of ids, deepest first, and drops
// their tombstones from the arena.
func (e *Engine) retire(ctx context.Context, ids []scene.NodeID) error {
	if len(ids) == 0 {
		return nil
	}
	ordered := append([]scene.NodeID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] > ordered[j] })

	p := e.pipe
	for _, id := range ordered {
		if err := p.mapper.Retire(ctx, id); err != nil {
			if IsSessionFatal(err) || ctx.Err() != nil {
				return err
			}
			e.logger.Warn("cannot retire object", "path", id, "frame", e.frame, "error", err)
		}
		if o, ok := p.arena.Get(id); ok && o.Removed {
			p.arena.Delete(id)
		}
	}
	return nil
}

// applyBatch applies one IPR batch: removed leaves are retired, added
// subtrees are re-walked from their parent transform, changed leaves are
// refreshed and every touched object is re-bound. Touched objects are
// sampled at the frame's motion steps, so an edit keeps the blur of the
// frame. Instancers are re-expanded since any edit may move their particles
// or templates.
func (e *Engine) applyBatch(ctx context.Context, b ipr.Batch) error {
	p := e.pipe
	ctx, span := tracer.Start(ctx, "engine.applyBatch",
		trace.WithAttributes(
			attribute.Int("leaves", len(b.Leaves)),
			attribute.Int("added", len(b.Added)),
		),
	)
	defer span.End()

	var changed []scene.NodeID
	for _, leaf := range b.Leaves {
		if !leaf.Removed {
			changed = append(changed, leaf.ID)
			continue
		}
		if err := e.retire(ctx, p.walker.Remove(leaf.ID)); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	samples, moves := p.samples, p.moves
	if len(samples) == 0 {
		samples, moves = []scene.MotionStep{{Kind: scene.StepTransform}}, []bool{true}
	}
	h := e.session.Host
	var (
		added   scene.Lists
		sampled []scene.NodeID
		current []scene.NodeID
		gone    []scene.NodeID
	)
	for i, st := range samples {
		if moves[i] {
			h.MoveTimeCursor(e.frame + st.Time)
		}
		if i == 0 {
			added = e.walkAdded(ctx, b.Added)
			refreshed, err := p.walker.Refresh(ctx, changed...)
			if err != nil {
				return err
			}
			sampled = appendUnique(refreshed, added.Objects, added.Cameras, added.Lights, added.InstancerRoots)
		} else if err := p.walker.Resample(ctx, st, sampled...); err != nil {
			return err
		}

		cur, removed, err := p.expander.Expand(ctx, p.walker.Lists().InstancerRoots, i, st)
		if err != nil {
			return err
		}
		if i == 0 {
			current, gone = cur, removed
		}
	}
	h.MoveTimeCursor(e.frame)

	if err := e.retire(ctx, gone); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	var live []scene.NodeID
	for _, id := range changed {
		if o, ok := p.arena.Get(id); ok && !o.Removed {
			live = append(live, id)
		}
	}
	if _, err := e.bindAll(ctx, appendUnique(nil, added.Objects, added.Lights, live, current)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e.logger.Debug("IPR batch applied", "frame", e.frame, "leaves", len(b.Leaves), "added", len(b.Added), "steps", len(samples))
	return nil
}

// walkAdded re-walks the parent transform of every added node. Siblings
// walked again are rebound without creating anything.
func (e *Engine) walkAdded(ctx context.Context, added []ipr.Added) scene.Lists {
	var out scene.Lists
	for _, a := range added {
		root := a.Parent
		if root == "" {
			root = a.ID.Parent()
		}
		found, err := e.pipe.walker.WalkSubtree(ctx, root)
		if err != nil {
			e.logger.Warn("cannot walk added node", "path", a.ID, "parent", root, "error", err)
			continue
		}
		out.Objects = appendUnique(out.Objects, found.Objects)
		out.Cameras = appendUnique(out.Cameras, found.Cameras)
		out.Lights = appendUnique(out.Lights, found.Lights)
		out.InstancerRoots = appendUnique(out.InstancerRoots, found.InstancerRoots)
	}
	return out
}

func appendUnique(dst []scene.NodeID, groups ...[]scene.NodeID) []scene.NodeID {
	have := make(map[scene.NodeID]bool, len(dst))
	for _, id := range dst {
		have[id] = true
	}
	for _, ids := range groups {
		for _, id := range ids {
			if !have[id] {
				dst = append(dst, id)
				have[id] = true
			}
		}
	}
	return dst
}

package assembly

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/roach88/scenebridge/internal/scene"
)

// relativeTransforms expresses every transform sample of owner in the
// space of container. Sample i of owner is paired with sample i of
// container, or its last sample when container has fewer.
func relativeTransforms(owner, container *scene.LiveObject) []mgl64.Mat4 {
	xfs := transformsOf(owner)
	if container.ID.IsRoot() {
		return xfs
	}
	out := make([]mgl64.Mat4, len(xfs))
	for i, m := range xfs {
		c := sampleAt(container, i)
		if c.Det() == 0 {
			out[i] = m
			continue
		}
		out[i] = c.Inv().Mul4(m)
	}
	return out
}

func transformsOf(o *scene.LiveObject) []mgl64.Mat4 {
	if len(o.Transforms) == 0 {
		return []mgl64.Mat4{mgl64.Ident4()}
	}
	return append([]mgl64.Mat4(nil), o.Transforms...)
}

func sampleAt(o *scene.LiveObject, i int) mgl64.Mat4 {
	if len(o.Transforms) == 0 {
		return mgl64.Ident4()
	}
	if i >= len(o.Transforms) {
		i = len(o.Transforms) - 1
	}
	return o.Transforms[i]
}

func sameTransforms(a, b []mgl64.Mat4) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].ApproxEqual(b[i]) {
			return false
		}
	}
	return true
}

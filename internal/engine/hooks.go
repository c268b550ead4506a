package engine

import (
	"context"

	"github.com/roach88/scenebridge/internal/sink"
)

// Hooks are the host-side callbacks around frames and tiles. They run on
// the loop goroutine, never on the render goroutine.
type Hooks interface {
	// PreFrame runs before a frame is translated. An error skips the frame.
	PreFrame(ctx context.Context, frame float64) error
	// PostFrame runs after a frame rendered, e.g. to write the image.
	PostFrame(ctx context.Context, frame float64) error
	PreTile(r sink.Rect)
	UpdateTile(r sink.Rect, pixels []float32)
}

// NopHooks does nothing.
type NopHooks struct{}

func (NopHooks) PreFrame(context.Context, float64) error  { return nil }
func (NopHooks) PostFrame(context.Context, float64) error { return nil }
func (NopHooks) PreTile(sink.Rect)                        {}
func (NopHooks) UpdateTile(sink.Rect, []float32)          {}

// Package sink defines the render-scene sink scenebridge populates and
// ships MemorySink, an in-memory sink with a progressive tile renderer.
//
// A Sink is owned by the orchestration goroutine. Only Render runs on the
// render goroutine, and the only cross-goroutine write into it is the
// Controller's abort status.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrSessionFatal marks terminal sink failures that end the session.
	ErrSessionFatal = errors.New("sink: session fatal")

	// ErrNotFound is returned for unknown assemblies, instances and objects.
	ErrNotFound = errors.New("sink: not found")
)

// Rect is a pixel region.
type Rect struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// String implements fmt.Stringer.
func (r Rect) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Frame describes the image a session renders.
type Frame struct {
	Number float64
	Camera string
	Width  int
	Height int
}

// AssemblyRef names an assembly and the assembly containing it.
type AssemblyRef struct {
	Name   string
	Parent string
}

// InstanceRef names an instance of an assembly placed in a container.
type InstanceRef struct {
	Name       string
	Assembly   string
	Container  string
	Transforms []mgl64.Mat4
}

// Status is the cooperative render status.
type Status int32

const (
	// Continue lets the render proceed.
	Continue Status = iota
	// Abort asks the render to return as soon as possible.
	Abort
)

// Controller carries the abort flag polled by Render.
type Controller struct {
	status atomic.Int32
}

// NewController returns a controller in the Continue state.
func NewController() *Controller {
	return &Controller{}
}

// Abort requests cooperative cancellation.
func (c *Controller) Abort() {
	c.status.Store(int32(Abort))
}

// Reset returns the controller to Continue.
func (c *Controller) Reset() {
	c.status.Store(int32(Continue))
}

// Status returns the current status.
func (c *Controller) Status() Status {
	return Status(c.status.Load())
}

// Aborted reports whether Abort was requested.
func (c *Controller) Aborted() bool {
	return c.Status() == Abort
}

// TileCallbacks are invoked from the render goroutine. Either may be nil.
type TileCallbacks struct {
	PreTile    func(r Rect)
	UpdateTile func(r Rect, pixels []float32)
}

// Sink is the render-scene sink.
//
// CreateOrGet calls look up by name before creating and report whether a
// creation happened. Render blocks until the image is complete or the
// controller is aborted; an abort is not an error.
type Sink interface {
	Init(ctx context.Context, f Frame) error

	CreateOrGetAssembly(name, parent string) (AssemblyRef, bool, error)
	CreateOrGetInstance(name, assembly, container string, transforms []mgl64.Mat4) (InstanceRef, bool, error)
	UpdateInstance(name string, transforms []mgl64.Mat4) error
	RemoveInstance(name string) error
	PlaceObject(assembly, name string) error
	RemoveObject(assembly, name string) error
	RemoveAssembly(name string) error

	// SetFrame sets the frame number of the next Render.
	SetFrame(frame float64) error
	SetCropWindow(r Rect) error
	Render(ctx context.Context, ctrl *Controller, cb TileCallbacks) error
	Release() error
}

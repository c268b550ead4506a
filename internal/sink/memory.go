package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultTileSize is the edge length of a MemorySink render tile.
const DefaultTileSize = 32

// MemorySink is an in-memory Sink. Every mutation is appended to an
// operation trace so tests can compare whole sessions.
type MemorySink struct {
	mu sync.Mutex

	frame      Frame
	crop       Rect
	assemblies map[string]*memAssembly
	instances  map[string]*InstanceRef
	ops        []string
	creations  map[string]int
	renders    int

	tileSize  int
	tileDelay time.Duration
	failures  map[string]error
	once      map[string]bool
}

type memAssembly struct {
	parent  string
	objects map[string]bool
}

// MemoryOption configures a MemorySink.
type MemoryOption func(*MemorySink)

// WithTileSize sets the render tile edge length.
func WithTileSize(n int) MemoryOption {
	return func(s *MemorySink) {
		if n > 0 {
			s.tileSize = n
		}
	}
}

// WithTileDelay sleeps between tiles, making renders slow enough to be
// interrupted.
func WithTileDelay(d time.Duration) MemoryOption {
	return func(s *MemorySink) {
		s.tileDelay = d
	}
}

// NewMemorySink creates an empty sink.
func NewMemorySink(opts ...MemoryOption) *MemorySink {
	s := &MemorySink{
		assemblies: make(map[string]*memAssembly),
		instances:  make(map[string]*InstanceRef),
		creations:  make(map[string]int),
		failures:   make(map[string]error),
		once:       make(map[string]bool),
		tileSize:   DefaultTileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailOn makes every later call of op ("init", "assembly", "instance",
// "place", "render", ...) on name fail with err. An empty name matches any
// name.
func (s *MemorySink) FailOn(op, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+"\x00"+name] = err
	delete(s.once, op+"\x00"+name)
}

// FailOnce is FailOn for the next matching call only.
func (s *MemorySink) FailOnce(op, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op + "\x00" + name
	s.failures[key] = err
	s.once[key] = true
}

func (s *MemorySink) failure(op, name string) error {
	for _, key := range []string{op + "\x00" + name, op + "\x00"} {
		err, ok := s.failures[key]
		if !ok {
			continue
		}
		if s.once[key] {
			delete(s.failures, key)
			delete(s.once, key)
		}
		return err
	}
	return nil
}

func (s *MemorySink) record(format string, args ...any) {
	s.ops = append(s.ops, fmt.Sprintf(format, args...))
}

// Init implements Sink.
func (s *MemorySink) Init(ctx context.Context, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("init", ""); err != nil {
		return err
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: invalid resolution %dx%d", ErrSessionFatal, f.Width, f.Height)
	}
	s.frame = f
	s.record("init %dx%d camera=%s", f.Width, f.Height, f.Camera)
	return nil
}

// CreateOrGetAssembly implements Sink.
func (s *MemorySink) CreateOrGetAssembly(name, parent string) (AssemblyRef, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("assembly", name); err != nil {
		return AssemblyRef{}, false, err
	}
	if a, ok := s.assemblies[name]; ok {
		return AssemblyRef{Name: name, Parent: a.parent}, false, nil
	}
	if parent != "" {
		if _, ok := s.assemblies[parent]; !ok {
			return AssemblyRef{}, false, fmt.Errorf("%w: parent assembly %s", ErrNotFound, parent)
		}
	}
	s.assemblies[name] = &memAssembly{parent: parent, objects: make(map[string]bool)}
	s.creations["assembly"]++
	s.record("create_assembly %s parent=%s", name, parent)
	return AssemblyRef{Name: name, Parent: parent}, true, nil
}

// CreateOrGetInstance implements Sink.
func (s *MemorySink) CreateOrGetInstance(name, assembly, container string, transforms []mgl64.Mat4) (InstanceRef, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("instance", name); err != nil {
		return InstanceRef{}, false, err
	}
	if inst, ok := s.instances[name]; ok {
		return cloneInstance(inst), false, nil
	}
	if _, ok := s.assemblies[assembly]; !ok {
		return InstanceRef{}, false, fmt.Errorf("%w: assembly %s", ErrNotFound, assembly)
	}
	if _, ok := s.assemblies[container]; !ok {
		return InstanceRef{}, false, fmt.Errorf("%w: container %s", ErrNotFound, container)
	}
	inst := &InstanceRef{
		Name:       name,
		Assembly:   assembly,
		Container:  container,
		Transforms: append([]mgl64.Mat4(nil), transforms...),
	}
	s.instances[name] = inst
	s.creations["instance"]++
	s.record("create_instance %s of=%s in=%s samples=%d", name, assembly, container, len(transforms))
	return cloneInstance(inst), true, nil
}

// UpdateInstance implements Sink.
func (s *MemorySink) UpdateInstance(name string, transforms []mgl64.Mat4) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, name)
	}
	inst.Transforms = append([]mgl64.Mat4(nil), transforms...)
	s.record("update_instance %s samples=%d", name, len(transforms))
	return nil
}

// RemoveInstance implements Sink.
func (s *MemorySink) RemoveInstance(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[name]; !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, name)
	}
	delete(s.instances, name)
	s.record("remove_instance %s", name)
	return nil
}

// PlaceObject implements Sink.
func (s *MemorySink) PlaceObject(assembly, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("place", name); err != nil {
		return err
	}
	a, ok := s.assemblies[assembly]
	if !ok {
		return fmt.Errorf("%w: assembly %s", ErrNotFound, assembly)
	}
	if a.objects[name] {
		return nil
	}
	a.objects[name] = true
	s.creations["object"]++
	s.record("place_object %s in=%s", name, assembly)
	return nil
}

// RemoveObject implements Sink.
func (s *MemorySink) RemoveObject(assembly, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assemblies[assembly]
	if !ok || !a.objects[name] {
		return fmt.Errorf("%w: object %s in %s", ErrNotFound, name, assembly)
	}
	delete(a.objects, name)
	s.record("remove_object %s in=%s", name, assembly)
	return nil
}

// RemoveAssembly implements Sink. Nested assemblies and every instance of
// a removed assembly go with it.
func (s *MemorySink) RemoveAssembly(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assemblies[name]; !ok {
		return fmt.Errorf("%w: assembly %s", ErrNotFound, name)
	}
	s.removeAssemblyLocked(name)
	return nil
}

func (s *MemorySink) removeAssemblyLocked(name string) {
	for _, child := range s.sortedAssemblies() {
		if a, ok := s.assemblies[child]; ok && a.parent == name {
			s.removeAssemblyLocked(child)
		}
	}
	for _, inst := range s.sortedInstances() {
		ref := s.instances[inst]
		if ref.Assembly == name || ref.Container == name {
			delete(s.instances, inst)
		}
	}
	delete(s.assemblies, name)
	s.record("remove_assembly %s", name)
}

// SetFrame implements Sink.
func (s *MemorySink) SetFrame(frame float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Number = frame
	return nil
}

// SetCropWindow implements Sink.
func (s *MemorySink) SetCropWindow(r Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crop = r
	s.record("crop %s", r)
	return nil
}

// Render implements Sink. It walks the image (or crop window) tile by tile,
// polling ctrl before each tile.
func (s *MemorySink) Render(ctx context.Context, ctrl *Controller, cb TileCallbacks) error {
	s.mu.Lock()
	if err := s.failure("render", ""); err != nil {
		s.mu.Unlock()
		return err
	}
	region := Rect{W: s.frame.Width, H: s.frame.Height}
	if !s.crop.Empty() {
		region = s.crop
	}
	shade := float32(0)
	for _, a := range s.assemblies {
		shade += float32(len(a.objects))
	}
	shade += float32(len(s.instances))
	tile, delay := s.tileSize, s.tileDelay
	s.renders++
	frame := s.frame.Number
	s.mu.Unlock()

	tiles := 0
	for y := region.Y; y < region.Y+region.H; y += tile {
		for x := region.X; x < region.X+region.W; x += tile {
			if ctrl.Aborted() || ctx.Err() != nil {
				s.finishRender(frame, tiles, true)
				return nil
			}
			r := Rect{X: x, Y: y, W: min(tile, region.X+region.W-x), H: min(tile, region.Y+region.H-y)}
			if cb.PreTile != nil {
				cb.PreTile(r)
			}
			pixels := make([]float32, r.W*r.H*4)
			for i := 0; i < len(pixels); i += 4 {
				pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = shade, shade, shade, 1
			}
			if cb.UpdateTile != nil {
				cb.UpdateTile(r, pixels)
			}
			tiles++
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}
	s.finishRender(frame, tiles, false)
	return nil
}

func (s *MemorySink) finishRender(frame float64, tiles int, aborted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if aborted {
		s.record("render frame=%g aborted after %d tiles", frame, tiles)
		return
	}
	s.record("render frame=%g tiles=%d", frame, tiles)
}

// Release implements Sink.
func (s *MemorySink) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assemblies = make(map[string]*memAssembly)
	s.instances = make(map[string]*InstanceRef)
	s.crop = Rect{}
	s.record("release")
	return nil
}

// Ops returns a copy of the operation trace.
func (s *MemorySink) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// Creations returns how many assemblies, instances or objects were created.
func (s *MemorySink) Creations(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creations[kind]
}

// Renders returns the number of Render calls.
func (s *MemorySink) Renders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

// HasAssembly reports whether the named assembly exists.
func (s *MemorySink) HasAssembly(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assemblies[name]
	return ok
}

// HasInstance reports whether the named instance exists.
func (s *MemorySink) HasInstance(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[name]
	return ok
}

// HasObject reports whether name is placed in assembly.
func (s *MemorySink) HasObject(assembly, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assemblies[assembly]
	return ok && a.objects[name]
}

// Instance returns a copy of the named instance.
func (s *MemorySink) Instance(name string) (InstanceRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	if !ok {
		return InstanceRef{}, false
	}
	return cloneInstance(inst), true
}

// Assemblies returns the sorted assembly names.
func (s *MemorySink) Assemblies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedAssemblies()
}

// Instances returns the sorted instance names.
func (s *MemorySink) Instances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedInstances()
}

// Objects returns the sorted object names placed in assembly.
func (s *MemorySink) Objects(assembly string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assemblies[assembly]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(a.objects))
	for name := range a.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Crop returns the current crop window.
func (s *MemorySink) Crop() Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crop
}

func (s *MemorySink) sortedAssemblies() []string {
	out := make([]string, 0, len(s.assemblies))
	for name := range s.assemblies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *MemorySink) sortedInstances() []string {
	out := make([]string, 0, len(s.instances))
	for name := range s.instances {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func cloneInstance(inst *InstanceRef) InstanceRef {
	c := *inst
	c.Transforms = append([]mgl64.Mat4(nil), inst.Transforms...)
	return c
}

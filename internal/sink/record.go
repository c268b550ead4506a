package sink

import (
	"context"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
)

// Ledger receives every successful sink mutation. store.Store implements it
// for a session.
type Ledger interface {
	AssemblyCreated(ctx context.Context, name, parent string) error
	AssemblyRemoved(ctx context.Context, name string) error
	InstanceCreated(ctx context.Context, inst InstanceRef) error
	InstanceUpdated(ctx context.Context, name string, transforms []mgl64.Mat4) error
	InstanceRemoved(ctx context.Context, name string) error
	ObjectPlaced(ctx context.Context, assembly, name string) error
	ObjectRemoved(ctx context.Context, assembly, name string) error
}

// Recording wraps a Sink and mirrors successful mutations into a Ledger.
// Ledger failures are logged and never fail the sink call.
type Recording struct {
	Sink
	ledger Ledger
	logger *slog.Logger
}

// Record returns a Sink that mirrors inner's mutations into ledger.
func Record(inner Sink, ledger Ledger, logger *slog.Logger) *Recording {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recording{Sink: inner, ledger: ledger, logger: logger}
}

func (r *Recording) note(op, name string, err error) {
	if err != nil {
		r.logger.Warn("ledger write failed", "op", op, "name", name, "error", err)
	}
}

// CreateOrGetAssembly implements Sink.
func (r *Recording) CreateOrGetAssembly(name, parent string) (AssemblyRef, bool, error) {
	ref, created, err := r.Sink.CreateOrGetAssembly(name, parent)
	if err == nil && created {
		r.note("assembly_created", name, r.ledger.AssemblyCreated(context.Background(), name, parent))
	}
	return ref, created, err
}

// CreateOrGetInstance implements Sink.
func (r *Recording) CreateOrGetInstance(name, assembly, container string, transforms []mgl64.Mat4) (InstanceRef, bool, error) {
	ref, created, err := r.Sink.CreateOrGetInstance(name, assembly, container, transforms)
	if err == nil && created {
		r.note("instance_created", name, r.ledger.InstanceCreated(context.Background(), ref))
	}
	return ref, created, err
}

// UpdateInstance implements Sink.
func (r *Recording) UpdateInstance(name string, transforms []mgl64.Mat4) error {
	err := r.Sink.UpdateInstance(name, transforms)
	if err == nil {
		r.note("instance_updated", name, r.ledger.InstanceUpdated(context.Background(), name, transforms))
	}
	return err
}

// RemoveInstance implements Sink.
func (r *Recording) RemoveInstance(name string) error {
	err := r.Sink.RemoveInstance(name)
	if err == nil {
		r.note("instance_removed", name, r.ledger.InstanceRemoved(context.Background(), name))
	}
	return err
}

// PlaceObject implements Sink.
func (r *Recording) PlaceObject(assembly, name string) error {
	err := r.Sink.PlaceObject(assembly, name)
	if err == nil {
		r.note("object_placed", name, r.ledger.ObjectPlaced(context.Background(), assembly, name))
	}
	return err
}

// RemoveObject implements Sink.
func (r *Recording) RemoveObject(assembly, name string) error {
	err := r.Sink.RemoveObject(assembly, name)
	if err == nil {
		r.note("object_removed", name, r.ledger.ObjectRemoved(context.Background(), assembly, name))
	}
	return err
}

// RemoveAssembly implements Sink.
func (r *Recording) RemoveAssembly(name string) error {
	err := r.Sink.RemoveAssembly(name)
	if err == nil {
		r.note("assembly_removed", name, r.ledger.AssemblyRemoved(context.Background(), name))
	}
	return err
}

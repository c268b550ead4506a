package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/sink"
)

// RecordSession inserts a session row. Re-recording the same id is a no-op.
func (s *Store) RecordSession(ctx context.Context, id, mode, sceneName, camera string, width, height int) error {
	return s.exec(ctx, "record session", `
		INSERT INTO sessions (id, mode, scene, camera, width, height, state, seq)
		VALUES (?, ?, ?, ?, ?, ?, 'None', ?)
		ON CONFLICT(id) DO NOTHING
	`, id, mode, sceneName, camera, width, height, s.seq.Next())
}

// RecordState stores the latest render state of a session.
func (s *Store) RecordState(ctx context.Context, id, state string) error {
	return s.exec(ctx, "record state", `
		UPDATE sessions SET state = ? WHERE id = ?
	`, state, id)
}

// RecordFrame appends a frame outcome.
func (s *Store) RecordFrame(ctx context.Context, id string, frame float64, status string, steps int, errMsg string) error {
	return s.exec(ctx, "record frame", `
		INSERT INTO frames (session_id, seq, frame, status, steps, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, s.seq.Next(), frame, status, steps, errMsg)
}

// Ledger returns a sink.Ledger writing into session id.
func (s *Store) Ledger(id string) *SessionLedger {
	return &SessionLedger{store: s, session: id}
}

// SessionLedger records sink mutations of one session.
type SessionLedger struct {
	store   *Store
	session string
}

var _ sink.Ledger = (*SessionLedger)(nil)

// AssemblyCreated implements sink.Ledger. A re-created assembly clears its
// tombstone.
func (l *SessionLedger) AssemblyCreated(ctx context.Context, name, parent string) error {
	cid, err := scene.ContentHash(scene.DomainAssembly, name, parent)
	if err != nil {
		return fmt.Errorf("record assembly: %w", err)
	}
	return l.store.exec(ctx, "record assembly", `
		INSERT INTO assemblies (session_id, name, parent, content_id, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET
			parent = excluded.parent,
			content_id = excluded.content_id,
			seq = excluded.seq,
			removed_seq = NULL
	`, l.session, name, parent, cid, l.store.seq.Next())
}

// AssemblyRemoved implements sink.Ledger.
func (l *SessionLedger) AssemblyRemoved(ctx context.Context, name string) error {
	return l.store.exec(ctx, "record assembly removal", `
		UPDATE assemblies SET removed_seq = ?
		WHERE session_id = ? AND name = ? AND removed_seq IS NULL
	`, l.store.seq.Next(), l.session, name)
}

// InstanceCreated implements sink.Ledger.
func (l *SessionLedger) InstanceCreated(ctx context.Context, inst sink.InstanceRef) error {
	xf, err := marshalTransforms(inst.Transforms)
	if err != nil {
		return fmt.Errorf("record instance: %w", err)
	}
	cid, err := scene.ContentHash(scene.DomainInstance, inst.Name, inst.Assembly, inst.Container)
	if err != nil {
		return fmt.Errorf("record instance: %w", err)
	}
	return l.store.exec(ctx, "record instance", `
		INSERT INTO instances (session_id, name, assembly, container, transforms, content_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET
			assembly = excluded.assembly,
			container = excluded.container,
			transforms = excluded.transforms,
			content_id = excluded.content_id,
			seq = excluded.seq,
			removed_seq = NULL
	`, l.session, inst.Name, inst.Assembly, inst.Container, xf, cid, l.store.seq.Next())
}

// InstanceUpdated implements sink.Ledger.
func (l *SessionLedger) InstanceUpdated(ctx context.Context, name string, transforms []mgl64.Mat4) error {
	xf, err := marshalTransforms(transforms)
	if err != nil {
		return fmt.Errorf("record instance update: %w", err)
	}
	return l.store.exec(ctx, "record instance update", `
		UPDATE instances SET transforms = ?
		WHERE session_id = ? AND name = ?
	`, xf, l.session, name)
}

// InstanceRemoved implements sink.Ledger.
func (l *SessionLedger) InstanceRemoved(ctx context.Context, name string) error {
	return l.store.exec(ctx, "record instance removal", `
		UPDATE instances SET removed_seq = ?
		WHERE session_id = ? AND name = ? AND removed_seq IS NULL
	`, l.store.seq.Next(), l.session, name)
}

// ObjectPlaced implements sink.Ledger.
func (l *SessionLedger) ObjectPlaced(ctx context.Context, assembly, name string) error {
	return l.store.exec(ctx, "record object", `
		INSERT INTO objects (session_id, assembly, name, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, assembly, name) DO UPDATE SET
			seq = CASE WHEN removed_seq IS NULL THEN seq ELSE excluded.seq END,
			removed_seq = NULL
	`, l.session, assembly, name, l.store.seq.Next())
}

// ObjectRemoved implements sink.Ledger.
func (l *SessionLedger) ObjectRemoved(ctx context.Context, assembly, name string) error {
	return l.store.exec(ctx, "record object removal", `
		UPDATE objects SET removed_seq = ?
		WHERE session_id = ? AND assembly = ? AND name = ? AND removed_seq IS NULL
	`, l.store.seq.Next(), l.session, assembly, name)
}

func marshalTransforms(xf []mgl64.Mat4) (string, error) {
	if xf == nil {
		xf = []mgl64.Mat4{}
	}
	data, err := json.Marshal(xf)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Session is a recorded session.
type Session struct {
	ID     string `json:"id"`
	Mode   string `json:"mode"`
	Scene  string `json:"scene"`
	Camera string `json:"camera"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	State  string `json:"state"`
	Seq    int64  `json:"seq"`
}

// AssemblyRecord is a recorded assembly.
type AssemblyRecord struct {
	Name      string `json:"name"`
	Parent    string `json:"parent"`
	ContentID string `json:"content_id"`
	Seq       int64  `json:"seq"`
	Removed   bool   `json:"removed"`
}

// InstanceRecord is a recorded instance.
type InstanceRecord struct {
	Name       string       `json:"name"`
	Assembly   string       `json:"assembly"`
	Container  string       `json:"container"`
	Transforms []mgl64.Mat4 `json:"transforms"`
	ContentID  string       `json:"content_id"`
	Seq        int64        `json:"seq"`
	Removed    bool         `json:"removed"`
}

// ObjectRecord is a recorded object placement.
type ObjectRecord struct {
	Assembly string `json:"assembly"`
	Name     string `json:"name"`
	Seq      int64  `json:"seq"`
	Removed  bool   `json:"removed"`
}

// FrameRecord is a recorded frame outcome.
type FrameRecord struct {
	Frame  float64 `json:"frame"`
	Status string  `json:"status"`
	Steps  int     `json:"steps"`
	Error  string  `json:"error,omitempty"`
	Seq    int64   `json:"seq"`
}

// LatestSession returns the most recently recorded session.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, mode, scene, camera, width, height, state, seq
		FROM sessions
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`))
}

// ReadSession returns the session with the given id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, mode, scene, camera, width, height, state, seq
		FROM sessions WHERE id = ?
	`, id))
}

func (s *Store) scanSession(row *sql.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.Mode, &sess.Scene, &sess.Camera, &sess.Width, &sess.Height, &sess.State, &sess.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

// ReadAssemblies returns a session's assemblies ordered by seq. Removed
// assemblies are included only when includeRemoved is set.
func (s *Store) ReadAssemblies(ctx context.Context, sessionID string, includeRemoved bool) ([]AssemblyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, parent, content_id, seq, removed_seq IS NOT NULL
		FROM assemblies
		WHERE session_id = ? AND (? OR removed_seq IS NULL)
		ORDER BY seq ASC, name COLLATE BINARY ASC
	`, sessionID, includeRemoved)
	if err != nil {
		return nil, fmt.Errorf("query assemblies: %w", err)
	}
	defer rows.Close()

	out := []AssemblyRecord{}
	for rows.Next() {
		var r AssemblyRecord
		if err := rows.Scan(&r.Name, &r.Parent, &r.ContentID, &r.Seq, &r.Removed); err != nil {
			return nil, fmt.Errorf("scan assembly: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assemblies: %w", err)
	}
	return out, nil
}

// ReadInstances returns a session's instances ordered by seq.
func (s *Store) ReadInstances(ctx context.Context, sessionID string, includeRemoved bool) ([]InstanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, assembly, container, transforms, content_id, seq, removed_seq IS NOT NULL
		FROM instances
		WHERE session_id = ? AND (? OR removed_seq IS NULL)
		ORDER BY seq ASC, name COLLATE BINARY ASC
	`, sessionID, includeRemoved)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	out := []InstanceRecord{}
	for rows.Next() {
		var r InstanceRecord
		var xf string
		if err := rows.Scan(&r.Name, &r.Assembly, &r.Container, &xf, &r.ContentID, &r.Seq, &r.Removed); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		if err := json.Unmarshal([]byte(xf), &r.Transforms); err != nil {
			return nil, fmt.Errorf("decode transforms of %s: %w", r.Name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// ReadObjects returns a session's object placements ordered by seq.
func (s *Store) ReadObjects(ctx context.Context, sessionID string, includeRemoved bool) ([]ObjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assembly, name, seq, removed_seq IS NOT NULL
		FROM objects
		WHERE session_id = ? AND (? OR removed_seq IS NULL)
		ORDER BY seq ASC, assembly COLLATE BINARY ASC, name COLLATE BINARY ASC
	`, sessionID, includeRemoved)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	out := []ObjectRecord{}
	for rows.Next() {
		var r ObjectRecord
		if err := rows.Scan(&r.Assembly, &r.Name, &r.Seq, &r.Removed); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return out, nil
}

// ReadFrames returns a session's frame outcomes ordered by seq.
func (s *Store) ReadFrames(ctx context.Context, sessionID string) ([]FrameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, status, steps, error, seq
		FROM frames
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	out := []FrameRecord{}
	for rows.Next() {
		var r FrameRecord
		if err := rows.Scan(&r.Frame, &r.Status, &r.Steps, &r.Error, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}
	return out, nil
}

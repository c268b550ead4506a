package host

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scenebridge/internal/scene"
)

// Document is a YAML scene description loaded into a MemScene.
// The root node is implicit; Nodes are its children.
type Document struct {
	Name  string     `yaml:"name"`
	Nodes []NodeSpec `yaml:"nodes"`
}

// NodeSpec describes one node and its subtree.
type NodeSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Translate []float64 `yaml:"translate,omitempty"`
	Rotate    []float64 `yaml:"rotate,omitempty"` // degrees, xyz order
	Scale     []float64 `yaml:"scale,omitempty"`
	// Velocity is added to Translate per frame of the time cursor.
	Velocity []float64 `yaml:"velocity,omitempty"`

	Visible *bool `yaml:"visible,omitempty"`

	// InstanceOf makes this node a DAG instance of the named path.
	InstanceOf string `yaml:"instance_of,omitempty"`

	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Particles are only valid on instancer nodes.
	Particles []ParticleSpec `yaml:"particles,omitempty"`

	// Broken makes classification fail, emulating a node the host cannot
	// resolve.
	Broken bool `yaml:"broken,omitempty"`

	Children []NodeSpec `yaml:"children,omitempty"`
}

// ParticleSpec describes one particle of an instancer.
type ParticleSpec struct {
	Translate []float64 `yaml:"translate"`
	Velocity  []float64 `yaml:"velocity,omitempty"`
	Paths     []string  `yaml:"paths"`
}

// LoadDocument reads a scene document from path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes a scene document, rejecting unknown fields.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scene YAML: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return &doc, nil
}

// Validate checks names, kinds and vector lengths.
func (d *Document) Validate() error {
	seen := make(map[scene.NodeID]bool)
	for i := range d.Nodes {
		if err := d.Nodes[i].validate(scene.RootID, seen); err != nil {
			return err
		}
	}
	return nil
}

func (n *NodeSpec) validate(parent scene.NodeID, seen map[scene.NodeID]bool) error {
	if n.Name == "" {
		return fmt.Errorf("node under %s: name is required", parent)
	}
	id := parent.Child(n.Name)
	if seen[id] {
		return fmt.Errorf("%s: duplicate node", id)
	}
	seen[id] = true

	kind, err := n.kind()
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	for field, v := range map[string][]float64{
		"translate": n.Translate,
		"rotate":    n.Rotate,
		"scale":     n.Scale,
		"velocity":  n.Velocity,
	} {
		if v != nil && len(v) != 3 {
			return fmt.Errorf("%s: %s must have 3 components, got %d", id, field, len(v))
		}
	}
	if len(n.Particles) > 0 && kind != scene.KindInstancer {
		return fmt.Errorf("%s: particles are only valid on instancer nodes", id)
	}
	for i, p := range n.Particles {
		if len(p.Translate) != 3 {
			return fmt.Errorf("%s: particle %d: translate must have 3 components", id, i)
		}
		if p.Velocity != nil && len(p.Velocity) != 3 {
			return fmt.Errorf("%s: particle %d: velocity must have 3 components", id, i)
		}
	}
	for i := range n.Children {
		if err := n.Children[i].validate(id, seen); err != nil {
			return err
		}
	}
	return nil
}

func (n *NodeSpec) kind() (scene.Kind, error) {
	if n.Kind == "" {
		return scene.KindTransform, nil
	}
	return scene.ParseKind(n.Kind)
}

func vec3(v []float64, def [3]float64) [3]float64 {
	if len(v) != 3 {
		return def
	}
	return [3]float64{v[0], v[1], v[2]}
}

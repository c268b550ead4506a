package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentRejectsUnknownFields(t *testing.T) {
	_, err := ParseDocument([]byte(`
nodes:
  - name: a
    translat: [1, 2, 3]
`))
	assert.Error(t, err)
}

func TestParseDocumentValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "nodes:\n  - kind: mesh\n"},
		{"bad kind", "nodes:\n  - name: a\n    kind: nurbs\n"},
		{"short vector", "nodes:\n  - name: a\n    translate: [1, 2]\n"},
		{"duplicate", "nodes:\n  - name: a\n  - name: a\n"},
		{"particles on mesh", "nodes:\n  - name: a\n    kind: mesh\n    particles:\n      - translate: [0, 0, 0]\n        paths: [\"|b\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseDocumentEmpty(t *testing.T) {
	doc, err := ParseDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Nodes)
}

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSceneYAML), 0o644))

	doc, err := LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "test", doc.Name)
	assert.Len(t, doc.Nodes, 7)

	_, err = LoadDocument(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewMemSceneFromDocumentMissingOriginal(t *testing.T) {
	doc, err := ParseDocument([]byte("nodes:\n  - name: a\n    instance_of: \"|nope\"\n"))
	require.NoError(t, err)
	_, err = NewMemSceneFromDocument(doc)
	assert.ErrorIs(t, err, ErrNotFound)
}

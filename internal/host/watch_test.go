package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/scene"
)

func TestWatchAppliesFileEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSceneYAML), 0o644))

	s := newTestScene(t)
	rec := &recorder{}
	s.WatchStructure(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, s, nil) }()

	edited := testSceneYAML + "  - name: extra\n    kind: mesh\n"
	require.Eventually(t, func() bool {
		// Rewrite until the watcher has been installed and picked it up.
		_ = os.WriteFile(path, []byte(edited), 0o644)
		_, err := s.Classify("|extra")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	rec.mu.Lock()
	added := append([][2]scene.NodeID(nil), rec.added...)
	rec.mu.Unlock()
	assert.Contains(t, added, [2]scene.NodeID{"|extra", scene.RootID})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "scene.yaml"), NewMemScene(), nil)
	assert.Error(t, err)
}

package scene

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaGetReturnsCopy(t *testing.T) {
	a := NewArena()
	a.Put(&LiveObject{ID: "|cube", Kind: KindMesh, Transforms: []mgl64.Mat4{mgl64.Ident4()}})

	got, ok := a.Get("|cube")
	require.True(t, ok)
	got.Transforms[0] = mgl64.Translate3D(1, 2, 3)
	got.Kind = KindLight

	again, ok := a.Get("|cube")
	require.True(t, ok)
	assert.Equal(t, KindMesh, again.Kind)
	assert.Equal(t, mgl64.Ident4(), again.Transforms[0])
}

func TestArenaUpdateCreates(t *testing.T) {
	a := NewArena()
	a.Update("|cam", KindCamera, func(o *LiveObject) {
		o.Parent = RootID
	})

	got, ok := a.Get("|cam")
	require.True(t, ok)
	assert.Equal(t, KindCamera, got.Kind)
	assert.Equal(t, RootID, got.Parent)
	assert.True(t, got.Visible, "new objects default to visible")

	assert.False(t, a.Modify("|missing", func(o *LiveObject) {}))
}

func TestArenaChildrenAndDescendants(t *testing.T) {
	a := NewArena()
	a.Put(&LiveObject{ID: "|g", Kind: KindTransform, Parent: RootID})
	a.Put(&LiveObject{ID: "|g|b", Kind: KindMesh, Parent: "|g"})
	a.Put(&LiveObject{ID: "|g|a", Kind: KindMesh, Parent: "|g"})
	a.Put(&LiveObject{ID: "|g|gone", Kind: KindMesh, Parent: "|g", Removed: true})
	a.Put(&LiveObject{ID: "|g|a|x", Kind: KindOther, Parent: "|g|a"})

	children := a.ChildrenOf("|g")
	require.Len(t, children, 2)
	assert.Equal(t, NodeID("|g|a"), children[0].ID)
	assert.Equal(t, NodeID("|g|b"), children[1].ID)

	assert.Equal(t, []NodeID{"|g|a", "|g|a|x", "|g|b", "|g|gone"}, a.Descendants("|g"))
	assert.Equal(t, 5, a.Len())

	a.Delete("|g|gone")
	assert.False(t, a.Has("|g|gone"))
}

func TestArenaConcurrentReaders(t *testing.T) {
	a := NewArena()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Snapshot()
				a.Has("|x")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		a.Update("|x", KindMesh, func(o *LiveObject) {
			o.Transforms = append(o.Transforms, mgl64.Ident4())
		})
	}
	wg.Wait()

	got, ok := a.Get("|x")
	require.True(t, ok)
	assert.Len(t, got.Transforms, 100)
}

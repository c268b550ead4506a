package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblyName(t *testing.T) {
	assert.Equal(t, "world", AssemblyName(RootID))
	assert.Equal(t, "group1", AssemblyName("|group1"))
	assert.Equal(t, "group1/cube", AssemblyName("|group1|cube"))
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "group1_inst", InstanceName("group1", 0, 0))
	assert.Equal(t, "group1_inst_i2", InstanceName("group1", 2, 0))
	assert.Equal(t, "cube_inst#3", InstanceName("cube", 0, 3))
	assert.Equal(t, "cube_inst_i1#3", InstanceName("cube", 1, 3))
}

func TestParticleIDDeterministic(t *testing.T) {
	a := ParticleID("|inst", "|cube", 4)
	b := ParticleID("|inst", "|cube", 4)
	assert.Equal(t, a, b)
	assert.Equal(t, NodeID("|cube#4@|inst"), a)
	assert.NotEqual(t, a, ParticleID("|inst", "|cube", 5))
	assert.NotEqual(t, a, ParticleID("|inst2", "|cube", 4))
}

func TestContentHash(t *testing.T) {
	h1, err := ContentHash(DomainAssembly, "group1", "world")
	require.NoError(t, err)
	h2 := MustContentHash(DomainAssembly, "group1", "world")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")

	assert.NotEqual(t, h1, MustContentHash(DomainInstance, "group1", "world"),
		"different domains must produce different hashes")
	assert.NotEqual(t, h1, MustContentHash(DomainAssembly, "group1", "other"))
}

func TestLiveObjectHelpers(t *testing.T) {
	o := &LiveObject{ID: "|a", ParentCount: 2}
	assert.True(t, o.IsInstanced())
	assert.Equal(t, 1.0, o.CurrentTransform()[0])

	col := [3]float64{1, 0, 0}
	o.Color = &col
	c := o.Clone()
	c.Color[0] = 0.5
	assert.Equal(t, 1.0, o.Color[0])
}

func TestParticleInstanceName(t *testing.T) {
	assert.Equal(t, "cube_inst#2@inst1", ParticleInstanceName("cube", 2, "|inst1"))
	assert.NotEqual(t, ParticleInstanceName("cube", 2, "|inst1"), ParticleInstanceName("cube", 2, "|inst2"))
}

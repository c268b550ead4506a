package scene

import (
	"fmt"
	"strings"
)

// WorldAssembly is the name of the root assembly.
const WorldAssembly = "world"

// AssemblyName returns the deterministic assembly name owned by id.
func AssemblyName(id NodeID) string {
	if id.IsRoot() || id == "" {
		return WorldAssembly
	}
	return strings.ReplaceAll(strings.TrimPrefix(string(id), PathSeparator), PathSeparator, "/")
}

// InstanceName returns the name of the instance placing an assembly.
// dagIndex > 0 marks a DAG instance; particle > 0 marks a particle instance.
func InstanceName(assembly string, dagIndex, particle int) string {
	var b strings.Builder
	b.WriteString(assembly)
	b.WriteString("_inst")
	if dagIndex > 0 {
		fmt.Fprintf(&b, "_i%d", dagIndex)
	}
	if particle > 0 {
		fmt.Fprintf(&b, "#%d", particle)
	}
	return b.String()
}

// ObjectName returns the name a mesh is placed under inside its assembly.
func ObjectName(id NodeID) string {
	return AssemblyName(id)
}

// ParticleID derives the identity of the virtual object instancing original
// for particle p of instancer.
func ParticleID(instancer, original NodeID, p int) NodeID {
	return NodeID(fmt.Sprintf("%s#%d@%s", original, p, instancer))
}

// ParticleInstanceName names the instance placing an assembly for particle
// number n of instancer. The instancer suffix keeps two instancers sharing
// one template apart.
func ParticleInstanceName(assembly string, n int, instancer NodeID) string {
	return InstanceName(assembly, 0, n) + "@" + AssemblyName(instancer)
}

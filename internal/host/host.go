// Package host defines the live-scene provider consumed by scenebridge and
// ships MemScene, an in-memory provider driven by YAML scene documents.
//
// A LiveScene is externally mutable. Change notifications are one-shot: a
// subscription fires at most once and must be re-registered after the
// change has been acted on. Structural listeners (node added or removed)
// stay installed until their cancel function is called.
package host

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/roach88/scenebridge/internal/scene"
)

// ErrNotFound is returned for unknown nodes and missing attributes.
var ErrNotFound = errors.New("host: not found")

// Attribute names understood by the walker, the expander and the mapper.
const (
	AttrVisibility         = "visibility"
	AttrInstanceIndex      = "instanceIndex"
	AttrParentCount        = "parentCount"
	AttrInstanceOriginal   = "instanceOriginal"
	AttrAnimated           = "animated"
	AttrInstancerConnected = "instancerConnected"
	AttrLinkedObjects      = "linkedObjects"
	AttrParticleSource     = "particleSource"
	AttrRGBPP              = "rgbPP"
)

// Listener receives host notifications. Implementations must not call back
// into the LiveScene that notifies them.
type Listener interface {
	// NodeChanged fires once per registered subscription.
	NodeChanged(id scene.NodeID)
	// NodeAdded fires for the top node of every added subtree.
	NodeAdded(id, parent scene.NodeID)
	// NodeRemoved fires for every removed node, descendants first.
	NodeRemoved(id scene.NodeID)
}

// Subscription identifies a registered change notification.
type Subscription uint64

// ParticleInstance is one particle of an instancer at the current time.
type ParticleInstance struct {
	Index  int
	Matrix mgl64.Mat4
	// Paths are the template nodes this particle instances.
	Paths []scene.NodeID
}

// LiveScene is the live-scene provider.
type LiveScene interface {
	Root() scene.NodeID
	Children(id scene.NodeID) ([]scene.NodeID, error)
	Classify(id scene.NodeID) (scene.Kind, error)
	WorldTransform(id scene.NodeID) (mgl64.Mat4, error)

	RegisterChangeNotification(id scene.NodeID, l Listener) (Subscription, error)
	CancelNotification(sub Subscription)
	WatchStructure(l Listener) (cancel func())

	MoveTimeCursor(t float64)
	TimeCursor() float64

	QueryAttribute(id scene.NodeID, name string) (any, error)
	Instances(id scene.NodeID) ([]ParticleInstance, error)
}

// Package scene provides the foundational types shared by every scenebridge
// component: node identities, the closed Kind enum, live objects and the
// arena that owns them, motion steps, pending changes and the deterministic
// naming used for render-scene entities.
//
// This package imports nothing internal. All other internal packages import
// scene; scene imports none of them.
//
// Key design constraints:
//   - Objects never point at each other. Parent, original and assembly-parent
//     links are NodeIDs resolved through the Arena.
//   - Kind is produced once at classification time and matched exhaustively.
//   - Names derived from identities are stable across walks and processes.
package scene

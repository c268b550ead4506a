// Package store provides the SQLite ledger of scenebridge sessions.
//
// The ledger records, per session:
//   - Sessions: mode, scene, camera, resolution and last render state
//   - Assemblies, instances and objects created in the render-scene sink,
//     with the seq at which they were removed (tombstones, never deleted)
//   - Frames: one row per frame outcome (done, skipped, aborted)
//
// All ordering uses a logical seq, never timestamps, and every read orders
// by seq ASC then name, so two identical sessions produce identical reads.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: every row references its session
package store

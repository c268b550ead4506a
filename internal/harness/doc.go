// Package harness runs render scenarios end to end against the engine.
//
// A scenario names a scene document, optional render globals, a mode and,
// for interactive sessions, a list of edits applied to the live scene once
// the first render finished. The harness runs the real engine against a
// MemorySink and an in-memory ledger, then evaluates assertions on the
// sink's operation trace and the ledger tables.
//
// # Scenario Format
//
//	name: ipr_remove_shape
//	description: "Deleting a shape retires its object"
//	scene: scenes/basic.yaml
//	settings: settings/small.yaml
//	mode: interactive
//	fail_on:
//	  - op: render
//	    error: "project rejected"
//	    fatal: true
//	edits:
//	  - op: remove
//	    node: "|group1|sphere|sphereShape"
//	assertions:
//	  - type: sink_contains
//	    op: "remove_object group1/sphere/sphereShape in=group1/sphere"
//	  - type: render_state
//	    state: Stopped
//
// A fail_on entry with once: true fails only the first matching sink call.
// The pause and resume edits drive the IPR pause control; host edits made
// while paused are held until the resume, which is followed by one render.
//
// # Assertion Types
//
//   - sink_contains: the trace holds the exact operation
//   - sink_absent: the trace does not hold the operation
//   - sink_order: operations appear in the given order
//   - sink_count: exactly N operations start with prefix
//   - final_state: one ledger row matches where and holds expect
//   - render_state: the session ended in the given state
//   - error_contains: the session error contains the text
//
// # Deterministic Testing
//
// Every scenario runs with the fixed session id "test-session" (or the
// scenario's session_id) and a deterministic ledger clock, so batch traces
// and ledgers are byte-identical across runs and can be compared against
// golden files with RunWithGolden.
package harness

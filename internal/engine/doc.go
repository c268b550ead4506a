// Package engine implements the scenebridge render orchestrator.
//
// The engine sequences scene walk, motion-step iteration, render-scene
// population, render invocation and tile callbacks for every frame, and in
// interactive mode applies the IPR tracker's batches between render passes.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All translation and every sink call happen on the Run goroutine. This
// ensures:
// - The assembly mapper needs no lock on the sink
// - A frame is fully translated before its render starts
// - The sink is never mutated while a render is reading it
//
// Event Processing Flow:
// 1. Public methods, the render goroutine and the IPR forwarder enqueue
// 2. Engine.Run dequeues events one at a time
// 3. processEvent routes to the handler for the event type
// 4. Handlers translate, start renders, or tear the session down
//
// Goroutines:
// - the loop (Run)
// - at most one render goroutine, blocked in Sink.Render
// - in interactive mode, the tracker resolver and the batch forwarder
// - host notification goroutines, which only reach the tracker
//
// CRITICAL PATTERNS:
//
// Cooperative Abort:
// Interrupting a render only sets the Controller's Abort status. The loop
// joins the render goroutine before it touches the sink again, and a
// render superseded by an IPR batch has its FrameDone event ignored.
//
// Logical Clock:
// Every event and ledger row is stamped from one Clock. Wall-clock time is
// never used for ordering.
//
// Error Taxonomy:
// A FrameError skips the frame; errors wrapping sink.ErrSessionFatal end
// the session and are returned from Wait.
package engine

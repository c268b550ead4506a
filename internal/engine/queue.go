package engine

import (
	"sync"

	"github.com/roach88/scenebridge/internal/sink"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventInitRender starts a session: sink init, crop window, pipeline.
	EventInitRender EventType = iota + 1
	// EventFrameRender translates and renders the next frame.
	EventFrameRender
	// EventFrameDone reports that the render goroutine returned.
	EventFrameDone
	// EventRenderDone ends the session and releases the sink.
	EventRenderDone
	// EventInterrupt aborts the running render.
	EventInterrupt
	// EventAddCallbacks installs the IPR change callbacks.
	EventAddCallbacks
	// EventUpdateUI carries a finished tile.
	EventUpdateUI
	// EventPreTile announces a tile about to be rendered.
	EventPreTile
	// EventIPRUpdate reports that the tracker has a batch ready.
	EventIPRUpdate
	// EventUpdateRegion changes the crop window.
	EventUpdateRegion
	// EventPauseIPR pauses or resumes change resolution.
	EventPauseIPR
	// EventStopIPR ends an interactive session.
	EventStopIPR
)

var eventNames = map[EventType]string{
	EventInitRender:   "init_render",
	EventFrameRender:  "frame_render",
	EventFrameDone:    "frame_done",
	EventRenderDone:   "render_done",
	EventInterrupt:    "interrupt",
	EventAddCallbacks: "add_callbacks",
	EventUpdateUI:     "update_ui",
	EventPreTile:      "pre_tile",
	EventIPRUpdate:    "ipr_update",
	EventUpdateRegion: "update_region",
	EventPauseIPR:     "pause_ipr",
	EventStopIPR:      "stop_ipr",
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one message for the orchestration loop. Only the fields of its
// Type are set.
type Event struct {
	Type EventType
	Seq  int64

	Region sink.Rect
	Pixels []float32
	Paused bool

	// Frame and Err are set on EventFrameDone and EventRenderDone.
	Frame float64
	Err   error

	gen uint64
	job *job
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so the render goroutine's tile events never block
// the render. The loop is the only consumer; the render goroutine, the IPR
// forwarder and public Engine methods produce.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// CRITICAL: clear the slot so tile pixel buffers can be collected.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued and wakes the loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

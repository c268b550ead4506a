package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsWhereAsked(t *testing.T) {
	assert.Equal(t, int64(0), NewClock().Current())
	assert.Equal(t, int64(100), NewClockAt(100).Current())
}

func TestClock_NextIsUniqueAcrossGoroutines(t *testing.T) {
	c := NewClock()
	const goroutines, perGoroutine = 10, 100

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				v := c.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, int64(goroutines*perGoroutine), c.Current())
}

func TestEnqueueStampsIncreasingSeq(t *testing.T) {
	e := &Engine{clock: NewClockAt(41), queue: newEventQueue()}
	e.enqueue(Event{Type: EventFrameRender})
	e.enqueue(Event{Type: EventFrameRender})

	first, _ := e.queue.TryDequeue()
	second, _ := e.queue.TryDequeue()
	assert.Equal(t, int64(42), first.Seq)
	assert.Equal(t, int64(43), second.Seq)
}

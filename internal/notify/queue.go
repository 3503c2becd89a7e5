package notify

import (
	"sync"
	"time"
)

// Sink receives scheduled unlock toast events. The bridge session is
// the production sink; tests substitute their own.
type Sink interface {
	ShowUnlock(title string)
	DismissUnlock(title string)
}

// Queue staggers simultaneous unlock results into a timed display
// sequence. Starts are spaced by the stagger interval and each toast
// dismisses after the visible duration, so two unlocks are never shown
// at once as long as visible < interval. Pure presentation scheduling;
// nothing is persisted.
type Queue struct {
	sink     Sink
	interval time.Duration
	visible  time.Duration

	mu        sync.Mutex
	timers    []*time.Timer
	nextStart time.Time
	stopped   bool
}

// NewQueue creates a notification queue for one page session
func NewQueue(sink Sink, interval, visible time.Duration) *Queue {
	return &Queue{
		sink:     sink,
		interval: interval,
		visible:  visible,
	}
}

// Enqueue schedules a toast for each title. Titles queued while a
// sequence is still draining are appended after the last scheduled
// start.
func (q *Queue) Enqueue(titles ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}

	now := time.Now()
	if q.nextStart.Before(now) {
		q.nextStart = now
	}

	for _, title := range titles {
		title := title
		delay := q.nextStart.Sub(now)
		q.timers = append(q.timers,
			time.AfterFunc(delay, func() { q.sink.ShowUnlock(title) }),
			time.AfterFunc(delay+q.visible, func() { q.sink.DismissUnlock(title) }),
		)
		q.nextStart = q.nextStart.Add(q.interval)
	}
}

// Stop cancels every outstanding toast timer. Called on session
// teardown so no display callbacks fire after the page is gone.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	for _, timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
}

package queue

import (
	"sync"

	"github.com/kimvales/vaultsync/internal/task"
)

// Event carries a task lifecycle outcome. The embedded task is a clone;
// subscribers may inspect it freely.
type Event struct {
	Task *task.Task
	Err  error
}

// Handler consumes queue events. Handlers run on their own goroutine and
// must not assume any ordering relative to other handlers.
type Handler func(Event)

// eventRegistry is a typed callback registry with unsubscribe handles.
// Emission never blocks the emitter.
type eventRegistry struct {
	mu        sync.Mutex
	nextID    int
	completed map[int]Handler
	failed    map[int]Handler
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{
		completed: make(map[int]Handler),
		failed:    make(map[int]Handler),
	}
}

func (r *eventRegistry) subscribe(m map[int]Handler, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	m[id] = h
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(m, id)
		r.mu.Unlock()
	}
}

func (r *eventRegistry) emit(m map[int]Handler, ev Event) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(m))
	for _, h := range m {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		go h(ev)
	}
}

func (r *eventRegistry) emitCompleted(ev Event) { r.emit(r.completed, ev) }
func (r *eventRegistry) emitFailed(ev Event)    { r.emit(r.failed, ev) }

// OnTaskCompleted registers a handler for successfully written tasks.
// The returned function unsubscribes the handler.
func (q *TaskQueue) OnTaskCompleted(h Handler) func() {
	return q.events.subscribe(q.events.completed, h)
}

// OnTaskFailed registers a handler for terminally failed tasks.
// The returned function unsubscribes the handler.
func (q *TaskQueue) OnTaskFailed(h Handler) func() {
	return q.events.subscribe(q.events.failed, h)
}

package player

import "sync"

type Event string

const (
	EventSeek         Event = "seek"
	EventStep         Event = "step"
	EventRestarted    Event = "restarted"
	EventStateChanged Event = "state_changed"
)

type StateListener func(State)

// EventListener receives edge-triggered events. value is the absolute
// position for seek and state_changed, the applied delta for step and zero
// for restarted.
type EventListener func(event Event, value float64)

type listenerSet[T any] struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]T
	order  []uint64
}

func (l *listenerSet[T]) add(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byID == nil {
		l.byID = map[uint64]T{}
	}
	l.nextID++
	id := l.nextID
	l.byID[id] = fn
	l.order = append(l.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.byID, id)
			for i, existing := range l.order {
				if existing == id {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (l *listenerSet[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

func (l *listenerSet[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID = map[uint64]T{}
	l.order = nil
}

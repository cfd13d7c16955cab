package registry

import (
	"sync"
	"time"

	"go2tv.app/tvlink/internal/protocol"
)

// Handle is the registry's view of a live peer connection.
type Handle interface {
	Send(msg protocol.Message) error
	Close() error
}

type Record struct {
	ConnectionID string
	Handle       Handle
	ConnectedAt  time.Time
}

// Registry maps connection ids to live handles. It is safe for concurrent
// use from every connection goroutine.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		records: map[string]Record{},
		now:     time.Now,
	}
}

func (r *Registry) Add(id string, handle Handle) Record {
	rec := Record{ConnectionID: id, Handle: handle, ConnectedAt: r.now()}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return rec
}

// Remove deletes id; unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.Handle, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// ForEach calls fn for a snapshot of the registered records, so fn may add or
// remove entries.
func (r *Registry) ForEach(fn func(Record)) {
	for _, rec := range r.snapshot() {
		fn(rec)
	}
}

// Broadcast sends msg to every registered handle and returns the number of
// successful sends. Failed sends are reported through onError when it is set.
func (r *Registry) Broadcast(msg protocol.Message, onError func(id string, err error)) int {
	sent := 0
	r.ForEach(func(rec Record) {
		if err := rec.Handle.Send(msg); err != nil {
			if onError != nil {
				onError(rec.ConnectionID, err)
			}
			return
		}
		sent++
	})
	return sent
}

func (r *Registry) snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

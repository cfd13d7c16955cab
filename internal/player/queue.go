package player

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Item struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Live  bool   `json:"live,omitempty"`
}

// Queue is a FIFO of sources waiting to be played.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add appends item, assigning an id when it has none, and returns the stored item.
func (q *Queue) Add(item Item) Item {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return item
}

func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the queue and returns how many items were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) Next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item{}, q.items...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

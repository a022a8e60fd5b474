package trace

import "sync"

// Hub is a Publisher that fans stage records out to per-query
// subscribers. Queries without a subscriber publish into the void, so
// the hub costs nothing unless someone is watching.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan StageRecord
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan StageRecord)}
}

// Subscribe registers interest in one query's stage records. The
// returned channel is buffered; events are dropped if the subscriber
// lags. Callers must Unsubscribe when done.
func (h *Hub) Subscribe(queryID string) chan StageRecord {
	ch := make(chan StageRecord, 16)
	h.mu.Lock()
	h.subs[queryID] = append(h.subs[queryID], ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (h *Hub) Unsubscribe(queryID string, ch chan StageRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chans := h.subs[queryID]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(chans) == 0 {
		delete(h.subs, queryID)
	} else {
		h.subs[queryID] = chans
	}
}

// Publish delivers a record to the query's subscribers without blocking.
func (h *Hub) Publish(queryID string, rec StageRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[queryID] {
		select {
		case ch <- rec:
		default:
		}
	}
}

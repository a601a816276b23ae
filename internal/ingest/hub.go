package ingest

import (
	"sync"
	"time"

	"fingerviz/internal/sensor"
)

// Batch is one published group of updates, usually all sensors from a line.
type Batch struct {
	At      time.Time       `json:"at"`
	Updates []sensor.Update `json:"updates"`
}

// Hub fans published batches out to subscribers (web sockets, UDP, MQTT,
// alarm). Slow subscribers miss batches; Publish never blocks.
type Hub struct {
	mu       sync.RWMutex
	subs     map[int]chan Batch
	nextID   int
	last     Batch
	haveLast bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Batch)}
}

// Subscribe registers a listener. The most recent batch, if any, is delivered
// immediately.
func (h *Hub) Subscribe(buffer int) (int, <-chan Batch) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Batch, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	last := h.last
	have := h.haveLast
	h.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(b Batch) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.last = b
	h.haveLast = true
	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

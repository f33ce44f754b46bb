package server

import (
	"sync"

	"roverscope.com/camserver/frame"
)

// CircularBuffer keeps the records of the most recently stored frames.
// Once full, each Add evicts the oldest record.
type CircularBuffer struct {
	mu      sync.Mutex
	records []frame.Record
	start   int
	count   int
}

func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CircularBuffer{records: make([]frame.Record, capacity)}
}

func (cb *CircularBuffer) Add(rec frame.Record) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	capacity := len(cb.records)
	cb.records[(cb.start+cb.count)%capacity] = rec
	if cb.count < capacity {
		cb.count++
		return
	}
	cb.start = (cb.start + 1) % capacity
}

// GetAll returns a copy of the kept records, oldest first.
func (cb *CircularBuffer) GetAll() []frame.Record {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]frame.Record, 0, cb.count)
	for i := range cb.count {
		out = append(out, cb.records[(cb.start+i)%len(cb.records)])
	}
	return out
}

func (cb *CircularBuffer) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.count
}

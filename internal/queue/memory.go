package queue

import (
	"context"
	"strconv"
	"sync"
)

// MemoryQueue is an in-process queue with redelivery until deleted.
type MemoryQueue struct {
	mu       sync.Mutex
	seq      int
	pending  []*memoryItem
	inFlight map[string]*memoryItem
}

type memoryItem struct {
	id       string
	body     string
	receives int
}

// NewMemoryQueue constructs an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inFlight: make(map[string]*memoryItem)}
}

// Send enqueues a message.
func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.pending = append(q.pending, &memoryItem{id: "mem-" + strconv.Itoa(q.seq), body: string(payload)})
	return nil
}

// Receive returns up to max pending messages without blocking.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 {
		max = 10
	}
	var out []Delivery
	for len(q.pending) > 0 && len(out) < max {
		item := q.pending[0]
		q.pending = q.pending[1:]
		item.receives++
		receipt := item.id + "-" + strconv.Itoa(item.receives)
		q.inFlight[receipt] = item
		out = append(out, Delivery{MessageID: item.id, ReceiptHandle: receipt, Body: item.body, ReceiveCount: item.receives})
	}
	return out, nil
}

// Delete acknowledges a delivery.
func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, receiptHandle)
	return nil
}

// Release returns unacknowledged deliveries to the queue, as a visibility timeout would.
func (q *MemoryQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for receipt, item := range q.inFlight {
		q.pending = append(q.pending, item)
		delete(q.inFlight, receipt)
	}
}

// Len reports pending plus in-flight messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inFlight)
}

var (
	_ Client   = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)

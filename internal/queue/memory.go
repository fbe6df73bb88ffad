package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// DefaultRedeliveryDelay is the wait before a nacked message is visible
	// again; it doubles per receive up to MaxRedeliveryDelay.
	DefaultRedeliveryDelay = 500 * time.Millisecond
	MaxRedeliveryDelay     = 30 * time.Second
)

// Memory is an in-process queue over a buffered channel, used in dev and tests.
type Memory struct {
	ch       chan memoryItem
	pollWait time.Duration
	seq      atomic.Int64

	redeliveryDelay time.Duration
	delayed         atomic.Int64
}

type memoryItem struct {
	id       string
	body     []byte
	received int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		ch:              make(chan memoryItem, capacity),
		pollWait:        time.Second,
		redeliveryDelay: DefaultRedeliveryDelay,
	}
}

// SetRedeliveryDelay changes the base wait before nacked messages return;
// zero redelivers immediately.
func (q *Memory) SetRedeliveryDelay(d time.Duration) {
	q.redeliveryDelay = max(d, 0)
}

func (q *Memory) backoff(received int) time.Duration {
	delay := q.redeliveryDelay
	for i := 1; i < received && delay < MaxRedeliveryDelay; i++ {
		delay *= 2
	}
	return min(delay, MaxRedeliveryDelay)
}

func (q *Memory) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return q.push(ctx, memoryItem{id: strconv.FormatInt(q.seq.Add(1), 10), body: payload})
}

func (q *Memory) push(ctx context.Context, item memoryItem) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("memory queue full")
	}
}

// Len reports undelivered messages, including nacked ones still waiting to
// become visible.
func (q *Memory) Len() int {
	return len(q.ch) + int(q.delayed.Load())
}

func (q *Memory) Receive(ctx context.Context) ([]Delivery, error) {
	timer := time.NewTimer(q.pollWait)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		item.received++
		return []Delivery{&memoryDelivery{q: q, item: item}}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryDelivery struct {
	q    *Memory
	item memoryItem
}

func (d *memoryDelivery) ID() string        { return d.item.id }
func (d *memoryDelivery) Body() []byte      { return d.item.body }
func (d *memoryDelivery) ReceiveCount() int { return d.item.received }

func (d *memoryDelivery) Ack(context.Context) error { return nil }

// Nack makes the message visible again after a backoff that grows with its
// receive count.
func (d *memoryDelivery) Nack(ctx context.Context) error {
	delay := d.q.backoff(d.item.received)
	if delay <= 0 {
		return d.q.push(ctx, d.item)
	}
	d.q.delayed.Add(1)
	d.q.redeliverAfter(delay, d.item)
	return nil
}

func (q *Memory) redeliverAfter(delay time.Duration, item memoryItem) {
	time.AfterFunc(delay, func() {
		if err := q.push(context.Background(), item); err != nil {
			// full; try again rather than lose the message
			q.redeliverAfter(q.redeliveryDelay+time.Millisecond, item)
			return
		}
		q.delayed.Add(-1)
	})
}

var (
	_ Client   = (*Memory)(nil)
	_ Consumer = (*Memory)(nil)
)

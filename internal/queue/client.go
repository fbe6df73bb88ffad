package queue

import "context"

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is one received message. Exactly one of Ack or Nack should be
// called: Ack removes it, Nack makes it visible again for redelivery.
type Delivery interface {
	ID() string
	Body() []byte
	ReceiveCount() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// Consumer receives batches of deliveries, blocking up to the backend's poll
// interval. An empty batch with a nil error means the poll timed out.
type Consumer interface {
	Receive(ctx context.Context) ([]Delivery, error)
}

package queue

import "context"

// Client enqueues job messages. Services hold a nil Client when no queue is
// configured and run work in-process instead.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Consumer is the receiving side used by the long-running worker.
type Consumer interface {
	Receive(ctx context.Context, max int32, wait int32) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
)

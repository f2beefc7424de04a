// Package broker implements the Broker Connection Core (C8): a bounded
// connection pool with a per-connection channel sub-pool, lazy pool
// initialization, a health-check loop, and backoff-bounded reconnection.
// It is written against the Transport interface below so the pool/health
// logic never imports an AMQP client directly; internal/amqp supplies the
// concrete implementation.
package broker

import "context"

// Connection is a single broker connection.
type Connection interface {
	Channel(ctx context.Context) (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is a single channel opened on a Connection.
type Channel interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}

// Delivery is a single consumed message.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Transport opens new broker connections and can be health-probed.
type Transport interface {
	Connect(ctx context.Context) (Connection, error)
	HealthCheck(ctx context.Context, conn Connection) error
}

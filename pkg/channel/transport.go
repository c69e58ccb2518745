package channel

import (
	"context"

	"github.com/zeusync/topicrpc/pkg/wire"
)

// Transport is the broker boundary a Channel publishes to and consumes from.
//
// Queues are bound to a topic exchange. A queue declared with Declare is bound
// to the routing key equal to its own name; further patterns are added with
// Bind. Patterns are dot separated words where "*" matches exactly one word and
// "#" matches zero or more.
type Transport interface {
	// Publish routes msg with the given routing key. It does not wait for
	// acknowledgement.
	Publish(ctx context.Context, topic string, msg *wire.Message) error
	// Consume returns the next message from any declared queue. Received
	// messages carry the routing key as Topic and the consumer tag of their
	// queue as SubscriptionID. A message that is already available is
	// returned even when ctx is done.
	Consume(ctx context.Context) (*wire.Message, error)

	Declare(queue, consumerTag string) error
	Bind(queue, pattern string) error
	Unbind(queue, pattern string) error
	Delete(queue string) error

	Close() error
}

package amqp

import (
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/zeusync/topicrpc/pkg/wire"
)

// Timestamps are written as raw milliseconds for compatibility with existing
// peers. Values below this bound are read as seconds.
const millisecondThreshold = 100_000_000_000

func toPublishing(msg *wire.Message) (amqp091.Publishing, error) {
	props, err := wire.ToProperties(msg)
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		Headers:       amqp091.Table(props.Headers),
		ContentType:   props.ContentType,
		CorrelationId: props.CorrelationID,
		ReplyTo:       props.ReplyTo,
		Expiration:    props.Expiration,
		Timestamp:     time.Unix(props.Timestamp, 0),
		Body:          msg.Body,
	}, nil
}

func fromDelivery(d amqp091.Delivery) (*wire.Message, error) {
	props := wire.Properties{
		ContentType:   d.ContentType,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Expiration:    d.Expiration,
		Headers:       map[string]any(d.Headers),
	}
	if !d.Timestamp.IsZero() {
		raw := d.Timestamp.Unix()
		if raw < millisecondThreshold {
			raw *= 1000
		}
		props.Timestamp = raw
	}
	return wire.FromProperties(d.RoutingKey, d.ConsumerTag, d.Body, props)
}

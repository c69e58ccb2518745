package wire

import (
	"maps"
	"strconv"
	"time"
)

// Metadata keys with a fixed meaning on the wire.
const (
	HeaderStatus = "rpc-status"
)

// Properties is the broker-neutral form of the message envelope fields that
// travel outside the body.
type Properties struct {
	ContentType   string         `json:"content_type,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
	Expiration    string         `json:"expiration,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Headers       map[string]any `json:"headers,omitempty"`
}

// ToProperties maps msg onto wire properties. The status, when present, is
// serialized into the rpc-status header; msg itself is left untouched.
func ToProperties(msg *Message) (Properties, error) {
	props := Properties{
		ContentType: string(msg.contentType),
		ReplyTo:     msg.replyTo,
		Timestamp:   msg.CreatedAt.UnixMilli(),
		Headers:     maps.Clone(msg.Metadata),
	}
	if props.Headers == nil {
		props.Headers = make(map[string]any)
	}
	if msg.hasCorrelationID {
		props.CorrelationID = FormatCorrelationID(msg.correlationID)
	}
	if msg.hasTimeout {
		props.Expiration = strconv.FormatInt(ceilMilliseconds(msg.timeout), 10)
	}
	if msg.Status != nil {
		encoded, err := EncodeStatus(*msg.Status)
		if err != nil {
			return Properties{}, err
		}
		props.Headers[HeaderStatus] = encoded
	}
	return props, nil
}

// FromProperties rebuilds a message received on topic through the
// subscription identified by subscriptionID.
func FromProperties(topic, subscriptionID string, body []byte, props Properties) (*Message, error) {
	msg := NewMessage()
	msg.Topic = topic
	msg.SubscriptionID = subscriptionID
	msg.Body = body

	if props.ContentType != "" {
		if err := msg.SetContentType(ContentType(props.ContentType)); err != nil {
			return nil, err
		}
	}
	if props.CorrelationID != "" {
		id, err := ParseCorrelationID(props.CorrelationID)
		if err != nil {
			return nil, err
		}
		msg.SetCorrelationID(id)
	}
	if props.ReplyTo != "" {
		msg.replyTo = props.ReplyTo
	}
	if props.Expiration != "" {
		ms, err := strconv.ParseInt(props.Expiration, 10, 64)
		if err != nil {
			return nil, Validationf("invalid expiration %q", props.Expiration)
		}
		if err := msg.SetTimeout(time.Duration(ms) * time.Millisecond); err != nil {
			return nil, err
		}
	}
	if props.Timestamp != 0 {
		msg.CreatedAt = time.UnixMilli(props.Timestamp)
	}

	headers := maps.Clone(props.Headers)
	if raw, ok := headers[HeaderStatus]; ok {
		delete(headers, HeaderStatus)
		encoded, ok := raw.(string)
		if !ok {
			if b, isBytes := raw.([]byte); isBytes {
				encoded, ok = string(b), true
			}
		}
		if !ok {
			return nil, Validationf("rpc-status header must be a string, got %T", raw)
		}
		status, err := DecodeStatus(encoded)
		if err != nil {
			return nil, err
		}
		msg.Status = &status
	}
	if headers != nil {
		msg.Metadata = headers
	}
	return msg, nil
}

// ceilMilliseconds rounds d up so a positive timeout never goes out as zero.
func ceilMilliseconds(d time.Duration) int64 {
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

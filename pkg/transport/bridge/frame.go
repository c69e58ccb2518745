// Package bridge gives remote processes access to an in-process
// memory.Broker. Frames are CBOR encoded and travel as binary WebSocket
// messages or as length prefixed records on a QUIC stream.
package bridge

import (
	"github.com/zeusync/topicrpc/pkg/wire"
)

type Op string

const (
	OpPublish Op = "publish"
	OpDeclare Op = "declare"
	OpBind    Op = "bind"
	OpUnbind  Op = "unbind"
	OpDelete  Op = "delete"
	// OpResult answers a control frame carrying the same Seq.
	OpResult Op = "result"
	// OpDeliver carries a message routed to one of the session's queues.
	OpDeliver Op = "deliver"
)

// Frame is the unit exchanged between bridge peers. Control frames (declare,
// bind, unbind, delete) carry a Seq and are answered by a result frame;
// publish and deliver frames are not acknowledged.
type Frame struct {
	Op      Op     `cbor:"op"`
	Seq     uint64 `cbor:"seq,omitempty"`
	Queue   string `cbor:"queue,omitempty"`
	Tag     string `cbor:"tag,omitempty"`
	Pattern string `cbor:"pattern,omitempty"`

	Topic          string           `cbor:"topic,omitempty"`
	SubscriptionID string           `cbor:"subscription_id,omitempty"`
	Properties     *wire.Properties `cbor:"properties,omitempty"`
	Body           []byte           `cbor:"body,omitempty"`

	Code  wire.ErrorCode `cbor:"code,omitempty"`
	Error string         `cbor:"error,omitempty"`
}

var frameCodec = wire.MustCBORCodec()

func encodeFrame(f *Frame) ([]byte, error) {
	return frameCodec.Marshal(f)
}

func decodeFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := frameCodec.Unmarshal(data, f); err != nil {
		return nil, wire.MalformedPayload("bridge frame", err)
	}
	return f, nil
}

// messageFrame packs msg for transmission under op.
func messageFrame(op Op, topic string, msg *wire.Message) (*Frame, error) {
	props, err := wire.ToProperties(msg)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Op:             op,
		Topic:          topic,
		SubscriptionID: msg.SubscriptionID,
		Properties:     &props,
		Body:           msg.Body,
	}, nil
}

func (f *Frame) message() (*wire.Message, error) {
	var props wire.Properties
	if f.Properties != nil {
		props = *f.Properties
	}
	return wire.FromProperties(f.Topic, f.SubscriptionID, f.Body, props)
}

// resultFrame answers the control frame seq with err.
func resultFrame(seq uint64, err error) *Frame {
	f := &Frame{Op: OpResult, Seq: seq}
	if err != nil {
		f.Code = wire.GetErrorCode(err)
		f.Error = err.Error()
	}
	return f
}

func (f *Frame) err() error {
	if f.Error == "" {
		return nil
	}
	return wire.NewError(f.Code, f.Error, nil)
}

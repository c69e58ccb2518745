package wire

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ReplyEndpoint is anything a reply can be addressed to, typically a
// channel.Subscription.
type ReplyEndpoint interface {
	Name() string
	ID() string
}

// Message is the envelope exchanged over a transport. A Message is owned by a
// single goroutine at a time; transports clone it before handing it to another
// consumer.
type Message struct {
	Topic string
	Body  []byte
	// SubscriptionID identifies the local subscription a received message
	// arrived on.
	SubscriptionID string
	CreatedAt      time.Time
	// Status is set on replies only.
	Status   *Status
	Metadata map[string]any

	contentType      ContentType
	correlationID    uint64
	hasCorrelationID bool
	replyTo          string
	timeout          time.Duration
	hasTimeout       bool
}

func NewMessage() *Message {
	return &Message{
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// NewRequest builds a message to topic whose body packs v with ct.
func NewRequest(topic string, ct ContentType, v any) (*Message, error) {
	msg := NewMessage()
	msg.Topic = topic
	if ct != "" {
		if err := msg.SetContentType(ct); err != nil {
			return nil, err
		}
	}
	if v != nil {
		if err := msg.Pack(v); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (m *Message) ContentType() ContentType { return m.contentType }

func (m *Message) HasContentType() bool { return m.contentType != "" }

func (m *Message) SetContentType(ct ContentType) error {
	if ct != "" && !KnownContentType(ct) {
		return UnsupportedContentType(ct)
	}
	m.contentType = ct
	return nil
}

func (m *Message) CorrelationID() uint64 { return m.correlationID }

func (m *Message) HasCorrelationID() bool { return m.hasCorrelationID }

func (m *Message) SetCorrelationID(id uint64) {
	m.correlationID = id
	m.hasCorrelationID = true
}

func (m *Message) ReplyTo() string { return m.replyTo }

func (m *Message) HasReplyTo() bool { return m.replyTo != "" }

// SetReplyTo sets the reply topic and assigns a correlation id when none is
// present yet.
func (m *Message) SetReplyTo(topic string) {
	if !m.hasCorrelationID {
		m.SetCorrelationID(NewCorrelationID())
	}
	m.replyTo = topic
}

// SetReplySubscription addresses replies to ep and records its id so the
// reply can be matched to the subscription it will arrive on.
func (m *Message) SetReplySubscription(ep ReplyEndpoint) {
	m.SetReplyTo(ep.Name())
	m.SubscriptionID = ep.ID()
}

// Timeout returns the request timeout and whether one is set.
func (m *Message) Timeout() (time.Duration, bool) { return m.timeout, m.hasTimeout }

func (m *Message) HasTimeout() bool { return m.hasTimeout }

func (m *Message) SetTimeout(d time.Duration) error {
	if d < 0 {
		return Validationf("timeout must not be negative, got %s", d)
	}
	m.timeout = d
	m.hasTimeout = true
	return nil
}

func (m *Message) ClearTimeout() {
	m.timeout = 0
	m.hasTimeout = false
}

func (m *Message) Deadline() (time.Time, bool) {
	return Deadline(m.CreatedAt, m.timeout, m.hasTimeout)
}

func (m *Message) DeadlineExceeded(now time.Time) bool {
	return DeadlineExceeded(m.CreatedAt, m.timeout, m.hasTimeout, now)
}

func (m *Message) HasStatus() bool { return m.Status != nil }

func (m *Message) SetStatus(s Status) {
	m.Status = &s
}

// MetadataString returns a metadata value when it is a string.
func (m *Message) MetadataString(key string) (string, bool) {
	v, ok := m.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *Message) SetMetadata(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// CreateReply returns a message addressed to the reply topic carrying the
// request's correlation id and content type.
func (m *Message) CreateReply() *Message {
	reply := NewMessage()
	reply.Topic = m.replyTo
	if m.hasCorrelationID {
		reply.SetCorrelationID(m.correlationID)
	}
	reply.contentType = m.contentType
	return reply
}

// Pack encodes v into the body. Protobuf is used and recorded when no content
// type is set.
func (m *Message) Pack(v any) error {
	if m.contentType == "" {
		m.contentType = ContentTypeProtobuf
	}
	codec, err := CodecFor(m.contentType)
	if err != nil {
		return err
	}
	body, err := codec.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "pack %T as %s", v, m.contentType)
	}
	m.Body = body
	return nil
}

// Unpack decodes the body into v. Decode failures are ErrMalformedPayload
// errors.
func (m *Message) Unpack(v any) error {
	if m.contentType == "" {
		m.contentType = ContentTypeProtobuf
	}
	codec, err := CodecFor(m.contentType)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(m.Body, v); err != nil {
		return MalformedPayload(SchemaFor(v).Name(), err)
	}
	return nil
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Body = slices.Clone(m.Body)
	c.Metadata = maps.Clone(m.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	if m.Status != nil {
		s := *m.Status
		c.Status = &s
	}
	return &c
}

func (m *Message) String() string {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  topic = '%s'\n", m.Topic)
	fmt.Fprintf(&b, "  created_at = %s\n", m.CreatedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  correlation_id = %s\n", m.correlationString())
	fmt.Fprintf(&b, "  reply_to = '%s'\n", m.replyTo)
	fmt.Fprintf(&b, "  subscription_id = '%s'\n", m.SubscriptionID)
	fmt.Fprintf(&b, "  timeout = %s\n", m.timeoutString())
	fmt.Fprintf(&b, "  status = %s\n", m.statusString())
	fmt.Fprintf(&b, "  metadata = %v\n", m.Metadata)
	fmt.Fprintf(&b, "  content_type = %s\n", m.contentType)
	fmt.Fprintf(&b, "  body[%d] = %q\n", len(m.Body), m.Body)
	b.WriteString("}")
	return b.String()
}

// ShortString is a single line form that leaves out unset fields.
func (m *Message) ShortString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{topic='%s' created_at=%s", m.Topic, m.CreatedAt.Format(time.RFC3339Nano))
	if m.hasCorrelationID {
		fmt.Fprintf(&b, " correlation_id=%s", FormatCorrelationID(m.correlationID))
	}
	if m.replyTo != "" {
		fmt.Fprintf(&b, " reply_to='%s'", m.replyTo)
	}
	if m.SubscriptionID != "" {
		fmt.Fprintf(&b, " subscription_id='%s'", m.SubscriptionID)
	}
	if m.hasTimeout {
		fmt.Fprintf(&b, " timeout=%s", m.timeout)
	}
	if m.Status != nil {
		fmt.Fprintf(&b, " status=%s", m.Status)
	}
	if len(m.Metadata) > 0 {
		fmt.Fprintf(&b, " metadata=%v", m.Metadata)
	}
	if m.contentType != "" {
		fmt.Fprintf(&b, " content_type=%s", m.contentType)
	}
	fmt.Fprintf(&b, " body[%d]}", len(m.Body))
	return b.String()
}

func (m *Message) correlationString() string {
	if !m.hasCorrelationID {
		return "none"
	}
	return FormatCorrelationID(m.correlationID)
}

func (m *Message) timeoutString() string {
	if !m.hasTimeout {
		return "none"
	}
	return m.timeout.String()
}

func (m *Message) statusString() string {
	if m.Status == nil {
		return "none"
	}
	return m.Status.String()
}

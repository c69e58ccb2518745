package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlineExceeded(t *testing.T) {
	created := time.Unix(1000, 0)

	assert.False(t, DeadlineExceeded(created, time.Second, true, created.Add(999*time.Millisecond)))
	assert.False(t, DeadlineExceeded(created, time.Second, true, created.Add(time.Second)))
	assert.True(t, DeadlineExceeded(created, time.Second, true, created.Add(1001*time.Millisecond)))
	assert.False(t, DeadlineExceeded(created, 0, false, created.Add(time.Hour)), "no timeout never expires")

	msg := NewMessage()
	msg.CreatedAt = created
	require.NoError(t, msg.SetTimeout(time.Second))
	assert.True(t, msg.DeadlineExceeded(created.Add(2*time.Second)))
	deadline, ok := msg.Deadline()
	assert.True(t, ok)
	assert.Equal(t, created.Add(time.Second), deadline)
}

func TestPropertiesRoundTrip(t *testing.T) {
	msg := NewMessage()
	msg.Topic = "Svc.Method"
	msg.CreatedAt = time.UnixMilli(1_700_000_000_123)
	msg.Body = []byte{1, 2, 3}
	msg.SetCorrelationID(0xDEADBEEF)
	msg.SetReplyTo("replies")
	require.NoError(t, msg.SetContentType(ContentTypeJSON))
	require.NoError(t, msg.SetTimeout(1500*time.Millisecond))
	msg.SetMetadata("x-b3-traceid", "00000000000000ab")
	msg.SetStatus(NewStatus(StatusNotFound, "missing"))

	props, err := ToProperties(msg)
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF", props.CorrelationID)
	assert.Equal(t, "1500", props.Expiration)
	assert.Equal(t, int64(1_700_000_000_123), props.Timestamp)
	assert.Equal(t, "application/json", props.ContentType)
	assert.JSONEq(t, `{"code":"NOT_FOUND","why":"missing"}`, props.Headers[HeaderStatus].(string))
	assert.NotContains(t, msg.Metadata, HeaderStatus, "source metadata untouched")

	got, err := FromProperties("Svc.Method", "host/1", msg.Body, props)
	require.NoError(t, err)
	assert.Equal(t, "Svc.Method", got.Topic)
	assert.Equal(t, "host/1", got.SubscriptionID)
	assert.Equal(t, uint64(0xDEADBEEF), got.CorrelationID())
	assert.Equal(t, "replies", got.ReplyTo())
	assert.Equal(t, ContentTypeJSON, got.ContentType())
	assert.True(t, got.CreatedAt.Equal(msg.CreatedAt))
	timeout, ok := got.Timeout()
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, timeout)
	require.NotNil(t, got.Status)
	assert.Equal(t, NewStatus(StatusNotFound, "missing"), *got.Status)
	assert.NotContains(t, got.Metadata, HeaderStatus)
	assert.Equal(t, "00000000000000ab", got.Metadata["x-b3-traceid"])
}

func TestExpirationRoundsUp(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    string
	}{
		{0, "0"},
		{300 * time.Microsecond, "1"},
		{time.Millisecond, "1"},
		{1500*time.Millisecond + time.Nanosecond, "1501"},
	}
	for _, c := range cases {
		msg := NewMessage()
		require.NoError(t, msg.SetTimeout(c.timeout))
		props, err := ToProperties(msg)
		require.NoError(t, err)
		assert.Equal(t, c.want, props.Expiration, c.timeout.String())
	}
}

func TestFromPropertiesRejectsBadValues(t *testing.T) {
	_, err := FromProperties("t", "", nil, Properties{CorrelationID: "xyz"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = FromProperties("t", "", nil, Properties{Expiration: "soon"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = FromProperties("t", "", nil, Properties{Headers: map[string]any{HeaderStatus: "{"}})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCorrelationIDsAreUnique(t *testing.T) {
	seen := make(map[uint64]struct{}, 10000)
	for range 10000 {
		id := NewCorrelationID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}

	id, err := ParseCorrelationID(FormatCorrelationID(0xABCDEF))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xABCDEF), id)

	assert.Regexp(t, `^.+/[0-9A-F]+$`, NewSubscriptionID())
}

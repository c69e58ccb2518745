package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/rpc"
	"github.com/zeusync/topicrpc/pkg/transport/memory"
	"github.com/zeusync/topicrpc/pkg/wire"
)

func startWebSocket(t *testing.T, b *memory.Broker) (*Server, string) {
	t.Helper()
	srv := NewServer(b, log.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeWebSocket(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, ln.Addr().String()
}

func startQUIC(t *testing.T, b *memory.Broker) string {
	t.Helper()
	tlsConfig, err := GenerateSelfSignedTLS()
	require.NoError(t, err)
	ln, err := quic.ListenAddr("127.0.0.1:0", tlsConfig, nil)
	require.NoError(t, err)

	srv := NewServer(b, log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.ServeQUIC(ctx, ln) }()
	return ln.Addr().String()
}

func dialWebSocket(t *testing.T, addr string) *Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := DialWebSocket(ctx, addr, log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestFrameRoundTrip(t *testing.T) {
	msg, err := wire.NewRequest("Svc", wire.ContentTypeJSON, wrapperspb.String("hi"))
	require.NoError(t, err)
	msg.SetCorrelationID(99)
	msg.SetReplyTo("replies")
	msg.SetMetadata("x-b3-traceid", "00000000000000ab")
	msg.SetStatus(wire.NewStatus(wire.StatusCancelled, "stop"))

	f, err := messageFrame(OpDeliver, "Svc", msg)
	require.NoError(t, err)
	data, err := encodeFrame(f)
	require.NoError(t, err)
	decoded, err := decodeFrame(data)
	require.NoError(t, err)

	got, err := decoded.message()
	require.NoError(t, err)
	assert.Equal(t, "Svc", got.Topic)
	assert.Equal(t, uint64(99), got.CorrelationID())
	assert.Equal(t, "replies", got.ReplyTo())
	assert.Equal(t, wire.ContentTypeJSON, got.ContentType())
	assert.Equal(t, "00000000000000ab", got.Metadata["x-b3-traceid"])
	assert.Equal(t, wire.NewStatus(wire.StatusCancelled, "stop"), *got.Status)
	assert.Equal(t, msg.Body, got.Body)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := decodeFrame([]byte{0xff, 0x00, 0x13})
	assert.ErrorIs(t, err, wire.ErrMalformedPayload)
}

func TestResultFrameKeepsErrorCode(t *testing.T) {
	f := resultFrame(3, wire.Validationf("queue %q is not declared", "q"))
	err := f.err()
	assert.ErrorIs(t, err, wire.ErrValidation)
	assert.Contains(t, err.Error(), `queue "q" is not declared`)
	assert.NoError(t, resultFrame(4, nil).err())
}

func TestWebSocketURL(t *testing.T) {
	u, err := websocketURL("localhost:7001")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:7001/bridge", u)

	u, err = websocketURL("wss://broker.example/custom")
	require.NoError(t, err)
	assert.Equal(t, "wss://broker.example/custom", u)
}

func TestWebSocketPublishConsume(t *testing.T) {
	b := memory.NewBroker(log.Nop())
	srv, addr := startWebSocket(t, b)

	remote := channel.New(dialWebSocket(t, addr), channel.WithLogger(log.Nop()))
	sub, err := channel.NewSubscription(remote, "")
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe("sensors.*.temp"))
	assert.Eventually(t, func() bool { return srv.Sessions() == 1 }, time.Second, 10*time.Millisecond)

	local, err := b.Connect()
	require.NoError(t, err)
	msg, err := wire.NewRequest("", wire.ContentTypeProtobuf, wrapperspb.Double(21.5))
	require.NoError(t, err)
	require.NoError(t, local.Publish(context.Background(), "sensors.kitchen.temp", msg))

	got, err := remote.ConsumeTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sensors.kitchen.temp", got.Topic)
	assert.Equal(t, sub.ID(), got.SubscriptionID)

	v := &wrapperspb.DoubleValue{}
	require.NoError(t, got.Unpack(v))
	assert.InDelta(t, 21.5, v.GetValue(), 1e-9)
}

func TestWebSocketControlErrors(t *testing.T) {
	b := memory.NewBroker(log.Nop())
	_, addr := startWebSocket(t, b)
	tr := dialWebSocket(t, addr)

	assert.ErrorIs(t, tr.Bind("missing", "a.b"), wire.ErrValidation)
	require.NoError(t, tr.Declare("q", "tag"))
	assert.ErrorIs(t, tr.Declare("q", "tag"), wire.ErrAlreadyRegistered)
}

func TestSessionCloseReleasesQueues(t *testing.T) {
	b := memory.NewBroker(log.Nop())
	srv, addr := startWebSocket(t, b)
	tr := dialWebSocket(t, addr)
	require.NoError(t, tr.Declare("q", "tag"))

	require.NoError(t, tr.Close())
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Stats().Queues == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err := tr.Consume(context.Background())
	assert.ErrorIs(t, err, wire.ErrClosed)
	assert.ErrorIs(t, tr.Declare("q", "tag"), wire.ErrClosed)
}

func TestRPCOverQUIC(t *testing.T) {
	b := memory.NewBroker(log.Nop())
	addr := startQUIC(t, b)

	conn, err := b.Connect()
	require.NoError(t, err)
	server := channel.New(conn, channel.WithLogger(log.Nop()))
	defer func() { _ = server.Close() }()
	provider := rpc.NewServiceProvider(server, rpc.WithLogger(log.Nop()))
	require.NoError(t, rpc.Delegate(provider, "Double", func(_ *rpc.Context, req *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
		return wrapperspb.Int64(2 * req.GetValue()), nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := DialQUIC(ctx, addr, ClientTLS(true), log.Nop())
	require.NoError(t, err)
	remote := channel.New(tr, channel.WithLogger(log.Nop()))
	defer func() { _ = remote.Close() }()

	client, err := rpc.NewClient(remote, rpc.WithLogger(log.Nop()))
	require.NoError(t, err)

	go func() { _ = provider.Run(ctx) }()
	go func() { _ = client.Run(ctx) }()

	reply := &wrapperspb.Int64Value{}
	status, err := client.Call(ctx, "Double", wrapperspb.Int64(21), reply, rpc.WithTimeout(3*time.Second))
	require.NoError(t, err)
	require.True(t, status.OK(), status.String())
	assert.Equal(t, int64(42), reply.GetValue())
}

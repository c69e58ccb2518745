package rpc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/rpc"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// serve runs the provider loop for the duration of the test.
func (f *fixture) serve(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.provider.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (f *fixture) newClient(t *testing.T, opts ...rpc.Option) *rpc.Client {
	t.Helper()
	c, err := rpc.NewClient(f.client, append([]rpc.Option{rpc.WithLogger(log.Nop())}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return c
}

func structOf(t *testing.T, value float64) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{"value": value})
	require.NoError(t, err)
	return s
}

func TestClientCall(t *testing.T) {
	f := newFixture(t)
	f.delegateValueService(t)
	f.serve(t)
	client := f.newClient(t)

	reply := &wrapperspb.Int64Value{}
	status, err := client.Call(context.Background(), "Svc", structOf(t, 90), reply, rpc.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.True(t, status.OK())
	assert.Equal(t, int64(90), reply.GetValue())

	status, err = client.Call(context.Background(), "Svc", structOf(t, 666), reply, rpc.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, wire.NewStatus(wire.StatusFailedPrecondition, "bad"), status)
}

func TestClientCallJSON(t *testing.T) {
	f := newFixture(t)
	f.delegateValueService(t)
	f.serve(t)
	client := f.newClient(t, rpc.WithContentType(wire.ContentTypeJSON))

	reply := &wrapperspb.Int64Value{}
	status, err := client.Call(context.Background(), "Svc", structOf(t, 7), reply, rpc.WithTimeout(time.Second))
	require.NoError(t, err)
	require.True(t, status.OK(), status.String())
	assert.Equal(t, int64(7), reply.GetValue())
}

func TestClientCallTimeout(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t)

	start := time.Now()
	status, err := client.Call(context.Background(), "Nobody", structOf(t, 1), nil, rpc.WithTimeout(30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusDeadlineExceeded, status.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, f.client.Registry().Len())
}

func TestClientCallContextDeadline(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	status, err := client.Call(ctx, "Nobody", structOf(t, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusDeadlineExceeded, status.Code)
}

func TestClientCallCancelled(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	status, err := client.Call(ctx, "Nobody", structOf(t, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusCancelled, status.Code)
	assert.Equal(t, 0, f.client.Registry().Len())
}

func TestClientGo(t *testing.T) {
	f := newFixture(t)
	f.delegateValueService(t)
	f.serve(t)
	client := f.newClient(t)

	replies := make(chan *wire.Message, 1)
	cid, err := client.Go(context.Background(), "Svc", structOf(t, 42),
		func(m *wire.Message) { replies <- m }, nil, rpc.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.NotZero(t, cid)

	select {
	case m := <-replies:
		assert.Equal(t, cid, m.CorrelationID())
		v := &wrapperspb.Int64Value{}
		require.NoError(t, m.Unpack(v))
		assert.Equal(t, int64(42), v.GetValue())
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}

	expired := make(chan struct{})
	_, err = client.Go(context.Background(), "Nobody", structOf(t, 1),
		func(*wire.Message) { t.Error("unexpected reply") },
		func() { close(expired) },
		rpc.WithTimeout(10*time.Millisecond))
	require.NoError(t, err)
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("no timeout")
	}
}

func TestClientCallChannelClosed(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		status wire.Status
		err    error
	}
	results := make(chan result, 1)
	go func() {
		status, err := client.Call(ctx, "Nobody", structOf(t, 1), nil)
		results <- result{status, err}
	}()

	require.Eventually(t, func() bool { return f.client.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.client.Close())
	cancel()

	select {
	case r := <-results:
		assert.ErrorIs(t, r.err, wire.ErrClosed)
		assert.Equal(t, wire.StatusCancelled, r.status.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("call still waiting after the channel closed")
	}
	assert.Equal(t, 0, f.client.Registry().Len())
}

func TestClientGoChannelClosed(t *testing.T) {
	f := newFixture(t)
	rec := &sideRecorder{}
	client := f.newClient(t, rpc.WithInterceptors(rec))

	_, err := client.Go(context.Background(), "Nobody", structOf(t, 1),
		func(*wire.Message) { t.Error("unexpected reply") },
		func() { t.Error("unexpected timeout") },
		rpc.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, f.client.Close())
	time.Sleep(100 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"client.before", "client.after:CANCELLED"}, rec.events)
}

type sideRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *sideRecorder) Name() string { return "side" }

func (r *sideRecorder) BeforeCall(ctx *rpc.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ctx.Side().String()+".before")
	return nil
}

func (r *sideRecorder) AfterCall(ctx *rpc.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ctx.Side().String()+".after:"+ctx.Status().Code.String())
	return nil
}

func TestClientInterceptors(t *testing.T) {
	f := newFixture(t)
	f.delegateValueService(t)
	f.serve(t)

	rec := &sideRecorder{}
	client := f.newClient(t, rpc.WithInterceptors(rec))

	status, err := client.Call(context.Background(), "Svc", structOf(t, 10), nil, rpc.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInternalError, status.Code)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"client.before", "client.after:INTERNAL_ERROR"}, rec.events)
}

func TestClientCallValidation(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t)

	_, err := client.Call(context.Background(), "", structOf(t, 1), nil)
	assert.ErrorIs(t, err, wire.ErrNoTopic)

	_, err = client.Call(context.Background(), "Svc", structOf(t, 1), nil, rpc.WithTimeout(-time.Second))
	assert.ErrorIs(t, err, wire.ErrValidation)
}

package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/topicrpc/pkg/channel"
	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/sequence"
	"github.com/zeusync/topicrpc/pkg/wire"
)

// Transport is a channel.Transport speaking to a bridge Server.
type Transport struct {
	f   framer
	log log.Log

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan error

	inbox     *sequence.Queue[*wire.Message]
	done      chan struct{}
	closeOnce sync.Once
	connOnce  sync.Once
}

var _ channel.Transport = (*Transport)(nil)

// DialWebSocket connects to a bridge at rawURL. A bare host:port is expanded
// to ws://host:port/bridge.
func DialWebSocket(ctx context.Context, rawURL string, logger log.Log) (*Transport, error) {
	target, err := websocketURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return newTransport(newWSFramer(conn), logger), nil
}

func websocketURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", wire.Validationf("invalid bridge url %q", raw)
	}
	if u.Path == "" {
		u.Path = WebSocketPath
	}
	return u.String(), nil
}

// DialQUIC connects to a bridge listening on addr and opens the session
// stream. A nil tlsConfig verifies the server certificate with the system
// roots.
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, logger log.Log) (*Transport, error) {
	if tlsConfig == nil {
		tlsConfig = ClientTLS(false)
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
	})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open stream")
		return nil, err
	}
	return newTransport(newStreamFramer(conn, stream), logger), nil
}

func newTransport(f framer, logger log.Log) *Transport {
	if logger == nil {
		logger = log.Provide()
	}
	t := &Transport{
		f:       f,
		log:     logger.Named("bridge"),
		pending: make(map[uint64]chan error),
		inbox:   sequence.NewQueue[*wire.Message](),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer t.shutdown()
	for {
		f, err := t.f.ReadFrame()
		if err != nil {
			if !t.isClosed() && !isNormalClose(err) {
				t.log.Error("bridge connection lost", log.Error(err))
			}
			return
		}
		switch f.Op {
		case OpDeliver:
			msg, err := f.message()
			if err != nil {
				t.log.Warn("dropping malformed delivery", log.String("topic", f.Topic), log.Error(err))
				continue
			}
			t.inbox.Push(msg)
		case OpResult:
			t.mu.Lock()
			ch, ok := t.pending[f.Seq]
			delete(t.pending, f.Seq)
			t.mu.Unlock()
			if ok {
				ch <- f.err()
			}
		default:
			t.log.Warn("unexpected bridge frame", log.String("op", string(f.Op)))
		}
	}
}

func (t *Transport) Publish(_ context.Context, topic string, msg *wire.Message) error {
	if t.isClosed() {
		return wire.ErrClosed
	}
	f, err := messageFrame(OpPublish, topic, msg)
	if err != nil {
		return err
	}
	return t.f.WriteFrame(f)
}

func (t *Transport) Consume(ctx context.Context) (*wire.Message, error) {
	msg, err := t.inbox.Pop(ctx)
	if errors.Is(err, sequence.ErrQueueClosed) {
		return nil, wire.ErrClosed
	}
	return msg, err
}

func (t *Transport) Declare(queue, consumerTag string) error {
	return t.call(&Frame{Op: OpDeclare, Queue: queue, Tag: consumerTag})
}

func (t *Transport) Bind(queue, pattern string) error {
	return t.call(&Frame{Op: OpBind, Queue: queue, Pattern: pattern})
}

func (t *Transport) Unbind(queue, pattern string) error {
	return t.call(&Frame{Op: OpUnbind, Queue: queue, Pattern: pattern})
}

func (t *Transport) Delete(queue string) error {
	return t.call(&Frame{Op: OpDelete, Queue: queue})
}

// call sends a control frame and waits for its result.
func (t *Transport) call(f *Frame) error {
	if t.isClosed() {
		return wire.ErrClosed
	}
	f.Seq = t.seq.Add(1)
	result := make(chan error, 1)

	t.mu.Lock()
	t.pending[f.Seq] = result
	t.mu.Unlock()

	if err := t.f.WriteFrame(f); err != nil {
		t.mu.Lock()
		delete(t.pending, f.Seq)
		t.mu.Unlock()
		return err
	}

	select {
	case err := <-result:
		return err
	case <-t.done:
		return wire.ErrClosed
	}
}

func (t *Transport) Close() error {
	var err error
	t.connOnce.Do(func() {
		t.shutdown()
		err = t.f.Close()
	})
	return err
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.inbox.Close()
	})
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

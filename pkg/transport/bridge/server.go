package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/transport/memory"
	"github.com/zeusync/topicrpc/pkg/wire"
)

const (
	// WebSocketPath is where the HTTP handler upgrades bridge connections.
	WebSocketPath = "/bridge"

	DefaultIdleTimeout = 30 * time.Second
	DefaultKeepAlive   = 10 * time.Second
)

// Server exposes a memory.Broker to remote peers. Every remote connection
// becomes one broker connection whose queues are released when the peer
// goes away.
type Server struct {
	broker   *memory.Broker
	log      log.Log
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

func NewServer(b *memory.Broker, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	return &Server{
		broker: b,
		log:    logger.Named("bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// Sessions returns the number of connected peers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ServeHTTP upgrades the request to a WebSocket bridge session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}
	s.run(r.Context(), newWSFramer(conn), conn.RemoteAddr().String())
}

// ListenWebSocket serves bridge sessions over WebSocket on addr until ctx is
// done.
func (s *Server) ListenWebSocket(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeWebSocket(ctx, ln)
}

func (s *Server) ServeWebSocket(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, s)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("websocket bridge listening", log.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenQUIC serves bridge sessions over QUIC on addr until ctx is done. The
// first bidirectional stream opened by a peer carries its session.
func (s *Server) ListenQUIC(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	ln, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
	})
	if err != nil {
		return err
	}
	return s.ServeQUIC(ctx, ln)
}

func (s *Server) ServeQUIC(ctx context.Context, ln *quic.Listener) error {
	defer func() { _ = ln.Close() }()
	s.log.Info("quic bridge listening", log.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				s.log.Warn("peer opened no stream", log.String("remote_addr", conn.RemoteAddr().String()), log.Error(err))
				_ = conn.CloseWithError(1, "no stream")
				return
			}
			s.run(ctx, newStreamFramer(conn, stream), conn.RemoteAddr().String())
		}()
	}
}

// Serve runs the WebSocket and QUIC listeners side by side. An empty address
// disables the listener.
func (s *Server) Serve(ctx context.Context, wsAddr, quicAddr string, tlsConfig *tls.Config) error {
	g, gctx := errgroup.WithContext(ctx)
	if wsAddr != "" {
		g.Go(func() error { return s.ListenWebSocket(gctx, wsAddr) })
	}
	if quicAddr != "" {
		g.Go(func() error { return s.ListenQUIC(gctx, quicAddr, tlsConfig) })
	}
	err := g.Wait()
	s.wg.Wait()
	return err
}

func (s *Server) run(ctx context.Context, f framer, remote string) {
	conn, err := s.broker.Connect()
	if err != nil {
		s.log.Warn("rejecting peer", log.String("remote_addr", remote), log.Error(err))
		_ = f.Close()
		return
	}
	sess := &session{conn: conn, f: f, log: s.log.With(log.String("session", conn.ID()), log.String("remote_addr", remote))}

	s.mu.Lock()
	s.sessions[conn.ID()] = sess
	s.mu.Unlock()
	sess.log.Info("peer connected")

	err = sess.serve(ctx)

	s.mu.Lock()
	delete(s.sessions, conn.ID())
	s.mu.Unlock()
	sess.log.Info("peer disconnected", log.Error(err))
}

type session struct {
	conn *memory.Conn
	f    framer
	log  log.Log
}

// serve pumps frames both ways until either side fails or ctx is done.
func (s *session) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop() })
	g.Go(func() error { return s.deliverLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		_ = s.conn.Close()
		return s.f.Close()
	})

	err := g.Wait()
	if errors.Is(err, wire.ErrClosed) || errors.Is(err, context.Canceled) || isNormalClose(err) {
		return nil
	}
	return err
}

func (s *session) readLoop() error {
	for {
		f, err := s.f.ReadFrame()
		if err != nil {
			return err
		}
		if f.Op == OpPublish {
			if err := s.publish(f); err != nil {
				s.log.Warn("dropping publish", log.String("topic", f.Topic), log.Error(err))
			}
			continue
		}
		if err := s.f.WriteFrame(resultFrame(f.Seq, s.control(f))); err != nil {
			return err
		}
	}
}

func (s *session) publish(f *Frame) error {
	msg, err := f.message()
	if err != nil {
		return err
	}
	return s.conn.Publish(context.Background(), f.Topic, msg)
}

func (s *session) control(f *Frame) error {
	switch f.Op {
	case OpDeclare:
		return s.conn.Declare(f.Queue, f.Tag)
	case OpBind:
		return s.conn.Bind(f.Queue, f.Pattern)
	case OpUnbind:
		return s.conn.Unbind(f.Queue, f.Pattern)
	case OpDelete:
		return s.conn.Delete(f.Queue)
	default:
		return wire.Validationf("unknown bridge operation %q", f.Op)
	}
}

func (s *session) deliverLoop(ctx context.Context) error {
	for {
		msg, err := s.conn.Consume(ctx)
		if err != nil {
			return err
		}
		frame, err := messageFrame(OpDeliver, msg.Topic, msg)
		if err != nil {
			s.log.Warn("dropping delivery", log.String("topic", msg.Topic), log.Error(err))
			continue
		}
		if err := s.f.WriteFrame(frame); err != nil {
			return err
		}
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

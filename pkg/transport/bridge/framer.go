package bridge

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 4 << 20

// framer reads and writes whole frames. WriteFrame may be called from
// several goroutines; ReadFrame from one at a time.
type framer interface {
	ReadFrame() (*Frame, error)
	WriteFrame(f *Frame) error
	Close() error
}

type wsFramer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSFramer(conn *websocket.Conn) *wsFramer {
	conn.SetReadLimit(MaxFrameSize)
	return &wsFramer{conn: conn}
}

func (w *wsFramer) ReadFrame() (*Frame, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return decodeFrame(data)
	}
}

func (w *wsFramer) WriteFrame(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsFramer) Close() error {
	w.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.conn.Close()
}

// streamFramer writes each frame behind a big endian uint32 length.
type streamFramer struct {
	stream *quic.Stream
	conn   *quic.Conn
	wmu    sync.Mutex
	header [4]byte
}

func newStreamFramer(conn *quic.Conn, stream *quic.Stream) *streamFramer {
	return &streamFramer{conn: conn, stream: stream}
}

func (s *streamFramer) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(s.stream, s.header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(s.header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(s.stream, data); err != nil {
		return nil, err
	}
	return decodeFrame(data)
}

func (s *streamFramer) WriteFrame(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(data), MaxFrameSize)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = s.stream.Write(buf)
	return err
}

func (s *streamFramer) Close() error {
	_ = s.stream.Close()
	return s.conn.CloseWithError(0, "bye")
}

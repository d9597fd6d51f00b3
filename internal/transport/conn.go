package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fyrsmithlabs/canopy/internal/wire"
)

// DefaultWriteTimeout bounds a single message write.
const DefaultWriteTimeout = 10 * time.Second

// Conn is a message-oriented connection. ReadMessage and WriteMessage may
// be called from different goroutines, but each from only one at a time.
type Conn interface {
	ReadMessage() (wire.Message, error)
	WriteMessage(m wire.Message) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type streamConn struct {
	conn     net.Conn
	r        *bufio.Reader
	maxFrame int

	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn frames messages over a byte stream such as TCP or TLS.
func NewStreamConn(c net.Conn, maxFrame int) Conn {
	if maxFrame <= 0 {
		maxFrame = wire.DefaultMaxFrameSize
	}
	return &streamConn{conn: c, r: bufio.NewReader(c), maxFrame: maxFrame}
}

func (s *streamConn) ReadMessage() (wire.Message, error) {
	return wire.ReadMessage(s.r, s.maxFrame)
}

func (s *streamConn) WriteMessage(m wire.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return err
	}
	return wire.WriteMessage(s.conn, m)
}

func (s *streamConn) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

func (s *streamConn) RemoteAddr() string { return s.conn.RemoteAddr().String() }

func (s *streamConn) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

type wsConn struct {
	ws *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn carries one message per binary WebSocket frame.
func NewWebSocketConn(ws *websocket.Conn, maxFrame int) Conn {
	if maxFrame <= 0 {
		maxFrame = wire.DefaultMaxFrameSize
	}
	ws.SetReadLimit(int64(maxFrame))
	return &wsConn{ws: ws}
}

func (w *wsConn) ReadMessage() (wire.Message, error) {
	kind, payload, err := w.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %v", wire.ErrDecode, err)
		}
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: websocket message type %d, want binary", wire.ErrDecode, kind)
	}
	return wire.Unmarshal(payload)
}

func (w *wsConn) WriteMessage(m wire.Message) error {
	payload, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.BinaryMessage, payload)
}

func (w *wsConn) SetReadDeadline(t time.Time) error { return w.ws.SetReadDeadline(t) }

func (w *wsConn) RemoteAddr() string { return w.ws.RemoteAddr().String() }

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() { w.closeErr = w.ws.Close() })
	return w.closeErr
}

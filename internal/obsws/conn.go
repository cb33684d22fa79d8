package obsws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established, message-oriented channel to the server. A read
// error is final. Close must be safe to call more than once and must unblock
// a pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

// DialOptions tunes the gorilla websocket transport. Zero values pick the
// defaults below.
type DialOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// KeepAlive, when set, sends a ping every interval and drops the
	// connection after three intervals without a pong or message.
	KeepAlive time.Duration
	ReadLimit int64
	Header    http.Header
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 64 << 20
)

// Dial opens a websocket to url and negotiates the JSON subprotocol.
func Dial(ctx context.Context, url string, opts DialOptions) (Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = defaultHandshakeTimeout
	}
	c, _, err := d.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return NewConn(c, opts), nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readWait     time.Duration

	wmu       sync.Mutex // serialises writes, including control frames
	pingStop  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn adapts an already upgraded gorilla connection.
func NewConn(c *websocket.Conn, opts DialOptions) Conn {
	w := &wsConn{conn: c, writeTimeout: opts.WriteTimeout}
	if w.writeTimeout <= 0 {
		w.writeTimeout = defaultWriteTimeout
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)

	if opts.KeepAlive > 0 {
		w.readWait = 3 * opts.KeepAlive
		_ = c.SetReadDeadline(time.Now().Add(w.readWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(w.readWait))
		})
		w.startPing(opts.KeepAlive)
	}
	return w
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if w.readWait > 0 {
		// any traffic proves the peer is alive
		_ = w.conn.SetReadDeadline(time.Now().Add(w.readWait))
	}
	return data, nil
}

func (w *wsConn) WriteMessage(frame []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal close frame and tears the socket down.
func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		w.stopPing()
		w.wmu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		w.wmu.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func (w *wsConn) startPing(every time.Duration) {
	w.pingStop = make(chan struct{})
	stop := w.pingStop
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.wmu.Lock()
				err := w.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(w.writeTimeout))
				w.wmu.Unlock()
				if err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (w *wsConn) stopPing() {
	if w.pingStop != nil {
		close(w.pingStop)
	}
}

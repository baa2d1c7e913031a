package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

const closeGracePeriod = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSConn carries one event per binary websocket message.
type WSConn struct {
	id      string
	conn    *websocket.Conn
	inbox   *Inbox
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *WSConn {
	c := &WSConn{
		id:    uuid.NewString(),
		conn:  conn,
		inbox: NewInbox(),
	}
	conn.SetReadLimit(protocol.MaxFrameSize)
	go c.readLoop()
	return c
}

// Upgrade turns an HTTP request into a relay connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(conn), nil
}

func DialWS(ctx context.Context, url string) (*WSConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newWSConn(conn), nil
}

func (c *WSConn) ID() string {
	return c.id
}

func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *WSConn) Receive(ctx context.Context) (protocol.Message, error) {
	return c.inbox.Receive(ctx)
}

func (c *WSConn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.inbox.Closed() {
		return ErrClosed
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Type(), err)
	}
	return nil
}

// Close does not take writeMu: closing the socket is what unblocks a
// writer stuck on a stalled peer.
func (c *WSConn) Close() error {
	if c.inbox.Closed() {
		return nil
	}
	c.inbox.Shut(ErrClosed)

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	return c.conn.Close()
}

func (c *WSConn) readLoop() {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrClosed
			}
			c.inbox.Shut(err)
			_ = c.conn.Close()
			return
		}

		if typ != websocket.BinaryMessage {
			if !c.inbox.Push(nil, fmt.Errorf("%w: text frame", ErrMalformed)) {
				return
			}
			continue
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			err = errors.Join(ErrMalformed, err)
		}
		if !c.inbox.Push(msg, err) {
			return
		}
	}
}

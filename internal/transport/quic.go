package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// QUICTransport owns one UDP socket used both to accept relay clients and
// to dial out.
type QUICTransport struct {
	udpConn  *net.UDPConn
	tr       *quic.Transport
	ln       *quic.Listener
	tlsConf  *tls.Config
	quicConf *quic.Config
}

// NewQUICTransport listens on addr. A nil tlsConf uses a self-signed
// certificate.
func NewQUICTransport(addr string, tlsConf *tls.Config) (*QUICTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	if tlsConf == nil {
		if tlsConf, err = TLSConfig("", ""); err != nil {
			_ = udpConn.Close()
			return nil, err
		}
	}

	quicConf := quicConfig()
	tr := &quic.Transport{Conn: udpConn}

	ln, err := tr.Listen(tlsConf, quicConf)
	if err != nil {
		_ = udpConn.Close()
		return nil, fmt.Errorf("starting quic listener: %w", err)
	}

	return &QUICTransport{
		udpConn:  udpConn,
		tr:       tr,
		ln:       ln,
		tlsConf:  tlsConf,
		quicConf: quicConf,
	}, nil
}

func (t *QUICTransport) LocalAddr() net.Addr {
	return t.udpConn.LocalAddr()
}

// Accept waits for the next client. The control stream is accepted lazily
// so one slow client cannot hold up the accept loop.
func (t *QUICTransport) Accept(ctx context.Context) (*QUICConn, error) {
	conn, err := t.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}

	c := newQUICConn(conn)
	go c.acceptControlStream()
	return c, nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) (*QUICConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}

	conn, err := t.tr.Dial(ctx, udpAddr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, fmt.Errorf("opening control stream: %w", err)
	}

	c := newQUICConn(conn)
	c.setStream(stream)
	go c.readLoop()
	return c, nil
}

func (t *QUICTransport) Close() error {
	err := t.ln.Close()
	if trErr := t.tr.Close(); err == nil {
		err = trErr
	}
	_ = t.udpConn.Close()
	return err
}

// QUICConn frames events on a single bidirectional control stream.
type QUICConn struct {
	id      string
	conn    *quic.Conn
	stream  *quic.Stream
	ready   chan struct{}
	inbox   *Inbox
	writeMu sync.Mutex
	once    sync.Once
}

func newQUICConn(conn *quic.Conn) *QUICConn {
	return &QUICConn{
		id:    uuid.NewString(),
		conn:  conn,
		ready: make(chan struct{}),
		inbox: NewInbox(),
	}
}

func (c *QUICConn) setStream(stream *quic.Stream) {
	c.stream = stream
	close(c.ready)
}

func (c *QUICConn) acceptControlStream() {
	stream, err := c.conn.AcceptStream(c.conn.Context())
	if err != nil {
		c.inbox.Shut(err)
		return
	}
	c.setStream(stream)
	c.readLoop()
}

func (c *QUICConn) readLoop() {
	for {
		data, err := protocol.ReadFrame(c.stream)
		if err != nil {
			c.inbox.Shut(err)
			_ = c.conn.CloseWithError(0, "")
			return
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

func (c *QUICConn) ID() string {
	return c.id
}

func (c *QUICConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *QUICConn) Receive(ctx context.Context) (protocol.Message, error) {
	return c.inbox.Receive(ctx)
}

func (c *QUICConn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.ready:
	case <-c.inbox.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.inbox.Closed() {
		return ErrClosed
	}

	deadline, _ := ctx.Deadline()
	_ = c.stream.SetWriteDeadline(deadline)
	if err := protocol.WriteFrame(c.stream, data); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Type(), err)
	}
	return nil
}

func (c *QUICConn) Close() error {
	var err error
	c.once.Do(func() {
		c.inbox.Shut(ErrClosed)
		err = c.conn.CloseWithError(0, "")
	})
	return err
}

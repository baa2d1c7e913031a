// Package peer is the client side of a transfer: it joins a room on the
// relay, then sends or receives one file at a time.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotConnected      = errors.New("not connected to relay")
	ErrConnectionLost    = errors.New("relay connection lost")
	ErrUnsupportedScheme = errors.New("unsupported relay url scheme")
	ErrRoomFull          = errors.New("room is full")
	ErrRoomExpired       = errors.New("room expired")
	// ErrNoPeer means the relay had nobody to hand our event to.
	ErrNoPeer   = errors.New("no peer in room")
	ErrPeerLeft = errors.New("peer left the room")
)

// FileInfo describes an outgoing file. A negative Size means unknown.
type FileInfo struct {
	Name     string
	Size     int64
	MIMEType string
	Checksum string
}

// Progress is called after each acknowledged or received chunk.
type Progress func(bytes int64, percent int)

// Client is not safe for concurrent use.
type Client struct {
	config Config
	logger *logrus.Logger
	target *url.URL

	conn   transport.Conn
	quic   *transport.QUICTransport
	router *router

	seq     atomic.Uint64
	code    string
	paired  bool
	session *transfer.Session
}

func NewClient(cfg Config) (*Client, error) {
	target, err := parseRelayURL(cfg.RelayURL)
	if err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = transfer.DefaultChunkSize
	}

	return &Client{
		config:  cfg,
		logger:  cfg.Logger,
		target:  target,
		session: transfer.NewSession(),
	}, nil
}

func parseRelayURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss", "quic", "rtc+http", "rtc+https":
	case "http", "https":
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		if u.Path == "" || u.Path == "/" {
			u.Path = "/ws"
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parsing relay url: missing host in %q", raw)
	}
	return u, nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.logger.Infof("Connecting to relay %s", c.target.Redacted())

	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Errorf("Failed to connect to relay: %v", err)
		return err
	}

	c.conn = conn
	c.router = newRouter(conn, c.logger)
	c.router.start()
	c.logger.Infof("Connected to relay %s", c.target.Host)
	return nil
}

func (c *Client) dial(ctx context.Context) (transport.Conn, error) {
	switch c.target.Scheme {
	case "quic":
		tr, err := transport.NewQUICTransport(":0", nil)
		if err != nil {
			return nil, err
		}
		conn, err := tr.Dial(ctx, c.target.Host)
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
		c.quic = tr
		return conn, nil
	case "rtc+http", "rtc+https":
		u := *c.target
		u.Scheme = strings.TrimPrefix(u.Scheme, "rtc+")
		if u.Path == "" || u.Path == "/" {
			u.Path = webrtc.OfferPath
		}
		config := webrtc.DefaultConfig()
		if c.config.STUNServers != nil {
			config = webrtc.NewConfig(c.config.STUNServers)
		}
		return webrtc.Dial(ctx, u.String(), config)
	default:
		return transport.DialWS(ctx, c.target.String())
	}
}

func (c *Client) send(ctx context.Context, msg protocol.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	select {
	case <-c.router.done:
		return c.router.lost()
	default:
	}
	return c.conn.Send(ctx, msg)
}

// reply waits for the next response to one of our requests. Room events
// that arrive meanwhile are handled by onEvent; a non-nil error from it
// aborts the wait.
func (c *Client) reply(ctx context.Context, onEvent func(protocol.Message) error) (protocol.Message, error) {
	for {
		// A queued reply was routed ahead of any pending room event.
		select {
		case msg := <-c.router.replies:
			return replyResult(msg)
		default:
		}

		select {
		case msg := <-c.router.replies:
			return replyResult(msg)
		case ev := <-c.router.events:
			if err := c.handleEvent(ev, onEvent); err != nil {
				return nil, err
			}
		case <-c.router.done:
			return nil, c.router.lost()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func replyResult(msg protocol.Message) (protocol.Message, error) {
	if e, ok := msg.(*protocol.Error); ok {
		return nil, e
	}
	return msg, nil
}

func (c *Client) handleEvent(ev protocol.Message, onEvent func(protocol.Message) error) error {
	switch e := ev.(type) {
	case *protocol.PeerJoined:
		c.paired = true
		c.logger.Infof("Peer joined room %s as %s", c.code, e.Role)
	case *protocol.PeerLeft:
		c.paired = false
		c.logger.Infof("Peer left room %s", c.code)
	case *protocol.RoomExpired:
		c.paired = false
		c.code = ""
		c.logger.Warnf("Room %s expired", e.Code)
		return ErrRoomExpired
	case *protocol.FileMeta, *protocol.FileChunk:
		if onEvent == nil {
			c.logger.Debugf("Dropping %s while not receiving", ev.Type())
			return nil
		}
	}
	if onEvent != nil {
		return onEvent(ev)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	c.logger.Debug("Sending Ping to relay")
	if err := c.send(ctx, &protocol.Ping{}); err != nil {
		return err
	}

	msg, err := c.reply(ctx, nil)
	if err != nil {
		return err
	}
	if _, ok := msg.(*protocol.Pong); !ok {
		return fmt.Errorf("expected pong, got %s", msg.Type())
	}
	return nil
}

// Join enters the room for code. A *protocol.Error is returned for a
// rejected code or role.
func (c *Client) Join(ctx context.Context, code string, role protocol.Role) (*protocol.Joined, error) {
	if err := c.send(ctx, &protocol.JoinRoom{Code: code, Role: role}); err != nil {
		return nil, err
	}

	msg, err := c.reply(ctx, nil)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case *protocol.Joined:
		c.code = m.Code
		c.paired = m.Paired
		c.logger.WithFields(logrus.Fields{
			"room":   m.Code,
			"role":   m.Role.String(),
			"paired": m.Paired,
		}).Info("Joined room")
		return m, nil
	case *protocol.RoomFull:
		return nil, fmt.Errorf("%w: %s", ErrRoomFull, m.Code)
	default:
		return nil, fmt.Errorf("expected joined, got %s", msg.Type())
	}
}

func (c *Client) Leave(ctx context.Context) error {
	if err := c.send(ctx, &protocol.LeaveRoom{}); err != nil {
		return err
	}
	c.code = ""
	c.paired = false
	return nil
}

// Name is announced as the sharer of outgoing files.
func (c *Client) Name() string {
	return c.config.Name
}

// Paired reports whether a peer is known to be in the room.
func (c *Client) Paired() bool {
	return c.paired
}

// WaitForPeer blocks until someone else is in the room.
func (c *Client) WaitForPeer(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	for !c.paired {
		select {
		case ev := <-c.router.events:
			if err := c.handleEvent(ev, nil); err != nil {
				return err
			}
		case <-c.router.done:
			return c.router.lost()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SendFile announces info and streams r to the peer, waiting for the
// relay's ack after each event.
func (c *Client) SendFile(ctx context.Context, info FileInfo, r io.Reader, progress Progress) error {
	meta := &protocol.FileMeta{
		Seq:      c.seq.Add(1),
		Filename: info.Name,
		Sharer:   c.config.Name,
		MIMEType: info.MIMEType,
		Checksum: info.Checksum,
	}
	if info.Size >= 0 {
		meta.Size = info.Size
		meta.HasSize = true
	}

	log := c.logger.WithFields(logrus.Fields{
		"room": c.code,
		"file": info.Name,
	})
	log.Info("Sending file")

	if err := c.relay(ctx, meta, meta.Seq); err != nil {
		return err
	}

	out := transfer.NewOutgoing(r, info.Size, c.config.ChunkSize)
	for {
		chunk, err := out.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", info.Name, err)
		}

		chunk.Seq = c.seq.Add(1)
		if err := c.relay(ctx, chunk, chunk.Seq); err != nil {
			return err
		}
		if progress != nil {
			progress(out.Sent(), chunk.Percent)
		}
	}

	log.WithField("bytes", out.Sent()).Info("File sent")
	return nil
}

func (c *Client) relay(ctx context.Context, msg protocol.Message, seq uint64) error {
	if err := c.send(ctx, msg); err != nil {
		return err
	}

	for {
		reply, err := c.reply(ctx, func(ev protocol.Message) error {
			if _, ok := ev.(*protocol.PeerLeft); ok {
				return ErrPeerLeft
			}
			return nil
		})
		if err != nil {
			return err
		}

		ack, ok := reply.(*protocol.Ack)
		if !ok || ack.Seq != seq {
			c.logger.Debugf("Ignoring %s while waiting for ack %d", reply.Type(), seq)
			continue
		}
		if ack.Status != protocol.AckDelivered {
			return ErrNoPeer
		}
		return nil
	}
}

// ReceiveOptions hooks into an incoming transfer.
type ReceiveOptions struct {
	OnMeta     func(meta protocol.FileMeta)
	OnProgress Progress
}

// Receive waits for the next complete file. A transfer cut short by the
// peer leaving returns ErrPeerLeft and nothing of it is kept.
func (c *Client) Receive(ctx context.Context, opts ReceiveOptions) (*transfer.Artifact, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	for {
		select {
		case ev := <-c.router.events:
			art, err := c.receiveEvent(ev, opts)
			if art != nil || err != nil {
				return art, err
			}
		case <-c.router.done:
			c.session.Abort()
			return nil, c.router.lost()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) receiveEvent(ev protocol.Message, opts ReceiveOptions) (*transfer.Artifact, error) {
	switch m := ev.(type) {
	case *protocol.FileMeta:
		c.session.HandleMeta(m)
		c.logger.WithFields(logrus.Fields{
			"file":   m.Filename,
			"sharer": m.Sharer,
		}).Info("Incoming file")
		if opts.OnMeta != nil {
			opts.OnMeta(*m)
		}
	case *protocol.FileChunk:
		if !c.session.HandleChunk(m) {
			c.logger.Debugf("Ignoring chunk %d outside a transfer", m.Seq)
			return nil, nil
		}
		if opts.OnProgress != nil {
			opts.OnProgress(c.session.Received(), c.session.Percent())
		}
		if c.session.Complete() {
			return c.session.Artifact()
		}
	default:
		active := c.session.Active()
		if err := c.handleEvent(ev, nil); err != nil {
			c.session.Abort()
			return nil, err
		}
		if _, ok := ev.(*protocol.PeerLeft); ok && active {
			c.session.Abort()
			return nil, ErrPeerLeft
		}
	}
	return nil, nil
}

func (c *Client) Shutdown() error {
	c.logger.Info("Shutting down peer client")

	var err error
	if c.conn != nil {
		c.router.close()
		err = c.conn.Close()
	}
	if c.quic != nil {
		if qErr := c.quic.Close(); err == nil {
			err = qErr
		}
	}
	return err
}

package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

const (
	maxBufferedAmount          = 1024 * 1024
	bufferedAmountLowThreshold = 256 * 1024
)

// Conn is a transport.Conn over one ordered data channel.
type Conn struct {
	id       string
	remote   string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	inbox    *transport.Inbox
	open     chan struct{}
	writable chan struct{}
	writeMu  sync.Mutex
	openOnce sync.Once
	once     sync.Once
	frames   reassembler
}

var _ transport.Conn = (*Conn)(nil)

func newConn(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, remote string) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		remote:   remote,
		pc:       pc,
		dc:       dc,
		inbox:    transport.NewInbox(),
		open:     make(chan struct{}),
		writable: make(chan struct{}, 1),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.inbox.Shut(transport.ErrClosed)
		}
	})

	dc.SetBufferedAmountLowThreshold(bufferedAmountLowThreshold)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.writable <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.open) })
	})
	// An answerer may only learn of the channel after it opened.
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.openOnce.Do(func() { close(c.open) })
	}

	// pion delivers messages for one channel from a single goroutine, so
	// blocking here pushes back on the remote sender.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		frame, done, err := c.frames.add(msg.Data)
		if err != nil {
			c.inbox.Push(nil, err)
			return
		}
		if !done {
			return
		}

		m, err := protocol.Unmarshal(frame)
		if err != nil {
			err = errors.Join(transport.ErrMalformed, err)
		}
		c.inbox.Push(m, err)
	})

	dc.OnClose(func() {
		c.inbox.Shut(transport.ErrClosed)
	})

	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	return c.inbox.Receive(ctx)
}

// waitOpen blocks until the data channel can carry events.
func (c *Conn) waitOpen(ctx context.Context) error {
	select {
	case <-c.open:
		return nil
	case <-c.inbox.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.waitOpen(ctx); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, frag := range fragment(data, fragmentSize) {
		for c.dc.BufferedAmount() > maxBufferedAmount {
			select {
			case <-c.writable:
			case <-c.inbox.Done():
				return transport.ErrClosed
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if c.inbox.Closed() {
			return transport.ErrClosed
		}
		if err := c.dc.Send(frag); err != nil {
			return fmt.Errorf("writing %s: %w", msg.Type(), err)
		}
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.inbox.Shut(transport.ErrClosed)
		_ = c.dc.Close()
		err = c.pc.Close()
	})
	return err
}

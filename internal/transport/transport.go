// Package transport carries protocol events between clients and the relay.
// Every implementation hands out a Conn; the relay does not care which wire
// a connection arrived on.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

var (
	ErrClosed = errors.New("connection closed")
	// ErrMalformed wraps a single undecodable event. The connection stays
	// usable after it.
	ErrMalformed = errors.New("malformed event")
)

type Conn interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	Close() error
}

type received struct {
	msg protocol.Message
	err error
}

// Inbox decouples a transport's read loop from Receive callers. The channel
// is small so a slow consumer stalls the read loop instead of buffering.
type Inbox struct {
	ch   chan received
	done chan struct{}
	err  error
	once sync.Once
}

const inboxSize = 4

func NewInbox() *Inbox {
	return &Inbox{
		ch:   make(chan received, inboxSize),
		done: make(chan struct{}),
	}
}

// Push blocks until the event is queued or the inbox is shut.
func (b *Inbox) Push(msg protocol.Message, err error) bool {
	select {
	case b.ch <- received{msg: msg, err: err}:
		return true
	case <-b.done:
		return false
	}
}

// Shut records the terminal error returned once queued events are drained.
func (b *Inbox) Shut(err error) {
	b.once.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		b.err = err
		close(b.done)
	})
}

func (b *Inbox) Done() <-chan struct{} {
	return b.done
}

func (b *Inbox) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Inbox) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case r := <-b.ch:
		return r.msg, r.err
	default:
	}

	select {
	case r := <-b.ch:
		return r.msg, r.err
	case <-b.done:
		select {
		case r := <-b.ch:
			return r.msg, r.err
		default:
		}
		return nil, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

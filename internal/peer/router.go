package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const routeBuffer = 16

// router reads events from the relay connection and splits replies to our
// own requests from everything the room sends. Room events and file data
// share one channel so a departure is never seen ahead of the chunks that
// preceded it.
type router struct {
	conn    transport.Conn
	logger  *logrus.Logger
	replies chan protocol.Message
	// events holds a single event so an idle reader throttles the relay
	// instead of piling chunks up in memory.
	events chan protocol.Message

	done    chan struct{}
	err     error
	stop    chan struct{}
	stopped sync.Once
}

func newRouter(conn transport.Conn, logger *logrus.Logger) *router {
	return &router{
		conn:    conn,
		logger:  logger,
		replies: make(chan protocol.Message, routeBuffer),
		events:  make(chan protocol.Message, 1),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (r *router) start() {
	go r.listen()
}

func (r *router) listen() {
	defer close(r.done)

	for {
		msg, err := r.conn.Receive(context.Background())
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				r.logger.Warnf("Dropping malformed event from relay: %v", err)
				continue
			}
			r.err = err
			return
		}

		if !r.route(msg) {
			r.err = transport.ErrClosed
			return
		}
	}
}

func (r *router) route(msg protocol.Message) bool {
	ch := r.replies
	switch msg.(type) {
	case *protocol.PeerJoined, *protocol.PeerLeft, *protocol.RoomExpired,
		*protocol.FileMeta, *protocol.FileChunk:
		ch = r.events
	}

	select {
	case ch <- msg:
		return true
	case <-r.stop:
		return false
	}
}

// lost reports why the connection ended; only valid after done is closed.
func (r *router) lost() error {
	if r.err == nil {
		return ErrConnectionLost
	}
	return errors.Join(ErrConnectionLost, r.err)
}

func (r *router) close() {
	r.stopped.Do(func() { close(r.stop) })
}

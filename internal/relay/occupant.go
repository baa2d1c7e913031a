package relay

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const writeQueueSize = 16

type write struct {
	msg    protocol.Message
	result chan error
}

// occupant adapts a transport connection to room.Occupant. Every outbound
// event goes through one queue drained by a single writer, so a connection
// sees events in the order they were queued.
type occupant struct {
	conn         transport.Conn
	logger       *logrus.Entry
	writeTimeout time.Duration
	writes       chan write
	done         chan struct{}

	// Owned by the connection's handler goroutine. Codes are opaque in
	// lenient mode, so the empty code is a valid room.
	code   string
	inRoom bool
}

func newOccupant(conn transport.Conn, logger *logrus.Entry, writeTimeout time.Duration) *occupant {
	return &occupant{
		conn:         conn,
		logger:       logger,
		writeTimeout: writeTimeout,
		writes:       make(chan write, writeQueueSize),
		done:         make(chan struct{}),
	}
}

func (o *occupant) ID() string {
	return o.conn.ID()
}

// Notify queues msg without waiting for it to be written.
func (o *occupant) Notify(msg protocol.Message) {
	select {
	case o.writes <- write{msg: msg}:
	case <-o.done:
	default:
		// Closing makes the handler leave the room and notify the peer.
		o.logger.WithField("event", msg.Type().String()).Warn("Write queue full, closing connection")
		go func() { _ = o.conn.Close() }()
	}
}

// Deliver queues msg behind anything already pending and waits until it is
// written.
func (o *occupant) Deliver(ctx context.Context, msg protocol.Message) error {
	w := write{msg: msg, result: make(chan error, 1)}

	select {
	case o.writes <- w:
	case <-o.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-w.result:
		return err
	case <-o.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *occupant) writeLoop(ctx context.Context) {
	for {
		select {
		case w := <-o.writes:
			wctx, cancel := context.WithTimeout(ctx, o.writeTimeout)
			err := o.conn.Send(wctx, w.msg)
			cancel()

			if err != nil {
				// A failed or timed out write leaves the stream unusable.
				o.logger.WithField("event", w.msg.Type().String()).Debugf("Write failed, closing connection: %v", err)
				_ = o.conn.Close()
			}
			if w.result != nil {
				w.result <- err
			}
		case <-o.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *occupant) stop() {
	close(o.done)
}

package relay

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/room"
	"github.com/rudransh-shrivastava/peer-drop/internal/roomcode"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

// handleConn serves one client until it disconnects. Events from a client
// are handled strictly in arrival order.
func (s *Server) handleConn(ctx context.Context, conn transport.Conn) {
	log := s.logger.WithFields(logrus.Fields{
		"conn":   conn.ID(),
		"remote": conn.RemoteAddr(),
	})
	log.Info("Client connected")

	occ := newOccupant(conn, log, s.config.WriteTimeout)
	go occ.writeLoop(ctx)

	defer func() {
		s.leave(occ)
		occ.stop()
		_ = conn.Close()
		log.Info("Client disconnected")
	}()

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				log.Debugf("Malformed event: %v", err)
				s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrInvalidMsg, Message: err.Error()})
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				log.Debugf("Failed to receive message: %v", err)
			}
			return
		}

		s.handleMessage(ctx, occ, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, occ *occupant, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Ping:
		s.reply(ctx, occ, &protocol.Pong{})
	case *protocol.JoinRoom:
		s.handleJoin(ctx, occ, m)
	case *protocol.LeaveRoom:
		s.leave(occ)
	case *protocol.FileMeta:
		s.handleRelay(ctx, occ, m, m.Seq)
	case *protocol.FileChunk:
		s.handleRelay(ctx, occ, m, m.Seq)
	default:
		occ.logger.WithField("event", msg.Type().String()).Warn("Unexpected event from client")
		s.reply(ctx, occ, &protocol.Error{
			Code:    protocol.ErrInvalidMsg,
			Message: "unexpected " + msg.Type().String(),
		})
	}
}

func (s *Server) handleJoin(ctx context.Context, occ *occupant, m *protocol.JoinRoom) {
	if s.config.StrictCodes {
		if err := roomcode.Validate(m.Code); err != nil {
			s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrInvalidCode, Message: err.Error()})
			return
		}
	}

	if occ.inRoom && occ.code != m.Code {
		s.leave(occ)
	}

	res, err := s.rooms.Join(occ, m.Code, m.Role)
	if err != nil {
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrInternal, Message: err.Error()})
		return
	}

	log := occ.logger.WithFields(logrus.Fields{
		"room":   m.Code,
		"role":   m.Role.String(),
		"status": res.Status.String(),
	})

	switch res.Status {
	case room.JoinAdmitted:
		occ.code = m.Code
		occ.inRoom = true
		// The room has already queued the joined confirmation.
		log.Debug("Joined room")
	case room.JoinFull:
		log.Info("Join rejected")
		s.reply(ctx, occ, &protocol.RoomFull{Code: m.Code})
	case room.JoinRoleTaken:
		log.Info("Join rejected")
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrRoleTaken, Message: m.Role.String() + " already present"})
	case room.JoinSealed:
		log.Info("Join rejected")
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrRoomSealed, Message: "room is single use"})
	}
}

func (s *Server) leave(occ *occupant) {
	if !occ.inRoom {
		return
	}
	s.rooms.Leave(occ, occ.code)
	occ.code = ""
	occ.inRoom = false
}

// handleRelay forwards a file event to the peer and acks the sender with
// the outcome. The forward completes before the next event is read.
func (s *Server) handleRelay(ctx context.Context, occ *occupant, msg protocol.Message, seq uint64) {
	if !occ.inRoom {
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrNotInRoom, Message: "join a room first"})
		return
	}

	out, err := s.rooms.Relay(ctx, occ, occ.code, msg)
	switch {
	case errors.Is(err, room.ErrNotInRoom):
		// The room expired underneath us.
		occ.code = ""
		occ.inRoom = false
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrNotInRoom, Message: err.Error()})
		return
	case errors.Is(err, room.ErrForbidden):
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrProtocolViolation, Message: err.Error()})
		return
	case err != nil:
		s.reply(ctx, occ, &protocol.Error{Code: protocol.ErrInternal, Message: err.Error()})
		return
	}

	if out == room.NoPeer {
		occ.logger.WithFields(logrus.Fields{
			"room":  occ.code,
			"event": msg.Type().String(),
			"seq":   seq,
		}).Debug("No peer to relay to")
	}
	s.reply(ctx, occ, &protocol.Ack{Event: msg.Type(), Seq: seq, Status: out.AckStatus()})
}

func (s *Server) reply(ctx context.Context, occ *occupant, msg protocol.Message) {
	if err := occ.Deliver(ctx, msg); err != nil {
		occ.logger.WithField("event", msg.Type().String()).Debugf("Failed to reply: %v", err)
	}
}

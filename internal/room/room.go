// Package room pairs two connections under a shared code and relays events
// between them. Each room is owned by a single goroutine; the registry only
// maps codes to rooms.
package room

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

const capacity = 2

var (
	ErrNotInRoom = errors.New("connection is not in the room")
	// ErrForbidden is returned when a receiver tries to announce or send.
	ErrForbidden = errors.New("receivers may not send")
	ErrClosed    = errors.New("registry closed")
)

// Occupant is a connection admitted to a room.
//
// Notify must not block: the room goroutine calls it. Deliver is called from
// the sending connection's goroutine and blocks until the event is written.
type Occupant interface {
	ID() string
	Notify(msg protocol.Message)
	Deliver(ctx context.Context, msg protocol.Message) error
}

type State int

const (
	StateEmpty State = iota
	StateWaiting
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	default:
		return "empty"
	}
}

type JoinStatus int

const (
	JoinAdmitted JoinStatus = iota
	JoinFull
	JoinRoleTaken
	JoinSealed
)

func (s JoinStatus) String() string {
	switch s {
	case JoinAdmitted:
		return "admitted"
	case JoinFull:
		return "full"
	case JoinRoleTaken:
		return "role-taken"
	case JoinSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

type JoinResult struct {
	Status JoinStatus
	// Paired is true when the room holds two occupants after the join.
	Paired bool
	// Duplicate marks a repeated join by a connection already in the room.
	Duplicate bool
}

// Outcome reports what happened to a relayed event.
type Outcome int

const (
	Delivered Outcome = iota
	NoPeer
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "no-peer"
}

func (o Outcome) AckStatus() protocol.AckStatus {
	if o == Delivered {
		return protocol.AckDelivered
	}
	return protocol.AckNoPeer
}

type Info struct {
	Code      string
	State     State
	Occupants int
	Sealed    bool
}

type member struct {
	occ  Occupant
	role protocol.Role
}

type room struct {
	code      string
	idle      time.Duration
	singleUse bool
	logger    *logrus.Entry

	// Owned by the run goroutine.
	members []member
	sealed  bool

	inbox  chan func()
	stop   chan struct{}
	closed chan struct{}
	// release removes the room from the registry; called from run before
	// closed is closed.
	release func(*room)
}

func newRoom(code string, cfg Config, release func(*room)) *room {
	return &room{
		code:      code,
		idle:      cfg.IdleTimeout,
		singleUse: cfg.SingleUse,
		logger:    cfg.Logger.WithField("room", code),
		inbox:     make(chan func()),
		stop:      make(chan struct{}),
		closed:    make(chan struct{}),
		release:   release,
	}
}

func (rm *room) run() {
	defer close(rm.closed)

	var (
		timer  *time.Timer
		expiry <-chan time.Time
	)
	if rm.idle > 0 {
		timer = time.NewTimer(rm.idle)
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		select {
		case fn := <-rm.inbox:
			fn()
		case <-expiry:
			rm.expire()
		case <-rm.stop:
			return
		}

		if len(rm.members) == 0 {
			rm.release(rm)
			rm.logger.Debug("Room reclaimed")
			return
		}
		if timer != nil {
			timer.Reset(rm.idle)
		}
	}
}

// exec runs fn on the room goroutine and waits for it. It returns false if
// the room has already shut down.
func (rm *room) exec(fn func()) bool {
	done := make(chan struct{})
	select {
	case rm.inbox <- func() { fn(); close(done) }:
		<-done
		return true
	case <-rm.closed:
		return false
	}
}

func (rm *room) state() State {
	switch len(rm.members) {
	case 0:
		return StateEmpty
	case 1:
		return StateWaiting
	default:
		return StatePaired
	}
}

func (rm *room) indexOf(occ Occupant) int {
	return slices.IndexFunc(rm.members, func(m member) bool {
		return m.occ.ID() == occ.ID()
	})
}

// join admits occ. An admitted joiner is sent joined before the existing
// occupant hears of it, so nothing relayed by the peer can overtake it.
func (rm *room) join(occ Occupant, role protocol.Role) JoinResult {
	if i := rm.indexOf(occ); i >= 0 {
		paired := rm.state() == StatePaired
		occ.Notify(&protocol.Joined{Code: rm.code, Paired: paired, Role: rm.members[i].role})
		return JoinResult{Status: JoinAdmitted, Paired: paired, Duplicate: true}
	}
	if len(rm.members) >= capacity {
		return JoinResult{Status: JoinFull, Paired: true}
	}
	if rm.sealed {
		return JoinResult{Status: JoinSealed}
	}
	if role != protocol.RoleAny {
		for _, m := range rm.members {
			if m.role == role {
				return JoinResult{Status: JoinRoleTaken}
			}
		}
	}

	rm.members = append(rm.members, member{occ: occ, role: role})
	paired := len(rm.members) == capacity
	occ.Notify(&protocol.Joined{Code: rm.code, Paired: paired, Role: role})
	if !paired {
		rm.logger.WithField("conn", occ.ID()).Debug("Waiting for peer")
		return JoinResult{Status: JoinAdmitted}
	}

	rm.members[0].occ.Notify(&protocol.PeerJoined{Role: role})
	if rm.singleUse {
		rm.sealed = true
	}
	rm.logger.WithField("conn", occ.ID()).Info("Room paired")
	return JoinResult{Status: JoinAdmitted, Paired: true}
}

func (rm *room) leave(occ Occupant) bool {
	i := rm.indexOf(occ)
	if i < 0 {
		return false
	}

	rm.members = slices.Delete(rm.members, i, i+1)
	for _, m := range rm.members {
		m.occ.Notify(&protocol.PeerLeft{})
	}
	rm.logger.WithField("conn", occ.ID()).Debug("Occupant left")
	return true
}

func (rm *room) expire() {
	if rm.state() != StateWaiting {
		return
	}

	lone := rm.members[0].occ
	rm.members = nil
	lone.Notify(&protocol.RoomExpired{Code: rm.code})
	rm.logger.WithField("conn", lone.ID()).Info("Idle room expired")
}

// peerOf resolves the relay target for occ.
func (rm *room) peerOf(occ Occupant) (Occupant, error) {
	i := rm.indexOf(occ)
	if i < 0 {
		return nil, ErrNotInRoom
	}
	if rm.members[i].role == protocol.RoleReceiver {
		return nil, ErrForbidden
	}
	for j, m := range rm.members {
		if j != i {
			return m.occ, nil
		}
	}
	return nil, nil
}

func (rm *room) info() Info {
	return Info{
		Code:      rm.code,
		State:     rm.state(),
		Occupants: len(rm.members),
		Sealed:    rm.sealed,
	}
}

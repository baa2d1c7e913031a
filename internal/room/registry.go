package room

import (
	"context"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

const DefaultIdleTimeout = 10 * time.Minute

type Config struct {
	// IdleTimeout reclaims a room left waiting with no activity. Zero
	// disables expiry.
	IdleTimeout time.Duration
	// SingleUse seals a room once it pairs, so a departed peer can never be
	// replaced by a different connection.
	SingleUse bool
	Logger    *logrus.Logger
}

// Registry maps room codes to live rooms. Codes are opaque here; callers
// validate them.
type Registry struct {
	config Config
	logger *logrus.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}

	return &Registry{
		config: cfg,
		logger: cfg.Logger,
		rooms:  make(map[string]*room),
	}
}

func (r *Registry) lookup(code string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[code]
}

func (r *Registry) lookupOrCreate(code string) (*room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if rm, ok := r.rooms[code]; ok {
		return rm, nil
	}

	rm := newRoom(code, r.config, r.release)
	r.rooms[code] = rm
	go rm.run()
	r.logger.WithField("room", code).Debug("Room created")
	return rm, nil
}

func (r *Registry) release(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[rm.code] == rm {
		delete(r.rooms, rm.code)
	}
}

// Join admits occ into the room for code, creating the room if needed.
func (r *Registry) Join(occ Occupant, code string, role protocol.Role) (JoinResult, error) {
	for {
		rm, err := r.lookupOrCreate(code)
		if err != nil {
			return JoinResult{}, err
		}

		var res JoinResult
		if rm.exec(func() { res = rm.join(occ, role) }) {
			return res, nil
		}
		// The room emptied while we were queued; a fresh one takes its place.
	}
}

// Leave removes occ from the room. It reports whether occ was a member.
func (r *Registry) Leave(occ Occupant, code string) bool {
	rm := r.lookup(code)
	if rm == nil {
		return false
	}

	var left bool
	rm.exec(func() { left = rm.leave(occ) })
	return left
}

// Relay forwards msg from occ to the other occupant. The write happens on
// the caller's goroutine so a slow peer throttles only its sender.
func (r *Registry) Relay(ctx context.Context, occ Occupant, code string, msg protocol.Message) (Outcome, error) {
	rm := r.lookup(code)
	if rm == nil {
		return NoPeer, ErrNotInRoom
	}

	var (
		peer Occupant
		err  error
	)
	if !rm.exec(func() { peer, err = rm.peerOf(occ) }) {
		return NoPeer, ErrNotInRoom
	}
	if err != nil {
		return NoPeer, err
	}
	if peer == nil {
		return NoPeer, nil
	}

	if err := peer.Deliver(ctx, msg); err != nil {
		r.logger.WithFields(logrus.Fields{
			"room":  code,
			"event": msg.Type().String(),
			"peer":  peer.ID(),
		}).Debugf("Delivery failed: %v", err)
		return NoPeer, nil
	}
	return Delivered, nil
}

func (r *Registry) Info(code string) (Info, bool) {
	rm := r.lookup(code)
	if rm == nil {
		return Info{Code: code}, false
	}

	var info Info
	if !rm.exec(func() { info = rm.info() }) {
		return Info{Code: code}, false
	}
	return info, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close stops every room goroutine. Occupants are not notified.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for code, rm := range r.rooms {
		close(rm.stop)
		delete(r.rooms, code)
	}
}

package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOccupant struct {
	id      string
	notices chan protocol.Message
	joined  chan *protocol.Joined

	mu         sync.Mutex
	delivered  []protocol.Message
	deliverErr error
}

func newFake(id string) *fakeOccupant {
	return &fakeOccupant{
		id:      id,
		notices: make(chan protocol.Message, 16),
		joined:  make(chan *protocol.Joined, 16),
	}
}

func (f *fakeOccupant) ID() string { return f.id }

// Notify keeps join confirmations apart from room notices.
func (f *fakeOccupant) Notify(msg protocol.Message) {
	if j, ok := msg.(*protocol.Joined); ok {
		f.joined <- j
		return
	}
	select {
	case f.notices <- msg:
	default:
	}
}

func (f *fakeOccupant) Deliver(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.delivered = append(f.delivered, msg)
	return nil
}

func (f *fakeOccupant) received() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.delivered...)
}

func (f *fakeOccupant) expectNotice(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-f.notices:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no notice received", f.id)
		return nil
	}
}

func (f *fakeOccupant) expectNoNotice(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.notices:
		t.Fatalf("%s: unexpected notice %s", f.id, msg.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestRegistry(cfg Config) *Registry {
	cfg.Logger = logger.Discard()
	return NewRegistry(cfg)
}

func mustJoin(t *testing.T, r *Registry, occ Occupant, code string, role protocol.Role) JoinResult {
	t.Helper()
	res, err := r.Join(occ, code, role)
	require.NoError(t, err)
	return res
}

func TestFirstOccupantWaitsForPeer(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	sender := newFake("sender")
	res := mustJoin(t, r, sender, "482913", protocol.RoleSender)
	assert.Equal(t, JoinAdmitted, res.Status)
	assert.False(t, res.Paired)
	sender.expectNoNotice(t)

	info, ok := r.Info("482913")
	require.True(t, ok)
	assert.Equal(t, StateWaiting, info.State)

	receiver := newFake("receiver")
	res = mustJoin(t, r, receiver, "482913", protocol.RoleReceiver)
	assert.Equal(t, JoinAdmitted, res.Status)
	assert.True(t, res.Paired)

	joined, ok := sender.expectNotice(t).(*protocol.PeerJoined)
	require.True(t, ok)
	assert.Equal(t, protocol.RoleReceiver, joined.Role)
	sender.expectNoNotice(t)
	receiver.expectNoNotice(t)

	info, _ = r.Info("482913")
	assert.Equal(t, StatePaired, info.State)
	assert.Equal(t, 2, info.Occupants)
}

func TestJoinConfirmation(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	a, b, c := newFake("a"), newFake("b"), newFake("c")
	mustJoin(t, r, a, "482913", protocol.RoleSender)
	mustJoin(t, r, b, "482913", protocol.RoleReceiver)
	mustJoin(t, r, c, "482913", protocol.RoleAny)

	first := <-a.joined
	assert.Equal(t, "482913", first.Code)
	assert.False(t, first.Paired)
	assert.Equal(t, protocol.RoleSender, first.Role)

	second := <-b.joined
	assert.True(t, second.Paired)
	assert.Equal(t, protocol.RoleReceiver, second.Role)

	// Rejected joins are answered by the caller, not the room.
	assert.Empty(t, c.joined)

	mustJoin(t, r, a, "482913", protocol.RoleSender)
	again := <-a.joined
	assert.True(t, again.Paired)
}

func TestThirdJoinIsRejected(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	a, b, c := newFake("a"), newFake("b"), newFake("c")
	mustJoin(t, r, a, "111111", protocol.RoleAny)
	mustJoin(t, r, b, "111111", protocol.RoleAny)

	res := mustJoin(t, r, c, "111111", protocol.RoleAny)
	assert.Equal(t, JoinFull, res.Status)

	info, _ := r.Info("111111")
	assert.Equal(t, 2, info.Occupants)
	c.expectNoNotice(t)

	// The rejected connection is not a member.
	assert.False(t, r.Leave(c, "111111"))
	_, err := r.Relay(context.Background(), c, "111111", &protocol.FileChunk{})
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	a, b := newFake("a"), newFake("b")
	mustJoin(t, r, a, "222222", protocol.RoleAny)

	res := mustJoin(t, r, a, "222222", protocol.RoleAny)
	assert.Equal(t, JoinAdmitted, res.Status)
	assert.True(t, res.Duplicate)
	a.expectNoNotice(t)

	mustJoin(t, r, b, "222222", protocol.RoleAny)
	a.expectNotice(t)

	res = mustJoin(t, r, b, "222222", protocol.RoleAny)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Paired)
	a.expectNoNotice(t)
}

func TestLeaveNotifiesAndReclaims(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	a, b := newFake("a"), newFake("b")
	mustJoin(t, r, a, "333333", protocol.RoleSender)
	mustJoin(t, r, b, "333333", protocol.RoleReceiver)
	a.expectNotice(t)

	require.True(t, r.Leave(a, "333333"))
	_, ok := b.expectNotice(t).(*protocol.PeerLeft)
	assert.True(t, ok)

	info, _ := r.Info("333333")
	assert.Equal(t, StateWaiting, info.State)

	require.True(t, r.Leave(b, "333333"))
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, ok = r.Info("333333")
	assert.False(t, ok)
	assert.False(t, r.Leave(b, "333333"))
}

func TestRendezvousAllowsNewPeerAfterDeparture(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	a, b, c := newFake("a"), newFake("b"), newFake("c")
	mustJoin(t, r, a, "444444", protocol.RoleAny)
	mustJoin(t, r, b, "444444", protocol.RoleAny)
	a.expectNotice(t)
	r.Leave(b, "444444")
	a.expectNotice(t)

	res := mustJoin(t, r, c, "444444", protocol.RoleAny)
	assert.Equal(t, JoinAdmitted, res.Status)
	assert.True(t, res.Paired)
	_, ok := a.expectNotice(t).(*protocol.PeerJoined)
	assert.True(t, ok)
}

func TestSingleUseRoomIsSealed(t *testing.T) {
	r := newTestRegistry(Config{SingleUse: true})
	defer r.Close()

	a, b, c := newFake("a"), newFake("b"), newFake("c")
	mustJoin(t, r, a, "555555", protocol.RoleAny)
	mustJoin(t, r, b, "555555", protocol.RoleAny)
	r.Leave(b, "555555")

	res := mustJoin(t, r, c, "555555", protocol.RoleAny)
	assert.Equal(t, JoinSealed, res.Status)

	info, _ := r.Info("555555")
	assert.True(t, info.Sealed)
	assert.Equal(t, 1, info.Occupants)

	// Once the last occupant leaves the code is free again.
	r.Leave(a, "555555")
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	res = mustJoin(t, r, c, "555555", protocol.RoleAny)
	assert.Equal(t, JoinAdmitted, res.Status)
}

func TestRoleConflicts(t *testing.T) {
	tests := []struct {
		first, second protocol.Role
		want          JoinStatus
	}{
		{protocol.RoleSender, protocol.RoleSender, JoinRoleTaken},
		{protocol.RoleReceiver, protocol.RoleReceiver, JoinRoleTaken},
		{protocol.RoleSender, protocol.RoleReceiver, JoinAdmitted},
		{protocol.RoleAny, protocol.RoleAny, JoinAdmitted},
		{protocol.RoleSender, protocol.RoleAny, JoinAdmitted},
		{protocol.RoleAny, protocol.RoleReceiver, JoinAdmitted},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s then %s", tt.first, tt.second), func(t *testing.T) {
			r := newTestRegistry(Config{})
			defer r.Close()

			a, b := newFake("a"), newFake("b")
			mustJoin(t, r, a, "666666", tt.first)
			res := mustJoin(t, r, b, "666666", tt.second)
			assert.Equal(t, tt.want, res.Status)

			if tt.want != JoinAdmitted {
				a.expectNoNotice(t)
				info, _ := r.Info("666666")
				assert.Equal(t, 1, info.Occupants)
			}
		})
	}
}

func TestRelayOutcomes(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()
	ctx := context.Background()

	sender, receiver := newFake("sender"), newFake("receiver")
	mustJoin(t, r, sender, "777777", protocol.RoleSender)

	out, err := r.Relay(ctx, sender, "777777", &protocol.FileMeta{Filename: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, NoPeer, out)
	assert.Equal(t, protocol.AckNoPeer, out.AckStatus())

	mustJoin(t, r, receiver, "777777", protocol.RoleReceiver)

	for i := 1; i <= 3; i++ {
		out, err = r.Relay(ctx, sender, "777777", &protocol.FileChunk{Seq: uint64(i), Percent: i * 30})
		require.NoError(t, err)
		assert.Equal(t, Delivered, out)
	}

	got := receiver.received()
	require.Len(t, got, 3)
	for i, msg := range got {
		assert.Equal(t, uint64(i+1), msg.(*protocol.FileChunk).Seq)
	}

	_, err = r.Relay(ctx, receiver, "777777", &protocol.FileChunk{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.Relay(ctx, newFake("stranger"), "777777", &protocol.FileChunk{})
	assert.ErrorIs(t, err, ErrNotInRoom)

	_, err = r.Relay(ctx, sender, "000000", &protocol.FileChunk{})
	assert.ErrorIs(t, err, ErrNotInRoom)

	receiver.mu.Lock()
	receiver.deliverErr = errors.New("connection reset")
	receiver.mu.Unlock()
	out, err = r.Relay(ctx, sender, "777777", &protocol.FileChunk{Seq: 4})
	require.NoError(t, err)
	assert.Equal(t, NoPeer, out)
}

func TestAnyRoleMaySendInEitherDirection(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	a, b := newFake("a"), newFake("b")
	mustJoin(t, r, a, "888888", protocol.RoleAny)
	mustJoin(t, r, b, "888888", protocol.RoleAny)

	out, err := r.Relay(context.Background(), b, "888888", &protocol.FileMeta{Filename: "x"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, out)
	assert.Len(t, a.received(), 1)
}

func TestIdleWaitingRoomExpires(t *testing.T) {
	r := newTestRegistry(Config{IdleTimeout: 50 * time.Millisecond})
	defer r.Close()

	lone := newFake("lone")
	mustJoin(t, r, lone, "123456", protocol.RoleSender)

	expired, ok := lone.expectNotice(t).(*protocol.RoomExpired)
	require.True(t, ok)
	assert.Equal(t, "123456", expired.Code)

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Leave(lone, "123456"))
}

func TestPairedRoomDoesNotExpire(t *testing.T) {
	r := newTestRegistry(Config{IdleTimeout: 30 * time.Millisecond})
	defer r.Close()

	a, b := newFake("a"), newFake("b")
	mustJoin(t, r, a, "654321", protocol.RoleAny)
	mustJoin(t, r, b, "654321", protocol.RoleAny)
	a.expectNotice(t)

	time.Sleep(150 * time.Millisecond)

	a.expectNoNotice(t)
	b.expectNoNotice(t)
	info, ok := r.Info("654321")
	require.True(t, ok)
	assert.Equal(t, StatePaired, info.State)
}

func TestConcurrentJoinsAdmitAtMostTwo(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	const joiners = 16
	results := make(chan JoinStatus, joiners)

	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Join(newFake(fmt.Sprintf("c%d", i)), "999999", protocol.RoleAny)
			if err == nil {
				results <- res.Status
			}
		}(i)
	}
	wg.Wait()
	close(results)

	counts := map[JoinStatus]int{}
	for s := range results {
		counts[s]++
	}
	assert.Equal(t, 2, counts[JoinAdmitted])
	assert.Equal(t, joiners-2, counts[JoinFull])
}

func TestRoomsAreIndependent(t *testing.T) {
	r := newTestRegistry(Config{})
	defer r.Close()

	const rooms = 50
	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("%06d", 100000+i)
			a, b := newFake(code+"a"), newFake(code+"b")
			_, _ = r.Join(a, code, protocol.RoleSender)
			_, _ = r.Join(b, code, protocol.RoleReceiver)
			_, _ = r.Relay(context.Background(), a, code, &protocol.FileChunk{Seq: 1, Percent: 100})
			r.Leave(a, code)
			r.Leave(b, code)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestJoinAfterClose(t *testing.T) {
	r := newTestRegistry(Config{})
	mustJoin(t, r, newFake("a"), "121212", protocol.RoleAny)
	r.Close()

	_, err := r.Join(newFake("b"), "121212", protocol.RoleAny)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, r.Len())
}

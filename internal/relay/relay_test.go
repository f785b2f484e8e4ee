package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/bus"
	"github.com/ernie/paddle-arena/internal/domain"
)

// fakeSink records deliveries, optionally failing reliable sends.
type fakeSink struct {
	mu         sync.Mutex
	unreliable [][]byte
	reliable   [][]byte
	failFirst  int // number of reliable sends to fail
}

func (f *fakeSink) SendUnreliable(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreliable = append(f.unreliable, data)
}

func (f *fakeSink) SendReliable(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("socket busy")
	}
	f.reliable = append(f.reliable, data)
	return nil
}

func (f *fakeSink) reliableCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reliable)
}

func (f *fakeSink) unreliableCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unreliable)
}

func (f *fakeSink) firstUnreliable() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreliable[0]
}

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	b, err := bus.New(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(b.Close)

	r, err := New(b, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestBroadcastReachesRoomMembersOnly(t *testing.T) {
	r := newTestRelay(t)

	alice, bob, carol := &fakeSink{}, &fakeSink{}, &fakeSink{}
	r.Register("alice", alice)
	r.Register("bob", bob)
	r.Register("carol", carol)
	r.Join("r1", "alice")
	r.Join("r1", "bob")
	r.Join("r2", "carol")

	require.NoError(t, r.Broadcast("r1", domain.Event{Type: domain.EventGameStarted}, true))

	assert.Eventually(t, func() bool {
		return alice.reliableCount() == 1 && bob.reliableCount() == 1
	}, 2*time.Second, time.Millisecond)
	assert.Zero(t, carol.reliableCount(), "other rooms must not receive the event")
	assert.Zero(t, carol.unreliableCount())
}

func TestDeliveryClassSelectsSinkPath(t *testing.T) {
	r := newTestRelay(t)
	sink := &fakeSink{}
	r.Register("alice", sink)
	r.Join("r1", "alice")

	require.NoError(t, r.Broadcast("r1", domain.Event{Type: domain.EventGameState}, false))
	require.NoError(t, r.Broadcast("r1", domain.Event{Type: domain.EventScoreUpdated}, true))

	assert.Eventually(t, func() bool {
		return sink.unreliableCount() == 1 && sink.reliableCount() == 1
	}, 2*time.Second, time.Millisecond)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(sink.firstUnreliable(), &ev))
	assert.Equal(t, domain.EventGameState, ev.Type)
	assert.Equal(t, "r1", ev.RoomID, "broadcast stamps the room id")
}

func TestSendToParticipantTargeted(t *testing.T) {
	r := newTestRelay(t)
	alice, bob := &fakeSink{}, &fakeSink{}
	r.Register("alice", alice)
	r.Register("bob", bob)
	r.Join("r1", "alice")
	r.Join("r1", "bob")

	ev := domain.Event{
		Type: domain.EventTournamentMatchComplete,
		Data: domain.TournamentMatchCompletedEvent{MatchID: "m1", IsWinner: true},
	}
	require.NoError(t, r.SendToParticipant("alice", ev, true))

	assert.Eventually(t, func() bool { return alice.reliableCount() == 1 },
		2*time.Second, time.Millisecond)
	assert.Zero(t, bob.reliableCount(), "match events go only to the affected player")
}

func TestReliableRetrySucceedsAfterTransientFailure(t *testing.T) {
	r := newTestRelay(t)
	sink := &fakeSink{failFirst: 2}
	r.Register("alice", sink)
	r.Join("r1", "alice")

	require.NoError(t, r.Broadcast("r1", domain.Event{Type: domain.EventGameEnded}, true))

	assert.Eventually(t, func() bool { return sink.reliableCount() == 1 },
		2*time.Second, time.Millisecond)
}

// stuckSink blocks every reliable send until released, imitating a client
// whose socket has stopped draining.
type stuckSink struct {
	release chan struct{}
}

func (s *stuckSink) SendUnreliable([]byte) {}

func (s *stuckSink) SendReliable([]byte) error {
	<-s.release
	return nil
}

func TestStalledParticipantDoesNotDelayOtherRooms(t *testing.T) {
	r := newTestRelay(t)

	stuck := &stuckSink{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	fast := &fakeSink{}
	r.Register("alice", stuck)
	r.Register("bob", fast)
	r.Join("r1", "alice")
	r.Join("r2", "bob")

	require.NoError(t, r.Broadcast("r1", domain.Event{Type: domain.EventGameEnded}, true))
	require.NoError(t, r.Broadcast("r2", domain.Event{Type: domain.EventGameEnded}, true))

	// bob's delivery must land while alice's sink is still wedged.
	assert.Eventually(t, func() bool { return fast.reliableCount() == 1 },
		time.Second, time.Millisecond)
}

func TestLeaveFiresCallbacksAndStopsDelivery(t *testing.T) {
	r := newTestRelay(t)
	sink := &fakeSink{}
	r.Register("alice", sink)
	r.Join("r1", "alice")

	var mu sync.Mutex
	var gone []string
	r.OnLeave(func(roomID, participantID string) {
		mu.Lock()
		gone = append(gone, roomID+"/"+participantID)
		mu.Unlock()
	})

	r.Leave("r1", "alice")
	mu.Lock()
	assert.Equal(t, []string{"r1/alice"}, gone)
	mu.Unlock()

	require.NoError(t, r.Broadcast("r1", domain.Event{Type: domain.EventGameStarted}, true))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.reliableCount())
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	r := newTestRelay(t)
	sink := &fakeSink{}
	r.Register("alice", sink)
	r.Join("r1", "alice")
	r.Join("r2", "alice")

	var mu sync.Mutex
	rooms := map[string]bool{}
	r.OnLeave(func(roomID, participantID string) {
		mu.Lock()
		rooms[roomID] = true
		mu.Unlock()
	})

	r.Disconnect("alice")
	mu.Lock()
	assert.True(t, rooms["r1"])
	assert.True(t, rooms["r2"])
	mu.Unlock()
	assert.Empty(t, r.Members("r1"))
	assert.Empty(t, r.Members("r2"))
}

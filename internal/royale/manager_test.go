package royale

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/domain"
)

type fakeNotifier struct {
	mu        sync.Mutex
	broadcast []domain.Event
}

func (f *fakeNotifier) Broadcast(roomID string, ev domain.Event, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.RoomID = roomID
	f.broadcast = append(f.broadcast, ev)
	return nil
}

func (f *fakeNotifier) SendToParticipant(string, domain.Event, bool) error { return nil }

func (f *fakeNotifier) ofType(t string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, ev := range f.broadcast {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeProvider struct {
	mu        sync.Mutex
	requested map[string]int
	stopped   []string
}

func newFakeProvider() *fakeProvider { return &fakeProvider{requested: make(map[string]int)} }

func (f *fakeProvider) RequestNPCs(_ context.Context, roomID string, count int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested[roomID] += count
	return make([]string, count), nil
}

func (f *fakeProvider) StopNPCs(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, roomID)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*domain.MatchRecord
}

func (f *fakeRecorder) RecordMatch(_ context.Context, rec *domain.MatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) ofKind(kind string) []*domain.MatchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.MatchRecord
	for _, rec := range f.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeNotifier, *fakeProvider) {
	t.Helper()
	notifier := &fakeNotifier{}
	provider := newFakeProvider()
	m := NewManager(cfg, notifier, provider, nil, zap.NewNop())
	t.Cleanup(m.Close)
	return m, notifier, provider
}

func player(i int) domain.Participant {
	id := fmt.Sprintf("p%d", i)
	return domain.Participant{ID: id, Name: id, JoinedAt: time.Now()}
}

func TestNPCCount(t *testing.T) {
	// 42 - P participants, never negative.
	cases := []struct{ participants, want int }{
		{0, 42}, {1, 41}, {21, 21}, {41, 1}, {42, 0}, {50, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NPCCount(42, tc.participants), "P=%d", tc.participants)
	}
}

func TestFirstJoinStartsCountdown(t *testing.T) {
	m, notifier, _ := newTestManager(t, Config{CountdownSeconds: 5})

	require.NoError(t, m.Join("arena", player(0)))

	// The countdown fires its first tick immediately.
	assert.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventRoyaleCountdown)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := m.RoomSnapshot("arena")
	require.NoError(t, err)
	assert.Equal(t, PhaseCountdown, snap.Phase)
	assert.Equal(t, "p0", snap.LeaderID)
}

func TestJoinIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, Config{CountdownSeconds: 60})
	require.NoError(t, m.Join("arena", player(0)))
	require.NoError(t, m.Join("arena", player(0)))

	snap, err := m.RoomSnapshot("arena")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Participants)
}

func TestCapacityReachedStartsImmediately(t *testing.T) {
	// Small capacity keeps the test cheap; the countdown would otherwise
	// run for a minute.
	m, notifier, provider := newTestManager(t, Config{
		Capacity:         3,
		CountdownSeconds: 60,
		TickRate:         50,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Join("arena", player(i)))
	}

	started := notifier.ofType(domain.EventRoyaleStarted)
	require.Len(t, started, 1)
	payload := started[0].Data.(domain.RoyaleStartedEvent)
	assert.Equal(t, 3, payload.Participants)
	assert.Equal(t, 0, payload.NPCCount)
	assert.Equal(t, 0, payload.SideGames)

	snap, err := m.RoomSnapshot("arena")
	require.NoError(t, err)
	assert.Equal(t, PhaseInProgress, snap.Phase)

	// No backfill needed, so nothing was provisioned.
	provider.mu.Lock()
	assert.Zero(t, provider.requested["arena"])
	provider.mu.Unlock()
}

func TestBackfillProvisionsNPCs(t *testing.T) {
	m, notifier, provider := newTestManager(t, Config{
		Capacity:         5,
		CountdownSeconds: 1,
		TickRate:         50,
	})

	require.NoError(t, m.Join("arena", player(0)))
	require.NoError(t, m.Join("arena", player(1)))

	assert.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventRoyaleStarted)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	payload := notifier.ofType(domain.EventRoyaleStarted)[0].Data.(domain.RoyaleStartedEvent)
	assert.Equal(t, 2, payload.Participants)
	assert.Equal(t, 3, payload.NPCCount)
	assert.Equal(t, 3, payload.SideGames)

	provider.mu.Lock()
	assert.Equal(t, 3, provider.requested["arena"])
	provider.mu.Unlock()
}

func TestGameTicksAndBroadcastsState(t *testing.T) {
	m, notifier, _ := newTestManager(t, Config{
		Capacity:         2,
		CountdownSeconds: 60,
		TickRate:         100,
	})
	require.NoError(t, m.Join("arena", player(0)))
	require.NoError(t, m.Join("arena", player(1)))

	assert.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventRoyaleState)) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	states := notifier.ofType(domain.EventRoyaleState)
	first := states[0].Data.(domain.RoyaleStateEvent)
	last := states[len(states)-1].Data.(domain.RoyaleStateEvent)
	assert.Greater(t, last.Main.Seq, first.Main.Seq)
}

func TestAttackValidation(t *testing.T) {
	m, notifier, _ := newTestManager(t, Config{
		Capacity:         3,
		CountdownSeconds: 1,
		TickRate:         50,
	})
	require.NoError(t, m.Join("arena", player(0)))

	// Not in progress yet.
	assert.Error(t, m.Attack("arena", "p0", "whatever"))

	assert.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventRoyaleStarted)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	ids, err := m.SideGameIDs("arena")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	assert.NoError(t, m.Attack("arena", "p0", ids[0]))
	assert.ErrorIs(t, m.Attack("arena", "p0", "missing"), domain.ErrMatchNotFound)
	assert.Error(t, m.Attack("arena", "outsider", ids[0]))
	assert.ErrorIs(t, m.Attack("nope", "p0", ids[0]), domain.ErrRoomNotFound)
}

func TestLeaderLeaveHandsOverPaddle(t *testing.T) {
	m, notifier, _ := newTestManager(t, Config{Capacity: 4, CountdownSeconds: 60})
	require.NoError(t, m.Join("arena", player(0)))
	require.NoError(t, m.Join("arena", player(1)))

	require.NoError(t, m.Leave("arena", "p0"))

	snap, err := m.RoomSnapshot("arena")
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.LeaderID)

	changed := notifier.ofType(domain.EventAuthorityChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "p1", changed[0].Data.(domain.AuthorityChangedEvent).ParticipantID)
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	m, _, provider := newTestManager(t, Config{CountdownSeconds: 60})
	require.NoError(t, m.Join("arena", player(0)))
	require.NoError(t, m.Leave("arena", "p0"))

	_, err := m.RoomSnapshot("arena")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Contains(t, provider.stopped, "arena")
}

func TestSideGamesFinishAndUpdateSurvivors(t *testing.T) {
	// One participant in a 3-slot room yields 2 side games. A high win
	// score keeps the main game running while the stalemate cap settles
	// both side games after two simulated seconds.
	notifier := &fakeNotifier{}
	provider := newFakeProvider()
	recorder := &fakeRecorder{}
	m := NewManager(Config{
		Capacity:         3,
		CountdownSeconds: 1,
		WinScore:         50,
		TickRate:         200,
		SideGameMax:      2 * time.Second,
	}, notifier, provider, recorder, zap.NewNop())
	t.Cleanup(m.Close)
	require.NoError(t, m.Join("arena", player(0)))

	require.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventSurvivorsUpdated)) >= 1
	}, 15*time.Second, 50*time.Millisecond)

	updates := notifier.ofType(domain.EventSurvivorsUpdated)
	require.NotEmpty(t, updates)
	ev := updates[0].Data.(domain.SurvivorsUpdatedEvent)
	assert.Less(t, ev.Survivors, 3)
	assert.NotEmpty(t, ev.SideGameID)

	// Each decided side game lands in the match history.
	assert.Eventually(t, func() bool {
		return len(recorder.ofKind(domain.MatchKindRoyaleSide)) >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestGameOverStopsRoomAndBroadcastsEnd(t *testing.T) {
	// With both side games settled by the cap, survivors drop to 1, which
	// ends the whole room and stops the tick loop.
	m, notifier, _ := newTestManager(t, Config{
		Capacity:         3,
		CountdownSeconds: 1,
		WinScore:         50,
		TickRate:         200,
		SideGameMax:      2 * time.Second,
		GracePeriod:      time.Hour,
	})
	require.NoError(t, m.Join("arena", player(0)))

	require.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventRoyaleEnded)) >= 1
	}, 30*time.Second, 50*time.Millisecond)

	assert.Len(t, notifier.ofType(domain.EventRoyaleEnded), 1)

	snap, err := m.RoomSnapshot("arena")
	require.NoError(t, err)
	assert.Equal(t, PhaseOver, snap.Phase)
	assert.LessOrEqual(t, snap.Survivors, 1)

	// The loop is stopped, not paused: the state stream dries up.
	n := len(notifier.ofType(domain.EventRoyaleState))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, len(notifier.ofType(domain.EventRoyaleState)))

	// A finished room refuses new joins.
	assert.Error(t, m.Join("arena", player(5)))
}

func TestJoinFullRoomRejected(t *testing.T) {
	m, _, _ := newTestManager(t, Config{
		Capacity:         2,
		CountdownSeconds: 60,
		TickRate:         50,
	})
	require.NoError(t, m.Join("arena", player(0)))
	require.NoError(t, m.Join("arena", player(1)))

	snap, err := m.RoomSnapshot("arena")
	require.NoError(t, err)
	require.Equal(t, PhaseInProgress, snap.Phase)

	assert.ErrorIs(t, m.Join("arena", player(2)), domain.ErrRoomFull)
}

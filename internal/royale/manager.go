package royale

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/npc"
	"github.com/ernie/paddle-arena/internal/npc/provision"
	"github.com/ernie/paddle-arena/internal/physics"
	"github.com/ernie/paddle-arena/internal/sched"
)

// Notifier delivers events to rooms and participants.
type Notifier interface {
	Broadcast(roomID string, ev domain.Event, reliable bool) error
	SendToParticipant(participantID string, ev domain.Event, reliable bool) error
}

// Recorder persists finished matches; may be nil.
type Recorder interface {
	RecordMatch(ctx context.Context, rec *domain.MatchRecord) error
}

// Manager is the injected battle-royale room registry.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg      Config
	notifier Notifier
	provider provision.Provider
	recorder Recorder
	log      *zap.Logger
}

// newSeed derives an odd engine seed from uuid randomness.
func newSeed() uint64 {
	return uint64(uuid.New().ID())<<32 | uint64(uuid.New().ID()) | 1
}

// NewManager creates the registry.
func NewManager(cfg Config, notifier Notifier, provider provision.Provider, recorder Recorder, log *zap.Logger) *Manager {
	cfg.Normalize()
	return &Manager{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		notifier: notifier,
		provider: provider,
		recorder: recorder,
		log:      log,
	}
}

// Close stops every room's scheduler and pending destruction timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		r.scheduler.Stop()
		if r.destroyTimer != nil {
			r.destroyTimer.Stop()
		}
	}
}

// Join adds a participant, creating the room on first use. The first join
// starts the countdown; reaching capacity starts the game immediately.
func (m *Manager) Join(roomID string, p domain.Participant) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = &Room{
			ID:          roomID,
			phase:       PhaseCountdown,
			scheduler:   sched.New(),
			createdAt:   time.Now(),
			humanTarget: -1,
		}
		m.rooms[roomID] = r
		m.log.Info("royale room created", zap.String("room_id", roomID))
	}
	if r.phase == PhaseOver {
		m.mu.Unlock()
		return fmt.Errorf("%w: royale room %s is over", domain.ErrRoomNotFound, roomID)
	}
	if r.participantIndex(p.ID) >= 0 {
		m.mu.Unlock()
		return nil // idempotent rejoin
	}
	if len(r.participants) >= m.cfg.Capacity {
		m.mu.Unlock()
		return fmt.Errorf("%w: royale room %s", domain.ErrRoomFull, roomID)
	}

	r.participants = append(r.participants, p)
	if r.leaderID == "" {
		r.leaderID = p.ID
	}
	first := len(r.participants) == 1
	full := len(r.participants) == m.cfg.Capacity
	started := r.phase == PhaseInProgress
	m.mu.Unlock()

	m.log.Info("royale join",
		zap.String("room_id", roomID),
		zap.String("participant_id", p.ID),
		zap.Bool("leader", first))

	if started {
		return nil // late joiner becomes audience for the running game
	}
	if full {
		r.scheduler.CancelCountdown()
		m.startGame(r)
		return nil
	}
	if first {
		m.startCountdown(r)
	}
	return nil
}

func (m *Manager) startCountdown(r *Room) {
	ok := r.scheduler.StartCountdown(m.cfg.CountdownSeconds,
		func(secondsLeft int) {
			m.mu.Lock()
			n := len(r.participants)
			m.mu.Unlock()
			m.broadcast(r.ID, domain.Event{
				Type: domain.EventRoyaleCountdown,
				Data: domain.RoyaleCountdownEvent{SecondsLeft: secondsLeft, Participants: n},
			}, true)
		},
		func() { m.startGame(r) },
	)
	if !ok {
		m.log.Warn("countdown not started", zap.String("room_id", r.ID),
			zap.String("scheduler_state", r.scheduler.State().String()))
	}
}

// startGame backfills NPCs, builds the main game and the side games, and
// starts the tick loop.
func (m *Manager) startGame(r *Room) {
	m.mu.Lock()
	if r.phase != PhaseCountdown {
		m.mu.Unlock()
		return
	}
	r.phase = PhaseInProgress
	r.startedAt = time.Now()

	participants := len(r.participants)
	r.npcCount = NPCCount(m.cfg.Capacity, participants)
	sideGames := r.npcCount
	if limit := m.cfg.Capacity - 1; sideGames > limit {
		sideGames = limit
	}

	r.mainEngine = physics.NewEngine(m.cfg.Physics, newSeed())
	r.mainState = r.mainEngine.NewState()
	r.mainEngine.Launch(r.mainState, domain.SideBottom)
	mainCtrl, err := npc.New(m.cfg.MainNPC, r.mainEngine, newSeed())
	if err != nil {
		// Difficulty presets are validated at config load, so only a
		// custom override can fail here. Fall back to the defaults.
		mainCtrl, _ = npc.New(npc.Config{Mode: npc.ModePID, Difficulty: npc.DifficultyHard}, r.mainEngine, 1)
	}
	r.mainNPC = mainCtrl

	r.sideGames = make([]*sideGame, 0, sideGames)
	for i := 0; i < sideGames; i++ {
		engine := physics.NewEngine(m.cfg.Physics, newSeed())
		state := engine.NewState()
		engine.Launch(state, domain.SideBottom)
		// Uneven pairing so a side game can actually be lost.
		bottom, _ := npc.New(npc.Config{Mode: npc.ModeTechnician, Difficulty: npc.DifficultyHard}, engine, newSeed())
		top, _ := npc.New(npc.Config{Mode: npc.ModePID, Difficulty: npc.DifficultyEasy}, engine, newSeed())
		r.sideGames = append(r.sideGames, &sideGame{
			id:     uuid.NewString(),
			engine: engine,
			state:  state,
			bottom: bottom,
			top:    top,
		})
	}
	r.survivors = participants + sideGames
	npcCount := r.npcCount
	m.mu.Unlock()

	if npcCount > 0 {
		if _, err := m.provider.RequestNPCs(context.Background(), r.ID, npcCount); err != nil {
			m.log.Warn("npc backfill failed", zap.String("room_id", r.ID), zap.Error(err))
		}
	}

	m.broadcast(r.ID, domain.Event{
		Type: domain.EventRoyaleStarted,
		Data: domain.RoyaleStartedEvent{
			Participants: participants,
			NPCCount:     npcCount,
			SideGames:    sideGames,
		},
	}, true)

	interval := time.Second / time.Duration(m.cfg.TickRate)
	r.scheduler.StartTicker(interval, func(dt float64) { m.tick(r, dt) })

	m.log.Info("royale started",
		zap.String("room_id", r.ID),
		zap.Int("participants", participants),
		zap.Int("npc_count", npcCount),
		zap.Int("side_games", sideGames))
}

// tick advances the main game and every active side game by dt seconds.
func (m *Manager) tick(r *Room, dt float64) {
	m.mu.Lock()
	if r.phase != PhaseInProgress {
		m.mu.Unlock()
		return
	}

	// Leader paddle toward the requested center, NPC on top.
	if r.humanTarget >= 0 {
		p := r.mainState.Paddle(domain.SideBottom)
		p.X = clampX(r.humanTarget-p.Width/2, p.Width, r.mainState.Bounds.Width)
	}
	delta := r.mainNPC.ComputeDelta(r.mainState, domain.SideTop, dt)
	top := r.mainState.Paddle(domain.SideTop)
	top.X = clampX(top.X+delta, top.Width, r.mainState.Bounds.Width)

	mainWon := false
	if events, err := r.mainEngine.Step(r.mainState, dt); err == nil {
		for _, ev := range events {
			if ev.Scorer == domain.SideBottom {
				r.mainScore.Bottom++
			} else {
				r.mainScore.Top++
			}
			r.mainNPC.Reset()
		}
		mainWon = r.mainScore.Bottom >= m.cfg.WinScore || r.mainScore.Top >= m.cfg.WinScore
	} else {
		m.log.Warn("main game tick skipped", zap.String("room_id", r.ID), zap.Error(err))
	}

	var finished []*sideGame
	for _, g := range r.sideGames {
		if g.tick(dt, m.cfg.AttackBoost, m.cfg.WinScore, m.cfg.SideGameMax.Seconds()) {
			r.survivors--
			finished = append(finished, g)
		}
	}

	snapshot := *r.mainState
	snapshot.Score = r.mainScore
	survivors := r.survivors
	over := mainWon || survivors <= 1
	if over {
		r.phase = PhaseOver
		if r.mainScore.Bottom >= r.mainScore.Top {
			r.winner = r.leaderID
		} else {
			r.winner = "npc"
		}
	}
	winner := r.winner
	score := r.mainScore
	m.mu.Unlock()

	for _, g := range finished {
		m.broadcast(r.ID, domain.Event{
			Type: domain.EventSurvivorsUpdated,
			Data: domain.SurvivorsUpdatedEvent{
				Survivors:  survivors,
				SideGameID: g.id,
				Winner:     g.winner,
			},
		}, true)
		m.recordSideGame(r, g)
	}

	m.broadcast(r.ID, domain.Event{
		Type: domain.EventRoyaleState,
		Seq:  snapshot.Seq,
		Data: domain.RoyaleStateEvent{Main: snapshot, Survivors: survivors},
	}, false)

	if over {
		m.finish(r, winner, score, &snapshot)
	}
}

// recordSideGame persists a decided NPC side game. The game is immutable
// once over, so no lock is needed around the record.
func (m *Manager) recordSideGame(r *Room, g *sideGame) {
	if m.recorder == nil {
		return
	}
	winner := "npc-technician"
	if g.winner == domain.SideTop {
		winner = "npc-pid"
	}
	rec := &domain.MatchRecord{
		RoomID:      r.ID,
		Kind:        domain.MatchKindRoyaleSide,
		BottomName:  "npc-technician",
		TopName:     "npc-pid",
		WinnerName:  winner,
		ScoreBottom: g.score.Bottom,
		ScoreTop:    g.score.Top,
		StartedAt:   r.startedAt,
		EndedAt:     time.Now(),
	}
	if b, err := json.Marshal(g.state); err == nil {
		rec.FinalState = b
	}
	if err := m.recorder.RecordMatch(context.Background(), rec); err != nil {
		m.log.Warn("recording side game failed", zap.String("room_id", r.ID), zap.Error(err))
	}
}

// finish stops the tick loop, announces the result and schedules the
// room's destruction after the grace period.
func (m *Manager) finish(r *Room, winner string, score domain.Score, final *domain.GameState) {
	r.scheduler.Stop()

	m.mu.Lock()
	survivors := r.survivors
	started := r.startedAt
	leader := r.leaderID
	r.destroyTimer = time.AfterFunc(m.cfg.GracePeriod, func() { m.destroy(r.ID) })
	m.mu.Unlock()

	m.broadcast(r.ID, domain.Event{
		Type: domain.EventRoyaleEnded,
		Data: domain.RoyaleEndedEvent{Winner: winner, Survivors: survivors},
	}, true)

	m.log.Info("royale over",
		zap.String("room_id", r.ID),
		zap.String("winner", winner),
		zap.Int("survivors", survivors))

	if m.recorder != nil {
		rec := &domain.MatchRecord{
			RoomID:      r.ID,
			Kind:        domain.MatchKindRoyaleMain,
			BottomName:  leader,
			TopName:     "npc",
			WinnerName:  winner,
			ScoreBottom: score.Bottom,
			ScoreTop:    score.Top,
			StartedAt:   started,
			EndedAt:     time.Now(),
		}
		if b, err := json.Marshal(final); err == nil {
			rec.FinalState = b
		}
		if err := m.recorder.RecordMatch(context.Background(), rec); err != nil {
			m.log.Warn("recording royale match failed", zap.String("room_id", r.ID), zap.Error(err))
		}
	}
}

// SetPaddleTarget records the leader's paddle input. Input from anyone
// else only ever affects the attack mechanic, never a paddle.
func (m *Manager) SetPaddleTarget(roomID, participantID string, targetX float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	if r.leaderID != participantID {
		return nil
	}
	r.humanTarget = targetX
	return nil
}

// Attack applies a transient ball-speed boost to one active side game.
// The target must exist and must not be over.
func (m *Manager) Attack(roomID, participantID, sideGameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	if r.phase != PhaseInProgress {
		return fmt.Errorf("royale room %s is not in progress", roomID)
	}
	if r.participantIndex(participantID) < 0 {
		return fmt.Errorf("%w: participant %s", domain.ErrRoomNotFound, participantID)
	}
	g := r.sideGame(sideGameID)
	if g == nil {
		return fmt.Errorf("%w: side game %s", domain.ErrMatchNotFound, sideGameID)
	}
	if g.over {
		return fmt.Errorf("%w: side game %s already decided", domain.ErrDuplicateResult, sideGameID)
	}
	g.attackFor = m.cfg.AttackSeconds
	m.log.Debug("attack applied",
		zap.String("room_id", roomID),
		zap.String("side_game_id", sideGameID),
		zap.String("participant_id", participantID))
	return nil
}

// Leave removes a participant. The leader leaving hands the main paddle to
// the next participant; the last participant leaving frees the room and its
// timers immediately.
func (m *Manager) Leave(roomID, participantID string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	i := r.participantIndex(participantID)
	if i < 0 {
		m.mu.Unlock()
		return nil
	}
	r.participants = append(r.participants[:i], r.participants[i+1:]...)
	empty := len(r.participants) == 0
	var newLeader string
	if !empty && r.leaderID == participantID {
		r.leaderID = r.participants[0].ID
		r.humanTarget = -1
		newLeader = r.leaderID
	}
	m.mu.Unlock()

	if empty {
		m.destroy(roomID)
		return nil
	}
	if newLeader != "" {
		m.broadcast(roomID, domain.Event{
			Type: domain.EventAuthorityChanged,
			Data: domain.AuthorityChangedEvent{ParticipantID: newLeader, Slot: 1},
		}, true)
	}
	return nil
}

// destroy frees the room's scheduler, timers and provisioned NPCs.
func (m *Manager) destroy(roomID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if ok {
		r.scheduler.Stop()
		if r.destroyTimer != nil {
			r.destroyTimer.Stop()
		}
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = m.provider.StopNPCs(context.Background(), roomID)
	m.log.Info("royale room destroyed", zap.String("room_id", roomID))
}

// Snapshot is the read-only projection for the REST surface.
type Snapshot struct {
	ID           string    `json:"id"`
	Phase        Phase     `json:"phase"`
	Participants int       `json:"participants"`
	LeaderID     string    `json:"leader_id,omitempty"`
	NPCCount     int       `json:"npc_count"`
	SideGames    int       `json:"side_games"`
	ActiveSide   int       `json:"active_side_games"`
	Survivors    int       `json:"survivors"`
	Winner       string    `json:"winner,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Rooms lists snapshots of every live royale room.
func (m *Manager) Rooms() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, snapshotOf(r))
	}
	return out
}

// RoomSnapshot returns one royale room's projection.
func (m *Manager) RoomSnapshot(roomID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	return snapshotOf(r), nil
}

// SideGameIDs lists the ids attackable right now, for clients.
func (m *Manager) SideGameIDs(roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	ids := make([]string, 0, len(r.sideGames))
	for _, g := range r.sideGames {
		if !g.over {
			ids = append(ids, g.id)
		}
	}
	return ids, nil
}

func snapshotOf(r *Room) Snapshot {
	return Snapshot{
		ID:           r.ID,
		Phase:        r.phase,
		Participants: len(r.participants),
		LeaderID:     r.leaderID,
		NPCCount:     r.npcCount,
		SideGames:    len(r.sideGames),
		ActiveSide:   r.activeSideGames(),
		Survivors:    r.survivors,
		Winner:       r.winner,
		CreatedAt:    r.createdAt,
	}
}

func (m *Manager) broadcast(roomID string, ev domain.Event, reliable bool) {
	if err := m.notifier.Broadcast(roomID, ev, reliable); err != nil {
		m.log.Warn("broadcast failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

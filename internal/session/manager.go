// Package session owns the one and two player rooms: slot allocation, authority
// designation, score arbitration, disconnect handling and idle cleanup.
package session

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

// Notifier delivers events to rooms and participants. Implemented by the
// relay; tests substitute a recording fake.
type Notifier interface {
	Broadcast(roomID string, ev domain.Event, reliable bool) error
	SendToParticipant(participantID string, ev domain.Event, reliable bool) error
}

// Recorder persists finished matches. Implemented by the storage package.
type Recorder interface {
	RecordMatch(ctx context.Context, rec *domain.MatchRecord) error
}

// Config tunes the room manager.
type Config struct {
	WinningScore int           `yaml:"winning_score"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	SweepEvery   time.Duration `yaml:"sweep_every"`
	TickRate     int           `yaml:"tick_rate"` // server-simulated rooms, Hz

	Physics physics.Config `yaml:"physics"`
	NPC     npc.Config     `yaml:"npc"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.WinningScore <= 0 {
		c.WinningScore = 5
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.TickRate <= 0 {
		c.TickRate = 60
	}
	c.Physics.Normalize()
}

// Manager is the injected room registry. Rooms do not share mutable state;
// the registry map is the only structure touched by concurrent joins and
// leaves.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg      Config
	notifier Notifier
	provider provision.Provider
	recorder Recorder
	log      *zap.Logger
	reaper   *sched.Scheduler
}

// NewManager creates the registry and starts the idle-room reaper.
// recorder may be nil when match history is disabled.
func NewManager(cfg Config, notifier Notifier, provider provision.Provider, recorder Recorder, log *zap.Logger) *Manager {
	cfg.Normalize()
	m := &Manager{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		notifier: notifier,
		provider: provider,
		recorder: recorder,
		log:      log,
		reaper:   sched.New(),
	}
	m.reaper.StartTicker(cfg.SweepEvery, func(float64) { m.sweep() })
	return m
}

// Close stops the reaper and every room ticker.
func (m *Manager) Close() {
	m.reaper.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ticker != nil {
			r.ticker.Stop()
		}
	}
}

// newSeed derives an odd engine seed from uuid randomness.
func newSeed() uint64 {
	return uint64(uuid.New().ID())<<32 | uint64(uuid.New().ID()) | 1
}

// CreateRoom registers a new room and returns its id.
func (m *Manager) CreateRoom() string {
	id := uuid.NewString()
	engine := physics.NewEngine(m.cfg.Physics, newSeed())

	m.mu.Lock()
	m.rooms[id] = newRoom(id, engine)
	m.mu.Unlock()

	m.log.Info("room created", zap.String("room_id", id))
	return id
}

// CreateTournamentRoom registers a room bound to a tournament so its result
// is recorded against the bracket. Called by the tournament manager when a
// round's pairings are built.
func (m *Manager) CreateTournamentRoom(tournamentID string) string {
	id := uuid.NewString()
	engine := physics.NewEngine(m.cfg.Physics, newSeed())
	r := newRoom(id, engine)
	r.tournamentID = tournamentID

	m.mu.Lock()
	m.rooms[id] = r
	m.mu.Unlock()

	m.log.Info("tournament room created",
		zap.String("room_id", id),
		zap.String("tournament_id", tournamentID))
	return id
}

// GetOrCreateRoom returns the room with the given id, creating it on first
// use so clients can share a room by agreeing on its name.
func (m *Manager) GetOrCreateRoom(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		engine := physics.NewEngine(m.cfg.Physics, newSeed())
		r = newRoom(id, engine)
		m.rooms[id] = r
		m.log.Info("room created", zap.String("room_id", id))
	}
	return r
}

// room looks a room up.
func (m *Manager) room(id string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	return r, nil
}

// JoinResult reports the outcome of a join.
type JoinResult struct {
	Slot            int
	Spectator       bool
	IsAuthoritative bool
	Rejoined        bool
}

// Join places the participant in the room: lowest free ordinal, spectator
// when full. Rejoining with the same identity is idempotent and returns the
// previously held seat. A full room is not an error for the caller.
func (m *Manager) Join(roomID string, p domain.Participant) (JoinResult, error) {
	r, err := m.room(roomID)
	if err != nil {
		return JoinResult{}, err
	}

	m.mu.Lock()
	slot, spectator, rejoined := r.join(p)
	var authoritative bool
	if s := r.slotOf(p.ID); s != nil {
		authoritative = s.Authoritative
	}
	ready := r.playerCount() == maxSlots && r.phase == domain.PhaseWaiting
	var syncState *domain.GameState
	if r.phase == domain.PhaseInProgress && r.state != nil {
		st := *r.state
		syncState = &st
	}
	m.mu.Unlock()

	res := JoinResult{Slot: slot, Spectator: spectator, IsAuthoritative: authoritative, Rejoined: rejoined}

	m.send(p.ID, domain.Event{
		Type: domain.EventRoomJoined,
		Data: domain.RoomJoinedEvent{
			RoomID:          roomID,
			Slot:            slot,
			IsAuthoritative: authoritative,
			Spectator:       spectator,
		},
	})
	if syncState != nil {
		// Catch the joiner up on a game already in flight.
		m.send(p.ID, domain.Event{
			Type: domain.EventFullGameState,
			Seq:  syncState.Seq,
			Data: *syncState,
		})
	}
	if !rejoined {
		m.broadcast(roomID, domain.Event{
			Type: domain.EventParticipantJoined,
			Data: domain.ParticipantJoinedEvent{Participant: p, Slot: slot, Spectator: spectator},
		}, true)
	}
	if ready {
		m.broadcast(roomID, domain.Event{Type: domain.EventGameReady}, true)
	}

	m.log.Info("participant joined room",
		zap.String("room_id", roomID),
		zap.String("participant_id", p.ID),
		zap.Int("slot", slot),
		zap.Bool("spectator", spectator))
	return res, nil
}

// EnableNPC fills the given slot with an NPC-controlled participant and
// switches the room to server-side simulation. The provisioning collaborator
// is asked for one session; its failure aborts the enable.
func (m *Manager) EnableNPC(roomID string, side domain.Side, cfg npc.Config) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ord := 1
	if side == domain.SideTop {
		ord = 2
	}
	if r.slots[ord] != nil {
		return fmt.Errorf("%w: slot %d occupied", domain.ErrRoomFull, ord)
	}

	ids, err := m.provider.RequestNPCs(context.Background(), roomID, 1)
	if err != nil {
		return fmt.Errorf("provisioning npc: %w", err)
	}

	ctrl, err := npc.New(cfg, r.engine, newSeed())
	if err != nil {
		_ = m.provider.StopNPCs(context.Background(), roomID)
		return err
	}

	name := "npc"
	if len(ids) > 0 {
		name = "npc-" + ids[0][:8]
	}
	r.slots[ord] = &domain.Slot{
		Ordinal:     ord,
		Participant: domain.Participant{ID: name, Name: name, JoinedAt: time.Now()},
		NPC:         true,
	}
	r.npcCtrl = ctrl
	r.npcSide = side
	r.serverSim = true
	r.touch()

	m.log.Info("npc enabled",
		zap.String("room_id", roomID),
		zap.Int("slot", ord),
		zap.String("mode", string(cfg.Mode)),
		zap.String("difficulty", string(cfg.Difficulty)))
	return nil
}

// DisableNPC vacates the NPC slot, for a human to take over.
func (m *Manager) DisableNPC(roomID string) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for ord := 1; ord <= maxSlots; ord++ {
		if s := r.slots[ord]; s != nil && s.NPC {
			r.slots[ord] = nil
		}
	}
	r.npcCtrl = nil
	r.npcSide = domain.SideNone
	r.serverSim = false
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
	return m.provider.StopNPCs(context.Background(), roomID)
}

// StartGame moves the room to IN_PROGRESS. Both slots must be filled.
// Server-simulated rooms start their tick loop here; client-authoritative
// rooms only get the initial state broadcast.
func (m *Manager) StartGame(roomID string) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if r.phase == domain.PhaseInProgress {
		m.mu.Unlock()
		return nil
	}
	if r.playerCount() < maxSlots {
		m.mu.Unlock()
		return fmt.Errorf("room %s: need %d players to start", roomID, maxSlots)
	}
	r.phase = domain.PhaseInProgress
	r.score = domain.Score{}
	r.state = r.engine.NewState()
	r.startedAt = time.Now()
	r.lastSeq = 0
	serve := domain.SideBottom
	r.engine.Launch(r.state, serve)
	if r.npcCtrl != nil {
		r.npcCtrl.Reset()
	}
	initial := *r.state
	serverSim := r.serverSim
	m.mu.Unlock()

	m.broadcast(roomID, domain.Event{
		Type: domain.EventGameStarted,
		Data: domain.GameStartedEvent{State: initial},
	}, true)

	if serverSim {
		m.startTicker(r)
	}

	m.log.Info("game started", zap.String("room_id", roomID), zap.Bool("server_sim", serverSim))
	return nil
}

// startTicker runs the fixed-rate server simulation for NPC-backed rooms.
func (m *Manager) startTicker(r *Room) {
	interval := time.Second / time.Duration(m.cfg.TickRate)
	ticker := sched.New()

	m.mu.Lock()
	if r.ticker != nil {
		r.ticker.Stop()
	}
	r.ticker = ticker
	m.mu.Unlock()

	ticker.StartTicker(interval, func(dt float64) { m.tickRoom(r, dt) })
}

// tickRoom advances one server-simulated room by dt seconds.
func (m *Manager) tickRoom(r *Room, dt float64) {
	m.mu.Lock()
	if r.phase != domain.PhaseInProgress {
		m.mu.Unlock()
		return
	}

	// Steer the human paddles toward their requested targets.
	for ord := 1; ord <= maxSlots; ord++ {
		if target := r.humanTarget[ord]; target >= 0 {
			p := r.state.Paddle(sideOf(ord))
			p.X = clampPaddleX(target-p.Width/2, p.Width, r.state.Bounds.Width)
		}
	}

	if r.npcCtrl != nil {
		delta := r.npcCtrl.ComputeDelta(r.state, r.npcSide, dt)
		p := r.state.Paddle(r.npcSide)
		p.X = clampPaddleX(p.X+delta, p.Width, r.state.Bounds.Width)
	}

	events, err := r.engine.Step(r.state, dt)
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("tick skipped", zap.String("room_id", r.ID), zap.Error(err))
		return
	}
	if len(events) > 0 && r.npcCtrl != nil {
		r.npcCtrl.Reset() // rally restart
	}
	snapshot := *r.state
	m.mu.Unlock()

	m.broadcast(r.ID, domain.Event{
		Type: domain.EventGameState,
		Seq:  snapshot.Seq,
		Data: snapshot,
	}, false)

	for _, ev := range events {
		m.applyScore(r, ev.Scorer)
	}
}

// SubmitState accepts a state broadcast from the room's authoritative
// participant and relays it. Non-authoritative submissions are logged and
// dropped. Stale sequence numbers lose to the last writer.
func (m *Manager) SubmitState(roomID, participantID string, state domain.GameState) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := r.slotOf(participantID)
	if s == nil || !s.Authoritative || r.serverSim {
		m.mu.Unlock()
		m.log.Debug("state from non-authoritative participant dropped",
			zap.String("room_id", roomID), zap.String("participant_id", participantID))
		return nil
	}
	if state.Seq <= r.lastSeq {
		m.mu.Unlock()
		return nil // stale update, last writer wins
	}
	if !state.Finite() {
		m.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, domain.ErrMalformedState)
	}
	r.lastSeq = state.Seq
	r.state = &state
	r.touch()
	m.mu.Unlock()

	m.broadcast(roomID, domain.Event{
		Type: domain.EventGameState,
		Seq:  state.Seq,
		Data: state,
	}, false)
	return nil
}

// SubmitScore arbitrates a score-increment event. Only the authoritative
// participant may score; anything else is dropped and logged.
func (m *Manager) SubmitScore(roomID, participantID string, scorer domain.Side) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := r.slotOf(participantID)
	if s == nil || !s.Authoritative {
		m.mu.Unlock()
		m.log.Warn("unauthorized score event dropped",
			zap.String("room_id", roomID),
			zap.String("participant_id", participantID))
		return domain.ErrUnauthorizedScore
	}
	if r.phase != domain.PhaseInProgress {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.applyScore(r, scorer)
	return nil
}

// SetPaddleTarget records a human paddle input for server-simulated rooms.
func (m *Manager) SetPaddleTarget(roomID, participantID string, targetX float64) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := r.slotOf(participantID)
	if s == nil || s.NPC {
		return nil
	}
	r.humanTarget[s.Ordinal] = targetX
	r.touch()
	return nil
}

// applyScore increments the tally, re-broadcasts it reliably, and closes
// the game when the winning score is reached. Scoring is strictly
// incremental, so the winner is deterministic.
func (m *Manager) applyScore(r *Room, scorer domain.Side) {
	m.mu.Lock()
	if r.phase != domain.PhaseInProgress {
		m.mu.Unlock()
		return
	}
	if scorer == domain.SideBottom {
		r.score.Bottom++
	} else {
		r.score.Top++
	}
	score := r.score
	r.touch()

	var winnerName string
	gameOver := false
	if score.Bottom >= m.cfg.WinningScore || score.Top >= m.cfg.WinningScore {
		gameOver = true
		r.phase = domain.PhaseOver
		winSide := domain.SideBottom
		if score.Top > score.Bottom {
			winSide = domain.SideTop
		}
		if s := r.slots[ordinalOf(winSide)]; s != nil {
			winnerName = s.Participant.Name
		}
		if r.ticker != nil {
			r.ticker.Stop()
			r.ticker = nil
		}
	}
	m.mu.Unlock()

	m.broadcast(r.ID, domain.Event{
		Type: domain.EventScoreUpdated,
		Data: domain.ScoreUpdatedEvent{Scores: score, GameOver: gameOver, Winner: winnerName},
	}, true)

	if gameOver {
		m.finishGame(r, winnerName, score)
	}
}

// finishGame broadcasts the terminal event and records the match.
func (m *Manager) finishGame(r *Room, winnerName string, score domain.Score) {
	m.broadcast(r.ID, domain.Event{
		Type: domain.EventGameEnded,
		Data: domain.GameEndedEvent{Winner: winnerName, FinalScores: score},
	}, true)

	m.log.Info("game over",
		zap.String("room_id", r.ID),
		zap.String("winner", winnerName),
		zap.Int("score_bottom", score.Bottom),
		zap.Int("score_top", score.Top))

	if m.recorder == nil {
		return
	}
	m.mu.RLock()
	rec := &domain.MatchRecord{
		RoomID:      r.ID,
		Kind:        domain.MatchKindRoom,
		ScoreBottom: score.Bottom,
		ScoreTop:    score.Top,
		WinnerName:  winnerName,
		StartedAt:   r.startedAt,
		EndedAt:     time.Now(),
	}
	if r.tournamentID != "" {
		rec.Kind = domain.MatchKindTournament
		rec.TournamentID = r.tournamentID
	}
	if s := r.slots[1]; s != nil {
		rec.BottomName = s.Participant.Name
	}
	if s := r.slots[2]; s != nil {
		rec.TopName = s.Participant.Name
	}
	if r.state != nil {
		if b, err := json.Marshal(r.state); err == nil {
			rec.FinalState = b
		}
	}
	m.mu.RUnlock()

	if err := m.recorder.RecordMatch(context.Background(), rec); err != nil {
		m.log.Warn("recording match failed", zap.String("room_id", r.ID), zap.Error(err))
	}
}

// ResetRoom returns an OVER room to WAITING for a rematch.
func (m *Manager) ResetRoom(roomID string) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.phase != domain.PhaseOver {
		return fmt.Errorf("room %s: cannot reset while %s", roomID, r.phase)
	}
	r.phase = domain.PhaseWaiting
	r.score = domain.Score{}
	r.state = r.engine.NewState()
	r.lastSeq = 0
	r.touch()
	return nil
}

// Leave removes the participant. An emptied room is deleted; a room with
// one remaining occupant grants them authority and returns to WAITING.
func (m *Manager) Leave(roomID, participantID string) error {
	r, err := m.room(roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	removed, newAuth := r.remove(participantID)
	remaining := r.playerCount()
	emptied := r.empty()
	if removed != nil && r.phase == domain.PhaseInProgress {
		r.phase = domain.PhaseWaiting
		if r.ticker != nil {
			r.ticker.Stop()
			r.ticker = nil
		}
	}
	m.mu.Unlock()

	if removed != nil {
		m.broadcast(roomID, domain.Event{
			Type: domain.EventPlayerLeft,
			Data: domain.PlayerLeftEvent{ParticipantID: participantID, Slot: removed.Ordinal},
		}, true)
	}
	if newAuth != nil {
		m.broadcast(roomID, domain.Event{
			Type: domain.EventAuthorityChanged,
			Data: domain.AuthorityChangedEvent{
				ParticipantID: newAuth.Participant.ID,
				Slot:          newAuth.Ordinal,
			},
		}, true)
	}

	if emptied {
		m.destroyRoom(roomID)
	} else {
		m.log.Info("participant left room",
			zap.String("room_id", roomID),
			zap.String("participant_id", participantID),
			zap.Int("players_remaining", remaining))
	}
	return nil
}

// destroyRoom drops the room and frees its timers and NPCs.
func (m *Manager) destroyRoom(roomID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if ok {
		if r.ticker != nil {
			r.ticker.Stop()
			r.ticker = nil
		}
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = m.provider.StopNPCs(context.Background(), roomID)
	m.log.Info("room destroyed", zap.String("room_id", roomID))
}

// sweep removes rooms idle beyond the configured timeout. Housekeeping,
// not an error path.
func (m *Manager) sweep() {
	m.mu.RLock()
	var expired []string
	for id, r := range m.rooms {
		if r.idleFor(m.cfg.IdleTimeout) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.log.Info("reaping idle room", zap.String("room_id", id))
		m.destroyRoom(id)
	}
}

// Rooms lists snapshots of every live room.
func (m *Manager) Rooms() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.snapshot(false))
	}
	return out
}

// RoomSnapshot returns one room's projection including game state.
func (m *Manager) RoomSnapshot(roomID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	return r.snapshot(true), nil
}

func (m *Manager) broadcast(roomID string, ev domain.Event, reliable bool) {
	if err := m.notifier.Broadcast(roomID, ev, reliable); err != nil {
		m.log.Warn("broadcast failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (m *Manager) send(participantID string, ev domain.Event) {
	if err := m.notifier.SendToParticipant(participantID, ev, true); err != nil {
		m.log.Warn("targeted send failed",
			zap.String("participant_id", participantID), zap.Error(err))
	}
}

func ordinalOf(side domain.Side) int {
	if side == domain.SideTop {
		return 2
	}
	return 1
}

func clampPaddleX(x, width, boundsWidth float64) float64 {
	if x < 0 {
		return 0
	}
	if x+width > boundsWidth {
		return boundsWidth - width
	}
	return x
}

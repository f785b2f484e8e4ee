package tournament

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/domain"
)

// Notifier delivers tournament events. Match-level events go only to the
// affected players; the terminal COMPLETED event is the one broadcast.
type Notifier interface {
	Broadcast(roomID string, ev domain.Event, reliable bool) error
	SendToParticipant(participantID string, ev domain.Event, reliable bool) error
}

// RoomAllocator provisions the session room a bracket match is played in.
// Implemented by the session manager; nil falls back to bare room ids.
type RoomAllocator interface {
	CreateTournamentRoom(tournamentID string) string
}

// Manager is the injected tournament registry.
type Manager struct {
	mu          sync.RWMutex
	tournaments map[string]*Tournament

	notifier Notifier
	rooms    RoomAllocator
	log      *zap.Logger
	seed     func() uint64
}

// NewManager creates the registry. seed is used for bracket shuffling and
// may be nil for a time-based default.
func NewManager(notifier Notifier, rooms RoomAllocator, log *zap.Logger, seed func() uint64) *Manager {
	if seed == nil {
		seed = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	return &Manager{
		tournaments: make(map[string]*Tournament),
		notifier:    notifier,
		rooms:       rooms,
		log:         log,
		seed:        seed,
	}
}

// matchRoom allocates the room a match will be played in.
func (m *Manager) matchRoom(tournamentID string) string {
	if m.rooms != nil {
		return m.rooms.CreateTournamentRoom(tournamentID)
	}
	return uuid.NewString()
}

// Create registers a new tournament. maxPlayers must be 2, 4 or 8.
func (m *Manager) Create(maxPlayers int) (string, error) {
	switch maxPlayers {
	case 2, 4, 8:
	default:
		return "", fmt.Errorf("%w: %d", domain.ErrInvalidPlayerCount, maxPlayers)
	}

	t := &Tournament{
		ID:         uuid.NewString(),
		MaxPlayers: maxPlayers,
		Status:     StatusRegistration,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.tournaments[t.ID] = t
	m.mu.Unlock()

	m.log.Info("tournament created",
		zap.String("tournament_id", t.ID),
		zap.Int("max_players", maxPlayers))
	return t.ID, nil
}

func (m *Manager) get(id string) (*Tournament, error) {
	t, ok := m.tournaments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTournamentNotFound, id)
	}
	return t, nil
}

// AddPlayer registers a participant: a player seat while capacity remains,
// a spectator afterwards. Returns the 1-based seed, 0 for spectators.
func (m *Manager) AddPlayer(tournamentID string, p domain.Participant) (int, error) {
	m.mu.Lock()
	t, err := m.get(tournamentID)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}

	if i := t.playerIndex(p.ID); i >= 0 {
		m.mu.Unlock()
		return i + 1, nil // already registered
	}

	seed := 0
	spectator := t.Status != StatusRegistration || len(t.Players) >= t.MaxPlayers
	if spectator {
		t.Spectators = append(t.Spectators, p)
	} else {
		t.Players = append(t.Players, p)
		seed = len(t.Players)
	}
	m.mu.Unlock()

	m.send(p.ID, domain.Event{
		Type: domain.EventTournamentJoined,
		Data: domain.TournamentJoinedEvent{
			TournamentID: tournamentID,
			Seed:         seed,
			Spectator:    spectator,
		},
	})

	m.log.Info("tournament registration",
		zap.String("tournament_id", tournamentID),
		zap.String("participant_id", p.ID),
		zap.Int("seed", seed),
		zap.Bool("spectator", spectator))
	return seed, nil
}

// Start shuffles the field, builds round one as adjacent pairs and
// pre-allocates the empty downstream rounds. Requires an exactly full
// bracket.
func (m *Manager) Start(tournamentID string) error {
	m.mu.Lock()
	t, err := m.get(tournamentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if t.Status != StatusRegistration {
		m.mu.Unlock()
		return fmt.Errorf("tournament %s already started", tournamentID)
	}
	if len(t.Players) != t.MaxPlayers {
		m.mu.Unlock()
		return fmt.Errorf("%w: have %d, need %d",
			domain.ErrInvalidPlayerCount, len(t.Players), t.MaxPlayers)
	}

	rng := rand.New(rand.NewPCG(m.seed(), m.seed()))
	rng.Shuffle(len(t.Players), func(i, j int) {
		t.Players[i], t.Players[j] = t.Players[j], t.Players[i]
	})

	total := rounds(t.MaxPlayers)
	t.Rounds = make([][]*Match, total)
	for r, size := 0, t.MaxPlayers/2; r < total; r, size = r+1, size/2 {
		t.Rounds[r] = make([]*Match, size)
		for i := range t.Rounds[r] {
			t.Rounds[r][i] = &Match{ID: uuid.NewString(), Round: r + 1, Index: i}
		}
	}
	for i, match := range t.Rounds[0] {
		p1, p2 := t.Players[2*i], t.Players[2*i+1]
		match.Player1 = &p1
		match.Player2 = &p2
		match.RoomID = m.matchRoom(t.ID)
	}

	t.Status = StatusInProgress
	t.CurrentRound = 0
	t.StartedAt = time.Now()
	players := t.MaxPlayers
	pairings := pairingsOf(t.Rounds[0])
	audience := t.everyone()
	m.mu.Unlock()

	ev := domain.Event{
		Type: domain.EventTournamentStarted,
		Data: domain.TournamentStartedEvent{
			TournamentID: tournamentID,
			Rounds:       total,
			NextMatches:  pairings,
		},
	}
	for _, p := range audience {
		m.send(p.ID, ev)
	}

	m.log.Info("tournament started",
		zap.String("tournament_id", tournamentID),
		zap.Int("players", players),
		zap.Int("rounds", total))
	return nil
}

// RecordResult marks a match completed and seats the winner in the next
// round. Only a seated player of a fully paired match may report, and a
// second result for the same match is ignored. Completion and elimination
// notices go only to the two players.
func (m *Manager) RecordResult(tournamentID, matchID, reporterID, winnerID string) error {
	m.mu.Lock()
	t, err := m.get(tournamentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	match := t.findMatch(matchID)
	if match == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrMatchNotFound, matchID)
	}
	if match.Completed {
		m.mu.Unlock()
		return fmt.Errorf("%w: match %s", domain.ErrDuplicateResult, matchID)
	}
	if match.Player1 == nil || match.Player2 == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: match %s", domain.ErrMatchNotReady, matchID)
	}
	if !match.has(reporterID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not in match %s", domain.ErrUnauthorizedResult, reporterID, matchID)
	}
	if !match.has(winnerID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not in match %s", domain.ErrMatchNotFound, winnerID, matchID)
	}

	match.Completed = true
	match.WinnerID = winnerID

	var winner domain.Participant
	if match.Player1.ID == winnerID {
		winner = *match.Player1
	} else {
		winner = *match.Player2
	}
	loser := match.opponent(winnerID)

	finalRound := match.Round == len(t.Rounds)
	if finalRound {
		t.Status = StatusCompleted
		t.WinnerID = winner.ID
		t.WinnerName = winner.Name
		t.CompletedAt = time.Now()
	} else {
		t.Rounds[match.Round][match.Index/2].place(winner)
	}
	m.mu.Unlock()

	notice := func(playerID string, won bool) domain.Event {
		return domain.Event{
			Type: domain.EventTournamentMatchComplete,
			Data: domain.TournamentMatchCompletedEvent{
				MatchID:      matchID,
				WinnerID:     winnerID,
				IsWinner:     won,
				IsEliminated: !won,
			},
		}
	}
	m.send(winner.ID, notice(winner.ID, true))
	if loser != nil {
		m.send(loser.ID, notice(loser.ID, false))
	}

	m.log.Info("match result recorded",
		zap.String("tournament_id", tournamentID),
		zap.String("match_id", matchID),
		zap.String("winner_id", winnerID))

	if finalRound {
		// The single full-audience event of the whole bracket.
		m.broadcast(tournamentID, domain.Event{
			Type: domain.EventTournamentCompleted,
			Data: domain.TournamentCompletedEvent{
				TournamentID: tournamentID,
				WinnerID:     winner.ID,
				WinnerName:   winner.Name,
			},
		})
		m.log.Info("tournament completed",
			zap.String("tournament_id", tournamentID),
			zap.String("winner", winner.Name))
	}
	return nil
}

// AdvanceRound moves to the next round once every current match has a
// result, assigning fresh room ids to the newly populated matches. Each
// advancing player is told only their own pairing.
func (m *Manager) AdvanceRound(tournamentID string) error {
	m.mu.Lock()
	t, err := m.get(tournamentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if t.Status != StatusInProgress {
		m.mu.Unlock()
		return fmt.Errorf("tournament %s is not in progress", tournamentID)
	}
	if !t.roundComplete(t.CurrentRound) {
		m.mu.Unlock()
		return fmt.Errorf("tournament %s: round %d has unfinished matches",
			tournamentID, t.CurrentRound+1)
	}
	if t.CurrentRound+1 >= len(t.Rounds) {
		m.mu.Unlock()
		return fmt.Errorf("tournament %s: no further round", tournamentID)
	}

	t.CurrentRound++
	next := t.Rounds[t.CurrentRound]
	for _, match := range next {
		match.RoomID = m.matchRoom(t.ID)
	}
	round := t.CurrentRound + 1
	pairings := pairingsOf(next)
	recipients := make(map[string]domain.MatchPairing)
	for i, match := range next {
		if match.Player1 != nil {
			recipients[match.Player1.ID] = pairings[i]
		}
		if match.Player2 != nil {
			recipients[match.Player2.ID] = pairings[i]
		}
	}
	m.mu.Unlock()

	for playerID, pairing := range recipients {
		m.send(playerID, domain.Event{
			Type: domain.EventTournamentRoundAdvanced,
			Data: domain.TournamentRoundAdvancedEvent{Round: round, Match: pairing},
		})
	}

	m.log.Info("round advanced",
		zap.String("tournament_id", tournamentID),
		zap.Int("round", round))
	return nil
}

// HandleDisconnect resolves a player leaving mid-tournament. During
// registration the seat is simply freed. In progress, an unfinished match
// that already has both players becomes a walkover for the opponent; a
// half-filled downstream match just vacates the leaver's slot and waits.
func (m *Manager) HandleDisconnect(tournamentID, playerID string) error {
	m.mu.Lock()
	t, err := m.get(tournamentID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if t.Status == StatusRegistration {
		if i := t.playerIndex(playerID); i >= 0 {
			t.Players = append(t.Players[:i], t.Players[i+1:]...)
		}
		m.mu.Unlock()
		return nil
	}
	if t.Status != StatusInProgress {
		m.mu.Unlock()
		return nil
	}

	var walkover *Match
	for r := t.CurrentRound; r < len(t.Rounds); r++ {
		for _, match := range t.Rounds[r] {
			if match.Completed || !match.has(playerID) {
				continue
			}
			if match.Player1 != nil && match.Player2 != nil {
				walkover = match
			} else if match.Player1 != nil && match.Player1.ID == playerID {
				match.Player1 = nil
			} else if match.Player2 != nil && match.Player2.ID == playerID {
				match.Player2 = nil
			}
		}
	}
	m.mu.Unlock()

	if walkover == nil {
		return nil
	}
	opp := walkover.opponent(playerID)
	m.log.Info("walkover",
		zap.String("tournament_id", tournamentID),
		zap.String("match_id", walkover.ID),
		zap.String("leaver", playerID),
		zap.String("advances", opp.ID))
	return m.RecordResult(tournamentID, walkover.ID, opp.ID, opp.ID)
}

// Snapshot is the read-only projection for the REST surface.
type Snapshot struct {
	ID           string               `json:"id"`
	MaxPlayers   int                  `json:"max_players"`
	Status       Status               `json:"status"`
	Players      []domain.Participant `json:"players"`
	Spectators   int                  `json:"spectators"`
	CurrentRound int                  `json:"current_round"`
	Rounds       [][]Match            `json:"rounds,omitempty"`
	WinnerName   string               `json:"winner_name,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Tournaments lists snapshots of every registered tournament.
func (m *Manager) Tournaments() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.tournaments))
	for _, t := range m.tournaments {
		out = append(out, snapshotOf(t, false))
	}
	return out
}

// TournamentSnapshot returns one tournament's projection with its bracket.
func (m *Manager) TournamentSnapshot(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(t, true), nil
}

// Remove deletes a finished or abandoned tournament from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.tournaments, id)
	m.mu.Unlock()
}

func snapshotOf(t *Tournament, includeBracket bool) Snapshot {
	snap := Snapshot{
		ID:           t.ID,
		MaxPlayers:   t.MaxPlayers,
		Status:       t.Status,
		Players:      append([]domain.Participant(nil), t.Players...),
		Spectators:   len(t.Spectators),
		CurrentRound: t.CurrentRound + 1,
		WinnerName:   t.WinnerName,
		CreatedAt:    t.CreatedAt,
	}
	if t.Status == StatusRegistration {
		snap.CurrentRound = 0
	}
	if includeBracket {
		snap.Rounds = make([][]Match, len(t.Rounds))
		for r, round := range t.Rounds {
			snap.Rounds[r] = make([]Match, len(round))
			for i, match := range round {
				snap.Rounds[r][i] = *match
			}
		}
	}
	return snap
}

func pairingsOf(matches []*Match) []domain.MatchPairing {
	out := make([]domain.MatchPairing, len(matches))
	for i, match := range matches {
		p := domain.MatchPairing{
			MatchID: match.ID,
			RoomID:  match.RoomID,
			Round:   match.Round,
		}
		if match.Player1 != nil {
			p.Player1 = match.Player1.Name
		}
		if match.Player2 != nil {
			p.Player2 = match.Player2.Name
		}
		out[i] = p
	}
	return out
}

func (m *Manager) send(participantID string, ev domain.Event) {
	if err := m.notifier.SendToParticipant(participantID, ev, true); err != nil {
		m.log.Warn("targeted send failed",
			zap.String("participant_id", participantID), zap.Error(err))
	}
}

func (m *Manager) broadcast(tournamentID string, ev domain.Event) {
	if err := m.notifier.Broadcast(tournamentID, ev, true); err != nil {
		m.log.Warn("broadcast failed",
			zap.String("tournament_id", tournamentID), zap.Error(err))
	}
}

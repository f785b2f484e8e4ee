package domain

import "time"

// Event types delivered to clients over the room channel. State snapshots
// (EventGameState, EventFullGameState, EventRoyaleState) are best-effort;
// everything else is control plane and uses reliable delivery.
const (
	EventRoomJoined        = "room-joined"
	EventParticipantJoined = "participant-joined"
	EventPlayerLeft        = "player-left"
	EventGameReady         = "game-ready"
	EventGameStarted       = "game-started"
	EventGameState         = "game-state"
	EventFullGameState     = "full-game-state"
	EventScoreUpdated      = "score-updated"
	EventGameEnded         = "game-ended"
	EventAuthorityChanged  = "authority-changed"

	EventTournamentCreated       = "tournament-created"
	EventTournamentJoined        = "tournament-joined"
	EventTournamentStarted       = "tournament-started"
	EventTournamentMatchComplete = "tournament-match-completed"
	EventTournamentRoundAdvanced = "tournament-round-advanced"
	EventTournamentCompleted     = "tournament-completed"

	EventWelcome = "welcome"
	EventError   = "error"

	EventRoyaleCountdown  = "royale-countdown"
	EventRoyaleStarted    = "royale-started"
	EventRoyaleState      = "royale-state"
	EventSurvivorsUpdated = "survivors-updated"
	EventRoyaleEnded      = "royale-ended"
)

// Event is the envelope broadcast through the bus and relayed to clients.
// Seq increases monotonically per room so receivers can discard stale state.
type Event struct {
	Type      string    `json:"event"`
	RoomID    string    `json:"room_id,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// WelcomeEvent hands a freshly connected client its identity.
type WelcomeEvent struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

// ErrorEvent reports a rejected client request.
type ErrorEvent struct {
	Request string `json:"request"`
	Message string `json:"message"`
}

// RoomJoinedEvent is sent to a participant after a join request.
type RoomJoinedEvent struct {
	RoomID          string `json:"room_id"`
	Slot            int    `json:"slot"` // 0 means spectator
	IsAuthoritative bool   `json:"is_authoritative"`
	Spectator       bool   `json:"spectator"`
}

// ParticipantJoinedEvent announces a new room member to the others.
type ParticipantJoinedEvent struct {
	Participant Participant `json:"participant"`
	Slot        int         `json:"slot"`
	Spectator   bool        `json:"spectator"`
}

// PlayerLeftEvent announces a departure.
type PlayerLeftEvent struct {
	ParticipantID string `json:"participant_id"`
	Slot          int    `json:"slot"`
}

// AuthorityChangedEvent is sent when simulation authority transfers.
type AuthorityChangedEvent struct {
	ParticipantID string `json:"participant_id"`
	Slot          int    `json:"slot"`
}

// GameStartedEvent carries the initial state of a started game.
type GameStartedEvent struct {
	State GameState `json:"state"`
}

// ScoreUpdatedEvent is the arbitrated score broadcast.
type ScoreUpdatedEvent struct {
	Scores   Score  `json:"scores"`
	GameOver bool   `json:"game_over"`
	Winner   string `json:"winner,omitempty"`
}

// GameEndedEvent terminates a room's game.
type GameEndedEvent struct {
	Winner      string `json:"winner"`
	FinalScores Score  `json:"final_scores"`
}

// TournamentCreatedEvent acknowledges a tournament creation request.
type TournamentCreatedEvent struct {
	TournamentID string `json:"tournament_id"`
	MaxPlayers   int    `json:"max_players"`
}

// TournamentJoinedEvent acknowledges joining a tournament.
type TournamentJoinedEvent struct {
	TournamentID string `json:"tournament_id"`
	Seed         int    `json:"seed"` // 0 means spectator
	Spectator    bool   `json:"spectator"`
}

// MatchPairing describes one upcoming match to its two participants.
type MatchPairing struct {
	MatchID string `json:"match_id"`
	RoomID  string `json:"room_id"`
	Round   int    `json:"round"`
	Player1 string `json:"player1,omitempty"`
	Player2 string `json:"player2,omitempty"`
}

// TournamentStartedEvent carries the first-round pairings.
type TournamentStartedEvent struct {
	TournamentID string         `json:"tournament_id"`
	Rounds       int            `json:"rounds"`
	NextMatches  []MatchPairing `json:"next_matches"`
}

// TournamentMatchCompletedEvent is sent only to the two match participants.
type TournamentMatchCompletedEvent struct {
	MatchID      string `json:"match_id"`
	WinnerID     string `json:"winner_id"`
	IsWinner     bool   `json:"is_winner"`
	IsEliminated bool   `json:"is_eliminated"`
}

// TournamentRoundAdvancedEvent is sent only to advancing players.
type TournamentRoundAdvancedEvent struct {
	Round int          `json:"round"`
	Match MatchPairing `json:"match"`
}

// TournamentCompletedEvent is the single broadcast at tournament end.
type TournamentCompletedEvent struct {
	TournamentID string `json:"tournament_id"`
	WinnerID     string `json:"winner_id"`
	WinnerName   string `json:"winner_name"`
}

// RoyaleCountdownEvent ticks the pre-game countdown.
type RoyaleCountdownEvent struct {
	SecondsLeft  int `json:"seconds_left"`
	Participants int `json:"participants"`
}

// RoyaleStartedEvent announces the start of a battle-royale room.
type RoyaleStartedEvent struct {
	Participants int `json:"participants"`
	NPCCount     int `json:"npc_count"`
	SideGames    int `json:"side_games"`
}

// RoyaleStateEvent is the best-effort per-tick snapshot of the main game.
type RoyaleStateEvent struct {
	Main      GameState `json:"main"`
	Survivors int       `json:"survivors"`
}

// SurvivorsUpdatedEvent reports the audience-facing survivor count.
type SurvivorsUpdatedEvent struct {
	Survivors  int    `json:"survivors"`
	SideGameID string `json:"side_game_id,omitempty"`
	Winner     Side   `json:"winner,omitempty"`
}

// RoyaleEndedEvent terminates the battle-royale room.
type RoyaleEndedEvent struct {
	Winner    string `json:"winner"`
	Survivors int    `json:"survivors"`
}

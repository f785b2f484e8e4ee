package domain

import "time"

// MatchKind classifies a recorded match.
const (
	MatchKindRoom       = "room"
	MatchKindTournament = "tournament"
	MatchKindRoyaleMain = "royale_main"
	MatchKindRoyaleSide = "royale_side"
)

// MatchRecord is a finished match as stored in the history database.
// Records live for the process lifetime only unless a file DSN is configured.
type MatchRecord struct {
	ID           int64     `json:"id"`
	RoomID       string    `json:"room_id"`
	Kind         string    `json:"kind"`
	TournamentID string    `json:"tournament_id,omitempty"`
	BottomName   string    `json:"bottom_name"`
	TopName      string    `json:"top_name"`
	WinnerName   string    `json:"winner_name"`
	ScoreBottom  int       `json:"score_bottom"`
	ScoreTop     int       `json:"score_top"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`

	// FinalState is the JSON-encoded closing GameState, stored compressed.
	FinalState []byte `json:"-"`
}

// DurationSeconds returns the match length in whole seconds.
func (m *MatchRecord) DurationSeconds() int64 {
	return int64(m.EndedAt.Sub(m.StartedAt) / time.Second)
}

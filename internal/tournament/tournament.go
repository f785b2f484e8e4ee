// Package tournament runs single-elimination brackets for 2, 4 or 8
// players. Matches are played in ordinary session rooms; this package only
// owns the bracket and its progression.
package tournament

import (
	"time"

	"github.com/ernie/paddle-arena/internal/domain"
)

// Status is the tournament lifecycle phase.
type Status string

const (
	StatusRegistration Status = "registration"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
)

// Match is one bracket node. Player slots fill as earlier rounds complete;
// the room id is assigned when the match's round becomes current.
type Match struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"room_id,omitempty"`
	Round     int                 `json:"round"`
	Index     int                 `json:"index"`
	Player1   *domain.Participant `json:"player1,omitempty"`
	Player2   *domain.Participant `json:"player2,omitempty"`
	WinnerID  string              `json:"winner_id,omitempty"`
	Completed bool                `json:"completed"`
}

func (m *Match) has(playerID string) bool {
	return (m.Player1 != nil && m.Player1.ID == playerID) ||
		(m.Player2 != nil && m.Player2.ID == playerID)
}

func (m *Match) opponent(playerID string) *domain.Participant {
	if m.Player1 != nil && m.Player1.ID == playerID {
		return m.Player2
	}
	if m.Player2 != nil && m.Player2.ID == playerID {
		return m.Player1
	}
	return nil
}

// place puts a player into the first empty slot, player1 before player2.
func (m *Match) place(p domain.Participant) {
	cp := p
	if m.Player1 == nil {
		m.Player1 = &cp
		return
	}
	if m.Player2 == nil {
		m.Player2 = &cp
	}
}

// Tournament is one bracket plus its registered players and audience.
type Tournament struct {
	ID         string
	MaxPlayers int
	Status     Status
	Players    []domain.Participant
	Spectators []domain.Participant
	// Rounds[0] is round one; later rounds are pre-allocated empty and
	// fill as results come in.
	Rounds       [][]*Match
	CurrentRound int // index into Rounds, valid while in progress
	WinnerID     string
	WinnerName   string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

func (t *Tournament) playerIndex(playerID string) int {
	for i, p := range t.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// findMatch scans the whole bracket.
func (t *Tournament) findMatch(matchID string) *Match {
	for _, round := range t.Rounds {
		for _, m := range round {
			if m.ID == matchID {
				return m
			}
		}
	}
	return nil
}

// roundComplete reports whether every match of the round has a result.
func (t *Tournament) roundComplete(round int) bool {
	for _, m := range t.Rounds[round] {
		if !m.Completed {
			return false
		}
	}
	return true
}

// everyone lists players and spectators, for the final broadcast.
func (t *Tournament) everyone() []domain.Participant {
	out := make([]domain.Participant, 0, len(t.Players)+len(t.Spectators))
	out = append(out, t.Players...)
	out = append(out, t.Spectators...)
	return out
}

// rounds returns ⌈log2 n⌉ for the supported bracket sizes.
func rounds(n int) int {
	r := 0
	for n > 1 {
		n /= 2
		r++
	}
	return r
}

package storage

import (
	"database/sql"

	"github.com/ernie/paddle-arena/internal/domain"
)

// scanMatch reads one list-query row (no final_state column).
func scanMatch(rows *sql.Rows) (*domain.MatchRecord, error) {
	var rec domain.MatchRecord
	var tournamentID sql.NullString
	if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.Kind, &tournamentID,
		&rec.BottomName, &rec.TopName, &rec.WinnerName,
		&rec.ScoreBottom, &rec.ScoreTop, &rec.StartedAt, &rec.EndedAt); err != nil {
		return nil, err
	}
	rec.TournamentID = tournamentID.String
	return &rec, nil
}

// Package storage keeps the match history in SQLite. The default DSN is
// :memory:, so records live for the process lifetime; operators who want
// durable history can point it at a file.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/klauspost/compress/s2"

	"github.com/ernie/paddle-arena/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// DefaultDSN keeps history in memory only.
const DefaultDSN = ":memory:"

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path or ":memory:"
func New(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordMatch inserts a finished match. The final game state snapshot is
// stored s2-compressed.
func (s *Store) RecordMatch(ctx context.Context, rec *domain.MatchRecord) error {
	var blob []byte
	if len(rec.FinalState) > 0 {
		blob = s2.Encode(nil, rec.FinalState)
	}
	var tournamentID any
	if rec.TournamentID != "" {
		tournamentID = rec.TournamentID
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (room_id, kind, tournament_id, bottom_name, top_name,
			winner_name, score_bottom, score_top, started_at, ended_at, final_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RoomID, rec.Kind, tournamentID, rec.BottomName, rec.TopName,
		rec.WinnerName, rec.ScoreBottom, rec.ScoreTop,
		formatTimestamp(rec.StartedAt), formatTimestamp(rec.EndedAt), blob)
	if err != nil {
		return fmt.Errorf("recording match: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// GetRecentMatches returns completed matches newest first (without the
// final state blob).
func (s *Store) GetRecentMatches(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, kind, tournament_id, bottom_name, top_name,
			winner_name, score_bottom, score_top, started_at, ended_at
		FROM matches ORDER BY ended_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *rec)
	}
	return matches, rows.Err()
}

// GetMatchByID returns one match including its decompressed final state.
func (s *Store) GetMatchByID(ctx context.Context, id int64) (*domain.MatchRecord, error) {
	var rec domain.MatchRecord
	var tournamentID sql.NullString
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, kind, tournament_id, bottom_name, top_name,
			winner_name, score_bottom, score_top, started_at, ended_at, final_state
		FROM matches WHERE id = ?
	`, id).Scan(&rec.ID, &rec.RoomID, &rec.Kind, &tournamentID,
		&rec.BottomName, &rec.TopName, &rec.WinnerName,
		&rec.ScoreBottom, &rec.ScoreTop, &rec.StartedAt, &rec.EndedAt, &blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: match %d", domain.ErrMatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rec.TournamentID = tournamentID.String
	if len(blob) > 0 {
		decoded, err := s2.Decode(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding final state: %w", err)
		}
		rec.FinalState = decoded
	}
	return &rec, nil
}

// GetMatchesByRoom returns the history of one room, newest first.
func (s *Store) GetMatchesByRoom(ctx context.Context, roomID string, limit int) ([]domain.MatchRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, kind, tournament_id, bottom_name, top_name,
			winner_name, score_bottom, score_top, started_at, ended_at
		FROM matches WHERE room_id = ? ORDER BY ended_at DESC, id DESC LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *rec)
	}
	return matches, rows.Err()
}

// GetMatchesByTournament returns every recorded match of a tournament.
func (s *Store) GetMatchesByTournament(ctx context.Context, tournamentID string) ([]domain.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, kind, tournament_id, bottom_name, top_name,
			winner_name, score_bottom, score_top, started_at, ended_at
		FROM matches WHERE tournament_id = ? ORDER BY id
	`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *rec)
	}
	return matches, rows.Err()
}

// CountMatches returns the total number of recorded matches.
func (s *Store) CountMatches(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n)
	return n, err
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ernie/paddle-arena/internal/domain"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// parseLimit reads the limit query parameter, clamped to [1, max]
func parseLimit(req *http.Request, def, max int) int {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// handleGetRooms returns snapshots of all live 1v1 rooms
func (r *Router) handleGetRooms(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.sessions.Rooms())
}

// handleGetRoom returns a single room snapshot
func (r *Router) handleGetRoom(w http.ResponseWriter, req *http.Request) {
	snap, err := r.sessions.RoomSnapshot(req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetRoomMatches returns finished matches played in a room
func (r *Router) handleGetRoomMatches(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)

	matches, err := r.store.GetMatchesByRoom(req.Context(), req.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetTournaments returns all registered tournaments
func (r *Router) handleGetTournaments(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.tournaments.Tournaments())
}

// handleGetTournament returns a single tournament with its bracket
func (r *Router) handleGetTournament(w http.ResponseWriter, req *http.Request) {
	snap, err := r.tournaments.TournamentSnapshot(req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetTournamentMatches returns finished matches for a tournament
func (r *Router) handleGetTournamentMatches(w http.ResponseWriter, req *http.Request) {
	matches, err := r.store.GetMatchesByTournament(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetRoyaleRooms returns all live battle-royale rooms
func (r *Router) handleGetRoyaleRooms(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.royale.Rooms())
}

// handleGetRoyaleRoom returns a single battle-royale room
func (r *Router) handleGetRoyaleRoom(w http.ResponseWriter, req *http.Request) {
	snap, err := r.royale.RoomSnapshot(req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetMatches returns recent finished matches with the overall total
func (r *Router) handleGetMatches(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)

	matches, err := r.store.GetRecentMatches(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	total, err := r.store.CountMatches(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"total":   total,
		"limit":   limit,
	})
}

// handleGetMatch returns a single match including its final state
func (r *Router) handleGetMatch(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	match, err := r.store.GetMatchByID(req.Context(), id)
	if errors.Is(err, domain.ErrMatchNotFound) {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Final state travels as raw JSON so clients can replay the closing frame
	response := map[string]interface{}{
		"match": match,
	}
	if len(match.FinalState) > 0 {
		response["final_state"] = json.RawMessage(match.FinalState)
	}
	writeJSON(w, http.StatusOK, response)
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

package session

import (
	"time"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/npc"
	"github.com/ernie/paddle-arena/internal/physics"
	"github.com/ernie/paddle-arena/internal/sched"
)

// maxSlots caps a room at two playable paddles. Everyone past that is a
// spectator.
const maxSlots = 2

// Room is one bounded session: up to two player slots, any number of
// spectators, one game. All mutation goes through the Manager, which holds
// the room's lock around every operation.
type Room struct {
	ID string

	// tournamentID is set on rooms allocated for a bracket match and
	// carried into the recorded result. Empty for ordinary rooms.
	tournamentID string

	slots      [maxSlots + 1]*domain.Slot // indexed by ordinal 1..2
	spectators map[string]domain.Participant

	phase      domain.GamePhase
	score      domain.Score
	createdAt  time.Time
	lastActive time.Time
	startedAt  time.Time

	engine *physics.Engine
	state  *domain.GameState

	// serverSim marks rooms the server simulates itself (NPC-backed).
	// Otherwise the authoritative participant's submitted states are
	// relayed and lastSeq enforces last-writer-wins.
	serverSim bool
	npcCtrl   npc.Controller
	npcSide   domain.Side
	ticker    *sched.Scheduler
	lastSeq   int64

	// humanTarget is the requested paddle center for each side in
	// server-simulated rooms, -1 when unset.
	humanTarget [maxSlots + 1]float64
}

func newRoom(id string, engine *physics.Engine) *Room {
	now := time.Now()
	r := &Room{
		ID:         id,
		spectators: make(map[string]domain.Participant),
		phase:      domain.PhaseWaiting,
		createdAt:  now,
		lastActive: now,
		engine:     engine,
		state:      engine.NewState(),
	}
	for i := range r.humanTarget {
		r.humanTarget[i] = -1
	}
	return r
}

// slot returns the slot occupied by the participant, or nil.
func (r *Room) slotOf(participantID string) *domain.Slot {
	for ord := 1; ord <= maxSlots; ord++ {
		if s := r.slots[ord]; s != nil && s.Participant.ID == participantID {
			return s
		}
	}
	return nil
}

// occupiedSlots returns the populated slots in ordinal order.
func (r *Room) occupiedSlots() []*domain.Slot {
	var out []*domain.Slot
	for ord := 1; ord <= maxSlots; ord++ {
		if r.slots[ord] != nil {
			out = append(out, r.slots[ord])
		}
	}
	return out
}

// join assigns the lowest free ordinal, or makes the participant a
// spectator when both slots are taken. Rejoining with the same identity
// returns the previously held slot.
func (r *Room) join(p domain.Participant) (slot int, spectator bool, rejoined bool) {
	if s := r.slotOf(p.ID); s != nil {
		return s.Ordinal, false, true
	}
	if _, ok := r.spectators[p.ID]; ok {
		return 0, true, true
	}

	for ord := 1; ord <= maxSlots; ord++ {
		if r.slots[ord] == nil {
			r.slots[ord] = &domain.Slot{
				Ordinal:       ord,
				Participant:   p,
				Authoritative: r.electable() == nil, // first occupant gets authority
			}
			r.touch()
			return ord, false, false
		}
	}

	r.spectators[p.ID] = p
	r.touch()
	return 0, true, false
}

// electable returns the current authoritative slot, or nil.
func (r *Room) electable() *domain.Slot {
	for ord := 1; ord <= maxSlots; ord++ {
		if s := r.slots[ord]; s != nil && s.Authoritative {
			return s
		}
	}
	return nil
}

// remove deletes the participant. When the authoritative occupant leaves,
// authority transfers to the remaining lowest ordinal. Spectators are never
// elected.
func (r *Room) remove(participantID string) (removed *domain.Slot, newAuthority *domain.Slot) {
	if _, ok := r.spectators[participantID]; ok {
		delete(r.spectators, participantID)
		r.touch()
		return nil, nil
	}

	s := r.slotOf(participantID)
	if s == nil {
		return nil, nil
	}
	r.slots[s.Ordinal] = nil
	r.humanTarget[s.Ordinal] = -1
	r.touch()

	if s.Authoritative {
		for ord := 1; ord <= maxSlots; ord++ {
			if rem := r.slots[ord]; rem != nil {
				rem.Authoritative = true
				newAuthority = rem
				break
			}
		}
	}
	return s, newAuthority
}

// playerCount is the number of occupied slots (NPC-held included).
func (r *Room) playerCount() int {
	n := 0
	for ord := 1; ord <= maxSlots; ord++ {
		if r.slots[ord] != nil {
			n++
		}
	}
	return n
}

// empty reports whether no humans remain in slots or spectator seats.
func (r *Room) empty() bool {
	for ord := 1; ord <= maxSlots; ord++ {
		if s := r.slots[ord]; s != nil && !s.NPC {
			return false
		}
	}
	return len(r.spectators) == 0
}

func (r *Room) touch() { r.lastActive = time.Now() }

// idleFor reports whether the room has seen no activity for the timeout.
func (r *Room) idleFor(timeout time.Duration) bool {
	return time.Since(r.lastActive) > timeout
}

// sideOf maps a slot ordinal to its paddle side.
func sideOf(ordinal int) domain.Side {
	if ordinal == 2 {
		return domain.SideTop
	}
	return domain.SideBottom
}

// Snapshot is the read-only projection served over the REST surface.
type Snapshot struct {
	ID         string             `json:"id"`
	Phase      domain.GamePhase   `json:"phase"`
	Score      domain.Score       `json:"score"`
	Slots      []domain.Slot      `json:"slots"`
	Spectators int                `json:"spectators"`
	ServerSim  bool               `json:"server_sim"`
	CreatedAt  time.Time          `json:"created_at"`
	LastActive time.Time          `json:"last_active"`
	State      *domain.GameState  `json:"state,omitempty"`
}

func (r *Room) snapshot(includeState bool) Snapshot {
	snap := Snapshot{
		ID:         r.ID,
		Phase:      r.phase,
		Score:      r.score,
		Spectators: len(r.spectators),
		ServerSim:  r.serverSim,
		CreatedAt:  r.createdAt,
		LastActive: r.lastActive,
	}
	for _, s := range r.occupiedSlots() {
		snap.Slots = append(snap.Slots, *s)
	}
	if includeState && r.state != nil {
		st := *r.state
		snap.State = &st
	}
	return snap
}

// Package provision is the boundary to the NPC-provisioning collaborator.
// The managers only depend on the two operations defined here, not on how
// NPC simulations are hosted.
package provision

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider turns "need N NPCs for this room" into running simulations and
// back. Implementations must be safe for concurrent use.
type Provider interface {
	// RequestNPCs provisions count NPC simulations for the room and
	// returns their ephemeral session ids.
	RequestNPCs(ctx context.Context, roomID string, count int) ([]string, error)

	// StopNPCs tears down every NPC provisioned for the room.
	StopNPCs(ctx context.Context, roomID string) error
}

// Local hosts NPC sessions in-process. The returned ids identify
// controller instances the requesting manager creates itself.
type Local struct {
	mu       sync.Mutex
	sessions map[string][]string
	log      *zap.Logger
}

// NewLocal creates an in-process provider.
func NewLocal(log *zap.Logger) *Local {
	return &Local{sessions: make(map[string][]string), log: log}
}

// RequestNPCs implements Provider.
func (l *Local) RequestNPCs(_ context.Context, roomID string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	l.mu.Lock()
	l.sessions[roomID] = append(l.sessions[roomID], ids...)
	l.mu.Unlock()

	l.log.Info("provisioned npc sessions",
		zap.String("room_id", roomID), zap.Int("count", count))
	return ids, nil
}

// StopNPCs implements Provider.
func (l *Local) StopNPCs(_ context.Context, roomID string) error {
	l.mu.Lock()
	n := len(l.sessions[roomID])
	delete(l.sessions, roomID)
	l.mu.Unlock()

	if n > 0 {
		l.log.Info("stopped npc sessions",
			zap.String("room_id", roomID), zap.Int("count", n))
	}
	return nil
}

// Active returns the session ids currently provisioned for a room.
func (l *Local) Active(roomID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sessions[roomID]...)
}

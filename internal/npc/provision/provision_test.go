package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestAndStop(t *testing.T) {
	p := NewLocal(zap.NewNop())
	ctx := context.Background()

	ids, err := p.RequestNPCs(ctx, "r1", 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Len(t, p.Active("r1"), 3)

	// Ids are distinct.
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}

	require.NoError(t, p.StopNPCs(ctx, "r1"))
	assert.Empty(t, p.Active("r1"))
}

func TestZeroCountIsNoop(t *testing.T) {
	p := NewLocal(zap.NewNop())
	ids, err := p.RequestNPCs(context.Background(), "r1", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, p.Active("r1"))
}

func TestStopUnknownRoom(t *testing.T) {
	p := NewLocal(zap.NewNop())
	assert.NoError(t, p.StopNPCs(context.Background(), "missing"))
}

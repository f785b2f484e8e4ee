package npc

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/physics"
)

func testState(t *testing.T) (*physics.Engine, *domain.GameState) {
	t.Helper()
	e := physics.NewEngine(physics.Config{}, 7)
	return e, e.NewState()
}

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 43))
}

func TestPredictArrivalX(t *testing.T) {
	_, s := testState(t)

	tests := []struct {
		name    string
		ball    domain.Ball
		side    domain.Side
		wantOK  bool
		checkFn func(t *testing.T, x float64)
	}{
		{
			name:   "straight drop onto bottom",
			ball:   domain.Ball{X: 200, Y: 100, VX: 0, VY: 300, Radius: 8, Speed: 300},
			side:   domain.SideBottom,
			wantOK: true,
			checkFn: func(t *testing.T, x float64) {
				assert.InDelta(t, 200, x, 1e-9)
			},
		},
		{
			name:   "moving away",
			ball:   domain.Ball{X: 200, Y: 100, VX: 0, VY: 300, Radius: 8, Speed: 300},
			side:   domain.SideTop,
			wantOK: false,
		},
		{
			name:   "stationary ball",
			ball:   domain.Ball{X: 200, Y: 100, Radius: 8, Speed: 300},
			side:   domain.SideBottom,
			wantOK: false,
		},
		{
			name:   "wall fold stays in band",
			ball:   domain.Ball{X: 780, Y: 100, VX: 400, VY: 200, Radius: 8, Speed: 300},
			side:   domain.SideBottom,
			wantOK: true,
			checkFn: func(t *testing.T, x float64) {
				assert.GreaterOrEqual(t, x, 8.0)
				assert.LessOrEqual(t, x, 792.0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Ball = tt.ball
			x, ok := PredictArrivalX(s, tt.side)
			require.Equal(t, tt.wantOK, ok)
			if tt.checkFn != nil {
				tt.checkFn(t, x)
			}
		})
	}
}

func TestPIDOutputClamped(t *testing.T) {
	params, err := DifficultyNightmare.Params()
	require.NoError(t, err)
	pid := NewPID(params, testRNG())

	_, s := testState(t)
	s.Ball = domain.Ball{X: 790, Y: 120, VX: 0, VY: 500, Radius: 8, Speed: 500}
	// Paddle far from the arrival point: enormous error.
	s.Paddle1.X = 0

	dt := 1.0 / 60
	for i := 0; i < 200; i++ {
		delta := pid.ComputeDelta(s, domain.SideBottom, dt)
		assert.LessOrEqual(t, math.Abs(delta), params.MaxControlSpeed*dt+1e-9,
			"clamp must hold regardless of error magnitude")
	}
}

func TestPIDZeroDt(t *testing.T) {
	params, _ := DifficultyNormal.Params()
	pid := NewPID(params, testRNG())
	_, s := testState(t)

	assert.Zero(t, pid.ComputeDelta(s, domain.SideBottom, 0))
	assert.Zero(t, pid.ComputeDelta(s, domain.SideBottom, -1))
	assert.Zero(t, pid.ComputeDelta(s, domain.SideBottom, math.NaN()))
}

func TestPIDTracksArrivalPoint(t *testing.T) {
	params, err := DifficultyNightmare.Params()
	require.NoError(t, err)
	pid := NewPID(params, testRNG())

	e, s := testState(t)
	_ = e
	s.Ball = domain.Ball{X: 600, Y: 50, VX: 0, VY: 400, Radius: 8, Speed: 400}

	dt := 1.0 / 60
	for i := 0; i < 120; i++ {
		delta := pid.ComputeDelta(s, domain.SideBottom, dt)
		s.Paddle1.X += delta
	}

	assert.InDelta(t, 600, s.Paddle1.CenterX(), 12,
		"paddle should converge on the predicted arrival column")
}

func TestPIDIdleSeeksCenter(t *testing.T) {
	params, err := DifficultyNightmare.Params()
	require.NoError(t, err)
	pid := NewPID(params, testRNG())

	_, s := testState(t)
	// Ball moving away from the bottom paddle.
	s.Ball = domain.Ball{X: 100, Y: 500, VX: 0, VY: -300, Radius: 8, Speed: 300}
	s.Paddle1.X = 0

	dt := 1.0 / 60
	for i := 0; i < 300; i++ {
		s.Paddle1.X += pid.ComputeDelta(s, domain.SideBottom, dt)
	}

	assert.InDelta(t, s.Bounds.Width/2, s.Paddle1.CenterX(), 30,
		"away-ball behavior returns toward board center")
}

func TestPIDReactionDelayHoldsOutput(t *testing.T) {
	params, _ := DifficultyNormal.Params()
	params.ReactionDelayMs = 1000
	params.Noise = 0
	pid := NewPID(params, testRNG())

	_, s := testState(t)
	s.Ball = domain.Ball{X: 700, Y: 50, VX: 0, VY: 400, Radius: 8, Speed: 400}

	dt := 0.01 // 10ms ticks, delay spans 100 ticks
	first := pid.ComputeDelta(s, domain.SideBottom, dt)
	for i := 0; i < 50; i++ {
		held := pid.ComputeDelta(s, domain.SideBottom, dt)
		assert.Equal(t, first, held, "previous output is replayed during the reaction window")
	}
}

func TestPIDResetClearsState(t *testing.T) {
	params, _ := DifficultyHard.Params()
	pid := NewPID(params, testRNG())

	_, s := testState(t)
	s.Ball = domain.Ball{X: 700, Y: 50, VX: 100, VY: 400, Radius: 8, Speed: 400}
	for i := 0; i < 20; i++ {
		pid.ComputeDelta(s, domain.SideBottom, 1.0/60)
	}

	pid.Reset()
	assert.Zero(t, pid.integral)
	assert.Zero(t, pid.prevErr)
	assert.Zero(t, pid.filteredDeriv)
	assert.Zero(t, pid.lastOutput)
}

func TestTechnicianStraightArmsReflectionLimit(t *testing.T) {
	e, s := testState(t)
	params, _ := DifficultyNightmare.Params()
	tech := NewTechnician(params, e, testRNG())

	// Force a plan where straight wins: opponent dead center so the cross
	// bonus is symmetric, arrival far from opponent center.
	s.Ball = domain.Ball{X: 60, Y: 100, VX: 0, VY: 350, Radius: 8, Speed: 350}
	s.Paddle2.X = (s.Bounds.Width - s.Paddle2.Width) / 2

	for i := 0; i < 10; i++ {
		delta := tech.ComputeDelta(s, domain.SideBottom, 1.0/60)
		s.Paddle1.X += delta
	}
	require.NotEqual(t, TechNone, tech.planned, "an approaching ball must produce a plan")

	if tech.planned == TechStraight {
		// Edge hit would reflect at 60 degrees without the armed limit.
		s.Ball.X = s.Paddle1.X + s.Paddle1.Width
		s.Ball.Y = s.Paddle1.Y - s.Ball.Radius - 1
		s.Ball.VX = 0
		s.Ball.VY = 300
		_, err := e.Step(s, 0.01)
		require.NoError(t, err)
		angle := math.Abs(math.Atan2(s.Ball.VX, -s.Ball.VY))
		assert.LessOrEqual(t, angle, 15*math.Pi/180+1e-9)
	}
}

func TestTechnicianRepetitionPenaltyVariesTechniques(t *testing.T) {
	e, s := testState(t)
	params, _ := DifficultyNightmare.Params()
	tech := NewTechnician(params, e, testRNG())

	seen := map[Technique]bool{}
	for rally := 0; rally < 6; rally++ {
		s.Ball = domain.Ball{X: 100 + float64(rally)*120, Y: 80, VX: 30, VY: 350, Radius: 8, Speed: 350}
		tech.sincePlan = planInterval // force a fresh plan
		tech.ComputeDelta(s, domain.SideBottom, 1.0/60)
		seen[tech.planned] = true
	}

	assert.GreaterOrEqual(t, len(seen), 2,
		"repetition penalty should produce at least two distinct techniques")
}

func TestTechnicianIdleReturnsToCenter(t *testing.T) {
	e, s := testState(t)
	params, _ := DifficultyNightmare.Params()
	tech := NewTechnician(params, e, testRNG())

	s.Ball = domain.Ball{X: 400, Y: 300, VX: 0, VY: -300, Radius: 8, Speed: 300}
	s.Paddle1.X = 0

	for i := 0; i < 400; i++ {
		s.Paddle1.X += tech.ComputeDelta(s, domain.SideBottom, 1.0/60)
	}
	assert.InDelta(t, s.Bounds.Width/2, s.Paddle1.CenterX(), 20)
}

func TestTechnicianBoundedSpeed(t *testing.T) {
	e, s := testState(t)
	params, _ := DifficultyEasy.Params()
	tech := NewTechnician(params, e, testRNG())

	s.Ball = domain.Ball{X: 780, Y: 50, VX: 0, VY: 400, Radius: 8, Speed: 400}
	s.Paddle1.X = 0

	dt := 1.0 / 60
	for i := 0; i < 100; i++ {
		delta := tech.ComputeDelta(s, domain.SideBottom, dt)
		assert.LessOrEqual(t, math.Abs(delta), params.MaxControlSpeed*dt+1e-9)
		s.Paddle1.X += delta
	}
}

func TestNewControllerDispatch(t *testing.T) {
	e, _ := testState(t)

	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr bool
	}{
		{"default is pid", Config{Difficulty: DifficultyNormal}, &PID{}, false},
		{"explicit pid", Config{Mode: ModePID, Difficulty: DifficultyHard}, &PID{}, false},
		{"technician", Config{Mode: ModeTechnician, Difficulty: DifficultyEasy}, &Technician{}, false},
		{"unknown mode", Config{Mode: "wizard", Difficulty: DifficultyEasy}, nil, true},
		{"unknown difficulty", Config{Mode: ModePID, Difficulty: "impossible"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, e, 1)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestCustomDifficultyOverride(t *testing.T) {
	kp := 12.5
	delay := 5.0
	cfg := Config{
		Mode:       ModePID,
		Difficulty: DifficultyCustom,
		Override:   &ParamsOverride{KP: &kp, ReactionDelayMs: &delay},
	}
	e, _ := testState(t)

	c, err := New(cfg, e, 1)
	require.NoError(t, err)
	pid, ok := c.(*PID)
	require.True(t, ok)

	assert.Equal(t, 12.5, pid.params.KP)
	assert.Equal(t, 5.0, pid.params.ReactionDelayMs)
	// Unset fields keep the normal preset.
	normal, _ := DifficultyNormal.Params()
	assert.Equal(t, normal.KI, pid.params.KI)
}

// Package npc implements software-controlled paddles: a PID tracker and a
// shot-planning "technician", selected once at configuration time.
package npc

import (
	"fmt"
	"math/rand/v2"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/physics"
)

// Mode selects the controller strategy.
type Mode string

const (
	ModePID        Mode = "pid"
	ModeTechnician Mode = "technician"
)

// Controller turns game state into a horizontal paddle movement for one
// tick. ComputeDelta never blocks; a zero or negative dt yields zero output.
type Controller interface {
	// ComputeDelta returns the horizontal displacement (in field units) to
	// apply to the controlled paddle for this tick.
	ComputeDelta(state *domain.GameState, side domain.Side, dt float64) float64

	// Reset clears accumulated controller state. Called on rally restart.
	Reset()
}

// Config describes one NPC-controlled slot.
type Config struct {
	Enabled    bool        `yaml:"enabled"`
	Side       domain.Side `yaml:"side"` // 1 bottom, 2 top
	Mode       Mode        `yaml:"mode"`
	Difficulty Difficulty  `yaml:"difficulty"`

	// Override applies on top of the difficulty preset; only meaningful
	// with DifficultyCustom.
	Override *ParamsOverride `yaml:"override,omitempty"`
}

// New builds the controller for cfg. The engine is needed by the technician
// to constrain reflection angles; the seed keeps noise reproducible.
func New(cfg Config, engine *physics.Engine, seed uint64) (Controller, error) {
	params, err := cfg.Difficulty.Params()
	if err != nil {
		return nil, err
	}
	if cfg.Difficulty == DifficultyCustom && cfg.Override != nil {
		params.Apply(cfg.Override)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))

	switch cfg.Mode {
	case ModePID, "":
		return NewPID(params, rng), nil
	case ModeTechnician:
		return NewTechnician(params, engine, rng), nil
	default:
		return nil, fmt.Errorf("unknown npc mode %q", cfg.Mode)
	}
}

// PredictArrivalX forward-simulates the ball's straight-line path, folding
// wall bounces, until it reaches the given side's paddle face. The second
// return is false when the ball is stationary or moving away, in which case
// the controllers fall back to center-seeking idle behavior.
func PredictArrivalX(s *domain.GameState, side domain.Side) (float64, bool) {
	b := s.Ball
	if b.VY == 0 {
		return 0, false
	}
	toward := (side == domain.SideBottom && b.VY > 0) || (side == domain.SideTop && b.VY < 0)
	if !toward {
		return 0, false
	}

	var faceY float64
	if side == domain.SideBottom {
		faceY = s.Paddle1.Y
	} else {
		faceY = s.Paddle2.Y + s.Paddle2.Height
	}

	t := (faceY - b.Y) / b.VY
	if t < 0 {
		return 0, false
	}
	x := b.X + b.VX*t

	// Fold wall reflections back into the playable band.
	lo, hi := b.Radius, s.Bounds.Width-b.Radius
	if hi <= lo {
		return s.Bounds.Width / 2, true
	}
	for x < lo || x > hi {
		if x < lo {
			x = 2*lo - x
		} else {
			x = 2*hi - x
		}
	}
	return x, true
}

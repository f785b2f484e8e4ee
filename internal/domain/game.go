package domain

import (
	"math"
	"time"
)

// Side identifies one of the two playable paddle slots.
// Slot 1 defends the bottom edge, slot 2 the top edge.
type Side int

const (
	SideNone   Side = 0
	SideBottom Side = 1
	SideTop    Side = 2
)

// Opponent returns the other playable side.
func (s Side) Opponent() Side {
	switch s {
	case SideBottom:
		return SideTop
	case SideTop:
		return SideBottom
	}
	return SideNone
}

// Ball is the simulated ball. Speed is the base scalar speed in units/s;
// the effective speed is Speed * SpeedMultiplier.
type Ball struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	VX              float64 `json:"vx"`
	VY              float64 `json:"vy"`
	Radius          float64 `json:"radius"`
	Speed           float64 `json:"speed"`
	SpeedMultiplier float64 `json:"speed_multiplier"`
}

// Paddle is an axis-aligned paddle rectangle. X,Y is the top-left corner.
type Paddle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX returns the horizontal center of the paddle.
func (p Paddle) CenterX() float64 { return p.X + p.Width/2 }

// Bounds is the playing field size.
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Score holds the running score for both sides.
type Score struct {
	Bottom int `json:"bottom"`
	Top    int `json:"top"`
}

// ForSide returns the score of the given side.
func (s Score) ForSide(side Side) int {
	if side == SideBottom {
		return s.Bottom
	}
	return s.Top
}

// GameState is a full snapshot of one running game. Seq increases
// monotonically with every tick so receivers can apply last-writer-wins
// ordering on unreliable delivery.
type GameState struct {
	Ball      Ball      `json:"ball"`
	Paddle1   Paddle    `json:"paddle1"` // bottom
	Paddle2   Paddle    `json:"paddle2"` // top
	Bounds    Bounds    `json:"bounds"`
	HitCount  int       `json:"hit_count"`
	Score     Score     `json:"score"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Paddle returns a pointer to the paddle owned by side.
func (g *GameState) Paddle(side Side) *Paddle {
	if side == SideTop {
		return &g.Paddle2
	}
	return &g.Paddle1
}

// Finite reports whether every numeric field of the state is a finite
// number. Non-finite input must never be integrated; see Engine.Step.
func (g *GameState) Finite() bool {
	vals := []float64{
		g.Ball.X, g.Ball.Y, g.Ball.VX, g.Ball.VY, g.Ball.Radius,
		g.Ball.Speed, g.Ball.SpeedMultiplier,
		g.Paddle1.X, g.Paddle1.Y, g.Paddle1.Width, g.Paddle1.Height,
		g.Paddle2.X, g.Paddle2.Y, g.Paddle2.Width, g.Paddle2.Height,
		g.Bounds.Width, g.Bounds.Height,
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ScoreEvent names the side that scored during a physics step.
type ScoreEvent struct {
	Scorer Side `json:"scorer"`
}

// GamePhase is the lifecycle phase of a room's game.
type GamePhase string

const (
	PhaseWaiting    GamePhase = "waiting"
	PhaseInProgress GamePhase = "in_progress"
	PhaseOver       GamePhase = "over"
)

package physics

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/ernie/paddle-arena/internal/domain"
)

// Config holds the simulation tunables. Zero values are replaced with the
// reference defaults by Normalize.
type Config struct {
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	BallRadius   float64 `yaml:"ball_radius"`
	PaddleWidth  float64 `yaml:"paddle_width"`
	PaddleHeight float64 `yaml:"paddle_height"`
	PaddleInset  float64 `yaml:"paddle_inset"` // distance from the scored edge

	BallSpeed      float64 `yaml:"ball_speed"`      // base speed, units/s
	MaxBallSpeed   float64 `yaml:"max_ball_speed"`  // effective speed cap
	RampFactor     float64 `yaml:"ramp_factor"`     // multiplier growth per hit
	CapMultiplier  float64 `yaml:"cap_multiplier"`  // multiplier ceiling
	MaxReflectDeg  float64 `yaml:"max_reflect_deg"` // widest paddle reflection
	ServeSpreadDeg float64 `yaml:"serve_spread_deg"`
}

// Normalize fills unset fields with the reference tuning.
func (c *Config) Normalize() {
	if c.Width <= 0 {
		c.Width = 800
	}
	if c.Height <= 0 {
		c.Height = 600
	}
	if c.BallRadius <= 0 {
		c.BallRadius = 8
	}
	if c.PaddleWidth <= 0 {
		c.PaddleWidth = 80
	}
	if c.PaddleHeight <= 0 {
		c.PaddleHeight = 12
	}
	if c.PaddleInset <= 0 {
		c.PaddleInset = 20
	}
	if c.BallSpeed <= 0 {
		c.BallSpeed = 300
	}
	if c.MaxBallSpeed <= 0 {
		c.MaxBallSpeed = 900
	}
	if c.RampFactor <= 0 {
		c.RampFactor = 0.08
	}
	if c.CapMultiplier <= 0 {
		c.CapMultiplier = 4.0
	}
	if c.MaxReflectDeg <= 0 {
		c.MaxReflectDeg = 60
	}
	if c.ServeSpreadDeg <= 0 {
		c.ServeSpreadDeg = 45
	}
}

// Engine advances GameStates. It performs no I/O and never blocks; the only
// mutable state it keeps is the per-side one-shot reflection limit armed by
// the technician controller.
type Engine struct {
	cfg Config
	rng *rand.Rand

	// reflection limit in radians for the next paddle hit, 0 = none
	reflectLimit [3]float64
}

// NewEngine creates an engine with the given tuning. The seed makes serve
// angles reproducible in tests.
func NewEngine(cfg Config, seed uint64) *Engine {
	cfg.Normalize()
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Config returns the normalized tuning in use.
func (e *Engine) Config() Config { return e.cfg }

// NewState builds the initial game state with the ball at rest in the
// center and both paddles centered on their edge.
func (e *Engine) NewState() *domain.GameState {
	c := e.cfg
	s := &domain.GameState{
		Bounds: domain.Bounds{Width: c.Width, Height: c.Height},
		Ball: domain.Ball{
			X:               c.Width / 2,
			Y:               c.Height / 2,
			Radius:          c.BallRadius,
			Speed:           c.BallSpeed,
			SpeedMultiplier: 1,
		},
		Paddle1: domain.Paddle{
			X:      (c.Width - c.PaddleWidth) / 2,
			Y:      c.Height - c.PaddleInset - c.PaddleHeight,
			Width:  c.PaddleWidth,
			Height: c.PaddleHeight,
		},
		Paddle2: domain.Paddle{
			X:      (c.Width - c.PaddleWidth) / 2,
			Y:      c.PaddleInset,
			Width:  c.PaddleWidth,
			Height: c.PaddleHeight,
		},
		Timestamp: time.Now(),
	}
	return s
}

// LimitNextReflection arms a one-shot reflection angle cap for the given
// side's next paddle hit. Used by the technician's straight return.
func (e *Engine) LimitNextReflection(side domain.Side, maxDeg float64) {
	if side == domain.SideBottom || side == domain.SideTop {
		e.reflectLimit[side] = maxDeg * math.Pi / 180
	}
}

// Launch puts the ball in motion from the center toward serveTo
// (loser-serves convention: the side that conceded receives the ball).
func (e *Engine) Launch(s *domain.GameState, serveTo domain.Side) {
	spread := e.cfg.ServeSpreadDeg * math.Pi / 180
	angle := (e.rng.Float64()*2 - 1) * spread
	dir := 1.0 // toward the bottom
	if serveTo == domain.SideTop {
		dir = -1
	}
	s.Ball.X = s.Bounds.Width / 2
	s.Ball.Y = s.Bounds.Height / 2
	s.Ball.VX = math.Sin(angle) * s.Ball.Speed
	s.Ball.VY = dir * math.Cos(angle) * s.Ball.Speed
	s.HitCount = 0
	s.Ball.SpeedMultiplier = 1
}

// Step advances the state by dt seconds and returns any scoring events.
// Non-finite input skips the tick and returns ErrMalformedState; the state
// is left untouched.
func (e *Engine) Step(s *domain.GameState, dt float64) ([]domain.ScoreEvent, error) {
	if dt <= 0 {
		return nil, nil
	}
	if !s.Finite() || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, domain.ErrMalformedState
	}

	mult := s.Ball.SpeedMultiplier
	if mult < 1 {
		mult = 1
	}
	// Effective speed is capped regardless of how far the ramp has gone.
	scale := mult
	if speed := math.Hypot(s.Ball.VX, s.Ball.VY) * mult; speed > e.cfg.MaxBallSpeed {
		scale = mult * e.cfg.MaxBallSpeed / speed
	}

	s.Ball.X += s.Ball.VX * scale * dt
	s.Ball.Y += s.Ball.VY * scale * dt

	// Side walls reflect on the x axis and clamp back inside.
	if s.Ball.X-s.Ball.Radius < 0 {
		s.Ball.X = s.Ball.Radius
		s.Ball.VX = -s.Ball.VX
	}
	if s.Ball.X+s.Ball.Radius > s.Bounds.Width {
		s.Ball.X = s.Bounds.Width - s.Ball.Radius
		s.Ball.VX = -s.Ball.VX
	}

	// Paddles are only tested against a ball moving toward them.
	if s.Ball.VY > 0 {
		e.collidePaddle(s, domain.SideBottom)
	} else if s.Ball.VY < 0 {
		e.collidePaddle(s, domain.SideTop)
	}

	var events []domain.ScoreEvent
	if s.Ball.Y-s.Ball.Radius > s.Bounds.Height {
		// Crossed the bottom edge: top side scores, bottom receives serve.
		events = append(events, domain.ScoreEvent{Scorer: domain.SideTop})
		e.Launch(s, domain.SideBottom)
	} else if s.Ball.Y+s.Ball.Radius < 0 {
		events = append(events, domain.ScoreEvent{Scorer: domain.SideBottom})
		e.Launch(s, domain.SideTop)
	}

	s.Seq++
	s.Timestamp = time.Now()
	return events, nil
}

// collidePaddle reflects the ball off the given side's paddle if they
// overlap. The reflection angle follows the hit position across the paddle
// face: center hits bounce straight, edge hits bounce at MaxReflectDeg.
func (e *Engine) collidePaddle(s *domain.GameState, side domain.Side) {
	p := s.Paddle(side)
	b := &s.Ball

	if b.X+b.Radius < p.X || b.X-b.Radius > p.X+p.Width {
		return
	}
	if b.Y+b.Radius < p.Y || b.Y-b.Radius > p.Y+p.Height {
		return
	}

	hitPos := (b.X - p.CenterX()) / (p.Width / 2)
	hitPos = clamp(hitPos, -1, 1)

	maxAngle := e.cfg.MaxReflectDeg * math.Pi / 180
	if lim := e.reflectLimit[side]; lim > 0 && lim < maxAngle {
		maxAngle = lim
		e.reflectLimit[side] = 0
	}
	angle := hitPos * maxAngle

	speed := math.Hypot(b.VX, b.VY)
	b.VX = math.Sin(angle) * speed
	b.VY = math.Cos(angle) * speed
	if side == domain.SideBottom {
		// Away from the bottom paddle is upward.
		b.VY = -b.VY
		b.Y = p.Y - b.Radius
	} else {
		b.Y = p.Y + p.Height + b.Radius
	}

	s.HitCount++
	b.SpeedMultiplier = math.Min(1+float64(s.HitCount)*e.cfg.RampFactor, e.cfg.CapMultiplier)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

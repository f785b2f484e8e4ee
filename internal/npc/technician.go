package npc

import (
	"math"
	"math/rand/v2"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/physics"
)

// Technique is one of the discrete shots the technician can play.
type Technique int

const (
	TechNone Technique = iota
	TechStraight
	TechCross
	TechBounce
	TechDoubleBounce
)

func (t Technique) String() string {
	switch t {
	case TechStraight:
		return "straight"
	case TechCross:
		return "cross"
	case TechBounce:
		return "bounce"
	case TechDoubleBounce:
		return "double-bounce"
	default:
		return "none"
	}
}

const (
	// planInterval is how often the technician re-plans its shot. Planning
	// every tick would make it jitter between techniques mid-rally.
	planInterval = 0.5

	// repetitionPenalty discourages playing the same technique twice.
	repetitionPenalty = 0.45

	// straightReflectDeg is the reflection cap armed for a straight return.
	straightReflectDeg = 15
)

// Technician is a rule-based planner that picks a shot technique per rally
// approach and steers the paddle to realize the chosen contact point.
type Technician struct {
	params Params
	engine *physics.Engine
	rng    *rand.Rand

	sincePlan float64
	planned   Technique
	last      Technique
	targetX   float64
	hasTarget bool
}

// NewTechnician creates a technician controller bound to the room's engine
// (needed to constrain the reflection angle for straight returns).
func NewTechnician(params Params, engine *physics.Engine, rng *rand.Rand) *Technician {
	return &Technician{params: params, engine: engine, rng: rng, sincePlan: planInterval}
}

// Reset implements Controller.
func (t *Technician) Reset() {
	t.sincePlan = planInterval
	t.planned = TechNone
	t.targetX = 0
	t.hasTarget = false
}

// ComputeDelta implements Controller.
func (t *Technician) ComputeDelta(s *domain.GameState, side domain.Side, dt float64) float64 {
	if dt <= 0 || math.IsNaN(dt) {
		return 0
	}
	t.sincePlan += dt

	own := s.Paddle(side)
	arrival, toward := PredictArrivalX(s, side)
	if !toward {
		// Idle: drift back to center at reduced speed and forget the plan
		// so the next approach gets a fresh one.
		t.planned = TechNone
		t.hasTarget = false
		center := s.Bounds.Width / 2
		return steer(own.CenterX(), center, t.params.MaxControlSpeed*awayGainScale*dt)
	}

	if t.planned == TechNone || t.sincePlan >= planInterval {
		t.plan(s, side, arrival)
		t.sincePlan = 0
	} else if t.hasTarget {
		// Keep the contact offset but follow the (possibly updated)
		// arrival prediction between plans.
		t.targetX = arrival - t.offset(side, s)*own.Width/2
	}

	if !t.hasTarget {
		return 0
	}
	t.targetX = clampRange(t.targetX, own.Width/2, s.Bounds.Width-own.Width/2)
	return steer(own.CenterX(), t.targetX, t.params.MaxControlSpeed*dt)
}

// plan scores each technique and commits to the best one.
func (t *Technician) plan(s *domain.GameState, side domain.Side, arrival float64) {
	type scored struct {
		tech    Technique
		utility float64
	}

	width := s.Bounds.Width
	opponent := s.Paddle(side.Opponent())
	oppCenter := opponent.CenterX()

	// Positional bonus favors shots aimed away from the opponent's paddle.
	farEdge := width - s.Ball.Radius
	nearEdge := s.Ball.Radius
	crossTargetX := farEdge
	if oppCenter > width/2 {
		crossTargetX = nearEdge
	}

	candidates := []scored{
		{TechStraight, 1.0 + distanceBonus(arrival, oppCenter, width)},
		{TechCross, 1.15 + distanceBonus(crossTargetX, oppCenter, width)},
		{TechBounce, 0.9 + wallBonus(arrival, width)},
		{TechDoubleBounce, 0.65 + wallBonus(arrival, width)*0.5},
	}

	score := func(c scored) float64 {
		u := c.utility
		if c.tech == t.last {
			u -= repetitionPenalty
		}
		if t.rng != nil {
			// Small jitter keeps equal-utility rallies from repeating the
			// same technique sequence every game.
			u += t.rng.Float64() * 0.1
		}
		return u
	}

	best := candidates[0]
	bestScore := score(best)
	for _, c := range candidates[1:] {
		if u := score(c); u > bestScore {
			best, bestScore = c, u
		}
	}

	t.planned = best.tech
	t.last = best.tech
	t.hasTarget = true
	t.targetX = arrival - t.offset(side, s)*s.Paddle(side).Width/2

	if best.tech == TechStraight && t.engine != nil {
		t.engine.LimitNextReflection(side, straightReflectDeg)
	}
}

// offset is the intended contact position across the paddle face in
// [-1, 1]: 0 plays the center, the sign pushes the ball toward a wall.
func (t *Technician) offset(side domain.Side, s *domain.GameState) float64 {
	ballLeft := s.Ball.X < s.Bounds.Width/2
	away := 1.0
	if ballLeft {
		away = -1
	}
	switch t.planned {
	case TechStraight:
		return 0
	case TechCross:
		// Hit off-center so the reflection sends the ball cross-court.
		return -away * 0.8
	case TechBounce:
		return away * 0.6
	case TechDoubleBounce:
		return away * 0.95
	default:
		return 0
	}
}

func distanceBonus(targetX, oppCenter, width float64) float64 {
	if width <= 0 {
		return 0
	}
	return math.Abs(targetX-oppCenter) / width
}

func wallBonus(arrival, width float64) float64 {
	if width <= 0 {
		return 0
	}
	// Bounce shots pay off more the closer the approach is to a wall.
	edgeDist := math.Min(arrival, width-arrival)
	return 0.5 - edgeDist/width
}

func steer(current, target, maxStep float64) float64 {
	delta := target - current
	if math.Abs(delta) < deadBand {
		return 0
	}
	return clampMag(delta, maxStep)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

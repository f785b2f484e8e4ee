package npc

import (
	"math"
	"math/rand/v2"

	"github.com/ernie/paddle-arena/internal/domain"
)

const (
	// awayGainScale damps the controller while the ball is moving away so
	// the paddle drifts back to center instead of twitching.
	awayGainScale = 0.35

	// integralDecay bleeds the accumulator a little every update so a long
	// rally cannot wind it up permanently.
	integralDecay = 0.995

	// deadBand suppresses sub-pixel jitter (units per tick).
	deadBand = 0.2

	// smoothingWindow is the moving-average length applied to the output.
	smoothingWindow = 4
)

// PID is a proportional-integral-derivative paddle controller tracking the
// predicted ball arrival point.
type PID struct {
	params Params
	rng    *rand.Rand

	integral      float64
	prevErr       float64
	filteredDeriv float64
	lastOutput    float64
	hasPrev       bool

	// reaction delay: hold the previous output until enough simulated
	// time has passed since the last recomputation.
	sinceUpdate float64

	window [smoothingWindow]float64
	widx   int
	wcount int
}

// NewPID creates a PID controller with the given parameter bundle.
func NewPID(params Params, rng *rand.Rand) *PID {
	if params.DerivativeFilter <= 0 || params.DerivativeFilter > 1 {
		params.DerivativeFilter = 0.25
	}
	return &PID{params: params, rng: rng}
}

// Reset clears the accumulated state. Called on rally restart.
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.filteredDeriv = 0
	p.lastOutput = 0
	p.hasPrev = false
	p.sinceUpdate = 0
	p.window = [smoothingWindow]float64{}
	p.widx = 0
	p.wcount = 0
}

// ComputeDelta implements Controller.
func (p *PID) ComputeDelta(s *domain.GameState, side domain.Side, dt float64) float64 {
	if dt <= 0 || math.IsNaN(dt) {
		return 0
	}

	// Simulated human latency: keep replaying the last command until the
	// reaction window has elapsed.
	p.sinceUpdate += dt
	if p.sinceUpdate*1000 < p.params.ReactionDelayMs {
		return clampMag(p.lastOutput, p.params.MaxControlSpeed*dt)
	}
	p.sinceUpdate = 0

	own := s.Paddle(side)

	target, toward := PredictArrivalX(s, side)
	gainScale := 1.0
	if !toward {
		// Ball moving away or stationary: return to board center slowly.
		target = s.Bounds.Width / 2
		gainScale = awayGainScale
	}
	if p.params.Noise > 0 {
		target += (p.rng.Float64()*2 - 1) * p.params.Noise
	}

	err := target - own.CenterX()

	p.integral = clampMag((p.integral+err*dt)*integralDecay, p.params.MaxIntegral)

	rawDeriv := 0.0
	if p.hasPrev {
		rawDeriv = (err - p.prevErr) / dt
	}
	p.filteredDeriv += (rawDeriv - p.filteredDeriv) * p.params.DerivativeFilter
	p.prevErr = err
	p.hasPrev = true

	velocity := (p.params.KP*err + p.params.KI*p.integral + p.params.KD*p.filteredDeriv) * gainScale
	delta := clampMag(velocity*dt, p.params.MaxControlSpeed*dt)

	// Short moving average plus a change-rate dead band to kill jitter.
	p.window[p.widx] = delta
	p.widx = (p.widx + 1) % smoothingWindow
	if p.wcount < smoothingWindow {
		p.wcount++
	}
	sum := 0.0
	for i := 0; i < p.wcount; i++ {
		sum += p.window[i]
	}
	smoothed := sum / float64(p.wcount)
	if math.Abs(smoothed) < deadBand {
		smoothed = 0
	}

	p.lastOutput = smoothed
	return smoothed
}

func clampMag(v, maxAbs float64) float64 {
	if v > maxAbs {
		return maxAbs
	}
	if v < -maxAbs {
		return -maxAbs
	}
	return v
}

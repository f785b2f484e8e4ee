package npc

import "fmt"

// Difficulty names a fixed parameter bundle.
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyNormal    Difficulty = "normal"
	DifficultyHard      Difficulty = "hard"
	DifficultyNightmare Difficulty = "nightmare"
	DifficultyCustom    Difficulty = "custom"
)

// Params is the full gain/noise/delay tuple a controller runs with.
type Params struct {
	KP               float64 `yaml:"kp"`
	KI               float64 `yaml:"ki"`
	KD               float64 `yaml:"kd"`
	MaxIntegral      float64 `yaml:"max_integral"`
	DerivativeFilter float64 `yaml:"derivative_filter"` // low-pass coefficient in (0,1]
	MaxControlSpeed  float64 `yaml:"max_control_speed"` // units/s
	ReactionDelayMs  float64 `yaml:"reaction_delay_ms"`
	Noise            float64 `yaml:"noise"` // tracking noise amplitude, units
}

// ParamsOverride carries optional per-field overrides for DifficultyCustom.
// Explicit named fields instead of structural merging keep overrides typed.
type ParamsOverride struct {
	KP               *float64 `yaml:"kp,omitempty"`
	KI               *float64 `yaml:"ki,omitempty"`
	KD               *float64 `yaml:"kd,omitempty"`
	MaxIntegral      *float64 `yaml:"max_integral,omitempty"`
	DerivativeFilter *float64 `yaml:"derivative_filter,omitempty"`
	MaxControlSpeed  *float64 `yaml:"max_control_speed,omitempty"`
	ReactionDelayMs  *float64 `yaml:"reaction_delay_ms,omitempty"`
	Noise            *float64 `yaml:"noise,omitempty"`
}

// Apply copies every set override field onto p.
func (p *Params) Apply(o *ParamsOverride) {
	if o == nil {
		return
	}
	if o.KP != nil {
		p.KP = *o.KP
	}
	if o.KI != nil {
		p.KI = *o.KI
	}
	if o.KD != nil {
		p.KD = *o.KD
	}
	if o.MaxIntegral != nil {
		p.MaxIntegral = *o.MaxIntegral
	}
	if o.DerivativeFilter != nil {
		p.DerivativeFilter = *o.DerivativeFilter
	}
	if o.MaxControlSpeed != nil {
		p.MaxControlSpeed = *o.MaxControlSpeed
	}
	if o.ReactionDelayMs != nil {
		p.ReactionDelayMs = *o.ReactionDelayMs
	}
	if o.Noise != nil {
		p.Noise = *o.Noise
	}
}

// Params resolves the difficulty to its parameter bundle. Custom starts
// from the normal bundle and expects overrides on top.
func (d Difficulty) Params() (Params, error) {
	switch d {
	case DifficultyEasy:
		return Params{
			KP: 2.5, KI: 0.05, KD: 0.4,
			MaxIntegral: 120, DerivativeFilter: 0.15,
			MaxControlSpeed: 220, ReactionDelayMs: 220, Noise: 28,
		}, nil
	case DifficultyNormal, "":
		return Params{
			KP: 4.0, KI: 0.10, KD: 0.8,
			MaxIntegral: 150, DerivativeFilter: 0.25,
			MaxControlSpeed: 320, ReactionDelayMs: 140, Noise: 14,
		}, nil
	case DifficultyHard:
		return Params{
			KP: 6.0, KI: 0.15, KD: 1.2,
			MaxIntegral: 180, DerivativeFilter: 0.35,
			MaxControlSpeed: 430, ReactionDelayMs: 70, Noise: 6,
		}, nil
	case DifficultyNightmare:
		return Params{
			KP: 8.5, KI: 0.20, KD: 1.6,
			MaxIntegral: 220, DerivativeFilter: 0.5,
			MaxControlSpeed: 560, ReactionDelayMs: 20, Noise: 0,
		}, nil
	case DifficultyCustom:
		p, _ := DifficultyNormal.Params()
		return p, nil
	default:
		return Params{}, fmt.Errorf("unknown difficulty %q", d)
	}
}

// Package royale runs the 42-slot battle-royale variant: one main game
// (the room leader against an NPC) plus synthetic NPC side games backfilling
// the population, all advanced by a single fixed-rate tick loop per room.
package royale

import (
	"time"

	"github.com/ernie/paddle-arena/internal/domain"
	"github.com/ernie/paddle-arena/internal/npc"
	"github.com/ernie/paddle-arena/internal/physics"
	"github.com/ernie/paddle-arena/internal/sched"
)

// Config tunes the battle-royale rooms.
type Config struct {
	Capacity         int           `yaml:"capacity"`
	CountdownSeconds int           `yaml:"countdown_seconds"`
	WinScore         int           `yaml:"win_score"`
	TickRate         int           `yaml:"tick_rate"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	AttackBoost      float64       `yaml:"attack_boost"`
	AttackSeconds    float64       `yaml:"attack_seconds"`
	SideGameMax      time.Duration `yaml:"side_game_max"`

	Physics physics.Config `yaml:"physics"`
	MainNPC npc.Config     `yaml:"main_npc"`
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Capacity <= 0 {
		c.Capacity = 42
	}
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 30
	}
	if c.WinScore <= 0 {
		c.WinScore = 3
	}
	if c.TickRate <= 0 {
		c.TickRate = 60
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 30 * time.Second
	}
	if c.AttackBoost <= 1 {
		c.AttackBoost = 1.6
	}
	if c.AttackSeconds <= 0 {
		c.AttackSeconds = 2
	}
	if c.SideGameMax <= 0 {
		c.SideGameMax = 2 * time.Minute
	}
	if c.MainNPC.Mode == "" {
		c.MainNPC.Mode = npc.ModePID
	}
	if c.MainNPC.Difficulty == "" {
		c.MainNPC.Difficulty = npc.DifficultyHard
	}
	c.Physics.Normalize()
}

// NPCCount is the backfill needed for a room with the given participants.
func NPCCount(capacity, participants int) int {
	if participants >= capacity {
		return 0
	}
	return capacity - participants
}

// Phase of a battle-royale room.
type Phase string

const (
	PhaseCountdown  Phase = "countdown"
	PhaseInProgress Phase = "in_progress"
	PhaseOver       Phase = "over"
)

// sideGame is one synthetic NPC pairing: a hard technician on the bottom
// paddle against an easy PID controller on top, on its own engine so one
// game's technique effects cannot leak into another.
type sideGame struct {
	id     string
	engine *physics.Engine
	state  *domain.GameState
	bottom npc.Controller
	top    npc.Controller

	score  domain.Score
	over   bool
	winner domain.Side

	// attackFor is the remaining boosted time in seconds.
	attackFor float64
	// elapsed is the total simulated time in seconds, for the stalemate cap.
	elapsed float64
}

// tick advances the side game by dt seconds and reports whether it just
// finished. Attack boosts scale simulated time, not the physics config.
// A game that outlives maxSeconds is settled by whoever leads.
func (g *sideGame) tick(dt float64, boost float64, winScore int, maxSeconds float64) (finished bool) {
	if g.over {
		return false
	}
	g.elapsed += dt
	if g.attackFor > 0 {
		g.attackFor -= dt
		dt *= boost
	}

	g.steer(domain.SideBottom, g.bottom, dt)
	g.steer(domain.SideTop, g.top, dt)

	events, err := g.engine.Step(g.state, dt)
	if err != nil {
		return false // malformed state, skip the tick
	}
	for _, ev := range events {
		if ev.Scorer == domain.SideBottom {
			g.score.Bottom++
		} else {
			g.score.Top++
		}
		g.bottom.Reset()
		g.top.Reset()
	}
	if g.score.Bottom >= winScore || g.score.Top >= winScore {
		return g.settle()
	}
	if maxSeconds > 0 && g.elapsed >= maxSeconds {
		// Stalemate rallies do not stall elimination forever.
		return g.settle()
	}
	return false
}

// settle closes the game, awarding it to the leading side. The bottom
// paddle takes a tie.
func (g *sideGame) settle() bool {
	g.over = true
	g.winner = domain.SideBottom
	if g.score.Top > g.score.Bottom {
		g.winner = domain.SideTop
	}
	return true
}

func (g *sideGame) steer(side domain.Side, ctrl npc.Controller, dt float64) {
	delta := ctrl.ComputeDelta(g.state, side, dt)
	p := g.state.Paddle(side)
	p.X = clampX(p.X+delta, p.Width, g.state.Bounds.Width)
}

// Room is one battle-royale arena.
type Room struct {
	ID           string
	phase        Phase
	participants []domain.Participant
	leaderID     string
	createdAt    time.Time
	startedAt    time.Time

	scheduler *sched.Scheduler

	mainEngine *physics.Engine
	mainState  *domain.GameState
	mainScore  domain.Score
	mainNPC    npc.Controller
	// humanTarget is the leader's requested paddle center, <0 when unset.
	humanTarget float64

	sideGames []*sideGame
	survivors int
	npcCount  int
	winner    string

	destroyTimer *time.Timer
}

func (r *Room) participantIndex(id string) int {
	for i, p := range r.participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *Room) sideGame(id string) *sideGame {
	for _, g := range r.sideGames {
		if g.id == id {
			return g
		}
	}
	return nil
}

func (r *Room) activeSideGames() int {
	n := 0
	for _, g := range r.sideGames {
		if !g.over {
			n++
		}
	}
	return n
}

func clampX(x, width, boundsWidth float64) float64 {
	if x < 0 {
		return 0
	}
	if x+width > boundsWidth {
		return boundsWidth - width
	}
	return x
}

// Package simulation is a small, deterministic arena the run command drives
// when no external simulation is attached. It provides an actor the sensor can
// read and the actuator can drive: one player and one wandering target.
package simulation

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/xkilldash9x/ctlbridge/internal/config"
	"github.com/xkilldash9x/ctlbridge/internal/humanoid"
	"github.com/xkilldash9x/ctlbridge/internal/sensor"
)

const (
	// Bound is the half-width of the square arena.
	Bound = 32.0
	// RespawnTicks is how long the actor stays dead.
	RespawnTicks = 20
	// TargetHealth is the health of every spawned target.
	TargetHealth = 10.0

	jumpHeight  = 1.0
	wanderFreq  = 0.05
	sprintDrain = 0.01
)

// ErrStopped is returned by ReadState after Stop.
var ErrStopped = errors.New("arena stopped")

// Event reports what a Step changed about the actor's life.
type Event int

const (
	EventNone Event = iota
	EventDied
	EventRespawned
)

func (e Event) String() string {
	switch e {
	case EventDied:
		return "died"
	case EventRespawned:
		return "respawned"
	default:
		return "none"
	}
}

type target struct {
	id      int
	x, z    float64
	health  float64
	originX float64
	originZ float64
}

// Arena holds the world state. All methods are safe for concurrent use.
type Arena struct {
	cfg config.SimulationConfig
	kb  *humanoid.Keyboard

	mu        sync.Mutex
	rng       *rand.Rand
	noiseX    *perlin.Perlin
	noiseZ    *perlin.Perlin
	tick      float64
	stopped   bool
	alive     bool
	deadTicks int
	health    float64
	food      float64
	x, y, z   float64
	yaw       float64
	colliding bool
	target    *target
	nextID    int
	dealt     float64
	kills     int
	deaths    int
}

// New builds an arena whose player responds to kb.
func New(cfg config.SimulationConfig, kb *humanoid.Keyboard) *Arena {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)

	a := &Arena{
		cfg:    cfg,
		kb:     kb,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseZ: perlin.NewPerlin(alpha, beta, n, seed+1),
		nextID: 1,
	}
	a.spawnLocked()
	return a
}

func (a *Arena) spawnLocked() {
	a.alive = true
	a.deadTicks = 0
	a.health = a.cfg.MaxHealth
	a.food = a.cfg.MaxFood
	a.x, a.y, a.z = 0, 0, 0
	a.yaw = 0
	a.colliding = false
	a.dealt = 0
	a.spawnTargetLocked()
}

func (a *Arena) spawnTargetLocked() {
	span := Bound / 2
	x := (a.rng.Float64()*2 - 1) * span
	z := (a.rng.Float64()*2 - 1) * span
	a.target = &target{id: a.nextID, x: x, z: z, originX: x, originZ: z, health: TargetHealth}
	a.nextID++
}

// Step advances the world by one tick.
func (a *Arena) Step() Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tick++

	if !a.alive {
		a.deadTicks++
		if a.deadTicks >= RespawnTicks {
			a.spawnLocked()
			return EventRespawned
		}
		return EventNone
	}

	a.wanderLocked()
	a.faceTargetLocked()
	a.moveLocked()

	if t := a.target; t != nil && a.distanceLocked(t) <= a.cfg.AttackReach {
		a.health -= a.cfg.TargetDamage
	}
	if a.health <= 0 {
		a.health = 0
		a.alive = false
		a.deaths++
		a.kb.ReleaseAll()
		return EventDied
	}
	return EventNone
}

// wanderLocked drifts the target around its spawn point.
func (a *Arena) wanderLocked() {
	t := a.target
	if t == nil {
		return
	}
	span := Bound / 4
	t.x = clamp(t.originX+a.noiseX.Noise1D(a.tick*wanderFreq)*span, -Bound, Bound)
	t.z = clamp(t.originZ+a.noiseZ.Noise1D(a.tick*wanderFreq)*span, -Bound, Bound)
}

// faceTargetLocked turns the player toward its target. Yaw 0 faces +Z and
// yaw -90 faces +X.
func (a *Arena) faceTargetLocked() {
	t := a.target
	if t == nil {
		return
	}
	dx, dz := t.x-a.x, t.z-a.z
	if dx == 0 && dz == 0 {
		return
	}
	a.yaw = sensor.WrapDegrees(math.Atan2(dz, dx)*180/math.Pi - 90)
}

func (a *Arena) moveLocked() {
	var forward, strafe float64
	if a.kb.IsDown(humanoid.KeyForward) {
		forward++
	}
	if a.kb.IsDown(humanoid.KeyBack) {
		forward--
	}
	if a.kb.IsDown(humanoid.KeyLeft) {
		strafe++
	}
	if a.kb.IsDown(humanoid.KeyRight) {
		strafe--
	}

	speed := a.cfg.Speed
	if a.kb.IsDown(humanoid.KeySneak) {
		speed /= 3
	} else if a.kb.IsDown(humanoid.KeySprint) && a.food > 0 {
		speed *= 1.3
		a.food = math.Max(0, a.food-sprintDrain)
	}

	rad := a.yaw * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	dx := (-sin*forward + cos*strafe) * speed
	dz := (cos*forward + sin*strafe) * speed
	a.translateLocked(dx, dz)

	if a.kb.IsDown(humanoid.KeyJump) {
		a.y = jumpHeight
	} else {
		a.y = 0
	}
}

func (a *Arena) translateLocked(dx, dz float64) {
	nx, nz := a.x+dx, a.z+dz
	cx, cz := clamp(nx, -Bound, Bound), clamp(nz, -Bound, Bound)
	a.colliding = cx != nx || cz != nz
	a.x, a.z = cx, cz
}

func (a *Arena) distanceLocked(t *target) float64 {
	dx, dy, dz := t.x-a.x, -a.y, t.z-a.z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ReadState implements sensor.ActorView. DamageDealt covers the damage dealt
// since the previous call.
func (a *Arena) ReadState(ctx context.Context) (sensor.ActorState, error) {
	if err := ctx.Err(); err != nil {
		return sensor.ActorState{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return sensor.ActorState{}, ErrStopped
	}

	st := sensor.ActorState{
		Alive:       a.alive,
		Health:      a.health,
		MaxHealth:   a.cfg.MaxHealth,
		Food:        a.food / a.cfg.MaxFood * sensor.MaxFood,
		X:           a.x,
		Y:           a.y,
		Z:           a.z,
		Yaw:         a.yaw,
		Colliding:   a.colliding,
		DamageDealt: a.dealt,
	}
	if t := a.target; t != nil && a.alive {
		st.Target = &sensor.TargetState{ID: t.id, X: t.x, Z: t.z}
	}
	a.dealt = 0
	return st, nil
}

// Alive implements humanoid.Body.
func (a *Arena) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive && !a.stopped
}

// AttackTarget implements humanoid.Body. A killed target is replaced at once.
func (a *Arena) AttackTarget() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.target
	if !a.alive || t == nil || a.distanceLocked(t) > a.cfg.AttackReach {
		return false
	}
	dmg := math.Min(a.cfg.AttackDamage, t.health)
	t.health -= dmg
	a.dealt += dmg
	if t.health <= 0 {
		a.kills++
		a.spawnTargetLocked()
	}
	return true
}

// StepBack implements humanoid.Body.
func (a *Arena) StepBack() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.alive {
		return
	}
	rad := a.yaw * math.Pi / 180
	a.translateLocked(math.Sin(rad)*a.cfg.Speed, -math.Cos(rad)*a.cfg.Speed)
}

// Stop makes every later read fail. It is used to exercise the fail-safe.
func (a *Arena) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

// Stats summarises the arena.
type Stats struct {
	Alive    bool
	Health   float64
	TargetID int
	Kills    int
	Deaths   int
}

// Stats returns a point-in-time summary.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{Alive: a.alive, Health: a.health, Kills: a.kills, Deaths: a.deaths, TargetID: -1}
	if a.target != nil {
		s.TargetID = a.target.id
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

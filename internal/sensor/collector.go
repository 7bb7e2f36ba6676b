// Package sensor turns an actor's raw state into the sanitized snapshot sent
// to the decision server.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/xkilldash9x/ctlbridge/api/schemas"
)

// MaxFood is the food level that maps to full energy.
const MaxFood = 20.0

// ErrNoActor is returned when there is no actor to observe.
var ErrNoActor = errors.New("no actor to observe")

// TargetState locates the entity the actor is aiming at.
type TargetState struct {
	ID      int
	X, Y, Z float64
}

// ActorState is the raw, unnormalised view of the actor.
type ActorState struct {
	Alive     bool
	Health    float64
	MaxHealth float64
	Food      float64
	X, Y, Z   float64
	// Yaw is the facing in degrees.
	Yaw       float64
	Colliding bool
	Target    *TargetState
	// DamageDealt is the damage the actor inflicted since the previous read.
	DamageDealt float64
}

// ActorView reads the actor's state once per tick.
type ActorView interface {
	ReadState(ctx context.Context) (ActorState, error)
}

// Collector builds observations from an ActorView.
type Collector struct {
	view ActorView
}

// NewCollector returns a collector reading view.
func NewCollector(view ActorView) *Collector {
	return &Collector{view: view}
}

// Observe reads the actor and returns its observation for this tick.
func (c *Collector) Observe(ctx context.Context) (schemas.Observation, error) {
	if c.view == nil {
		return schemas.Observation{}, ErrNoActor
	}
	st, err := c.view.ReadState(ctx)
	if err != nil {
		return schemas.Observation{}, fmt.Errorf("read actor state: %w", err)
	}
	return schemas.Observation{
		Snapshot:    Snapshot(st),
		Health:      schemas.Finite(st.Health),
		Alive:       st.Alive,
		DamageDealt: schemas.Finite(st.DamageDealt),
	}, nil
}

// Snapshot normalises st into a StateSnapshot.
func Snapshot(st ActorState) schemas.StateSnapshot {
	health := 0.0
	if st.MaxHealth > 0 {
		health = st.Health / st.MaxHealth
	}
	health = schemas.Finite(health)
	if st.Alive && health <= 0 {
		health = schemas.HealthEpsilon
	}

	snap := schemas.StateSnapshot{
		StateVersion:   schemas.StateVersion,
		Health:         health,
		Energy:         st.Food / MaxFood,
		PosX:           st.X,
		PosY:           st.Y,
		PosZ:           st.Z,
		IsColliding:    st.Colliding,
		TargetID:       schemas.NoTargetID,
		TargetDistance: schemas.NoTargetDistance,
	}
	if t := st.Target; t != nil {
		dx, dy, dz := t.X-st.X, t.Y-st.Y, t.Z-st.Z
		snap.TargetID = t.ID
		snap.TargetDistance = math.Sqrt(dx*dx + dy*dy + dz*dz)
		bearing := math.Atan2(dz, dx)*180/math.Pi - 90
		snap.TargetYaw = WrapDegrees(bearing - st.Yaw)
	}
	return snap.Sanitize()
}

// WrapDegrees maps an angle into [-180, 180).
func WrapDegrees(deg float64) float64 {
	w := math.Mod(deg+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

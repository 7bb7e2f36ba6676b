package schemas

import "math"

// StateVersion is the layout version of StateSnapshot.
const StateVersion = 1

// Sentinel target values reported when the actor has nothing targeted.
const (
	NoTargetID       = -1
	NoTargetDistance = 1000.0
)

// HealthEpsilon is the floor applied to the health ratio of a living actor.
const HealthEpsilon = 0.01

// StateSnapshot is the versioned sensor view of the actor for one tick.
// Snapshots are never mutated once built.
type StateSnapshot struct {
	StateVersion   int     `json:"state_version"`
	Health         float64 `json:"health"`
	Energy         float64 `json:"energy"`
	PosX           float64 `json:"pos_x"`
	PosY           float64 `json:"pos_y"`
	PosZ           float64 `json:"pos_z"`
	IsColliding    bool    `json:"is_colliding"`
	TargetID       int     `json:"target_id"`
	TargetDistance float64 `json:"target_distance"`
	TargetYaw      float64 `json:"target_yaw"`
}

// Sanitize returns a copy of s with every NaN or infinite float replaced by 0.
func (s StateSnapshot) Sanitize() StateSnapshot {
	s.Health = Finite(s.Health)
	s.Energy = Finite(s.Energy)
	s.PosX = Finite(s.PosX)
	s.PosY = Finite(s.PosY)
	s.PosZ = Finite(s.PosZ)
	s.TargetDistance = Finite(s.TargetDistance)
	s.TargetYaw = Finite(s.TargetYaw)
	return s
}

// Finite maps NaN and ±Inf to 0 and passes every other value through.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Observation is what a sensor hands the orchestrator each tick: the snapshot
// plus the raw values the outcome tracker needs.
type Observation struct {
	Snapshot StateSnapshot
	// Health is the raw, unnormalised health used to detect damage taken.
	Health float64
	Alive  bool
	// DamageDealt is the damage inflicted since the previous observation.
	DamageDealt float64
}

package agent

import "github.com/xkilldash9x/ctlbridge/api/schemas"

// outcomeTracker accumulates damage between accepted submissions. It is owned
// by the tick goroutine.
type outcomeTracker struct {
	prevHealth float64
	seen       bool
	dealt      float64
	received   float64
}

func (t *outcomeTracker) observe(obs schemas.Observation) {
	health := schemas.Finite(obs.Health)
	if t.seen && health < t.prevHealth {
		t.received += t.prevHealth - health
	}
	t.prevHealth = health
	t.seen = true

	if dealt := schemas.Finite(obs.DamageDealt); dealt > 0 {
		t.dealt += dealt
	}
}

func (t *outcomeTracker) outcomes(alive bool) schemas.Outcomes {
	return schemas.Outcomes{DamageDealt: t.dealt, DamageReceived: t.received, IsAlive: alive}
}

// consumed clears the accumulators once they have been reported.
func (t *outcomeTracker) consumed() {
	t.dealt = 0
	t.received = 0
}

// reset forgets everything, including the health baseline.
func (t *outcomeTracker) reset() {
	*t = outcomeTracker{}
}

package processor

import "github.com/san-kum/detection-lights/server/models"

// HysteresisGate debounces classified candidates. In the default mode a
// candidate must be seen on Rising consecutive frames (or Falling frames for
// the idle state) before it commits. With both thresholds at 1 every change
// commits immediately.
//
// In dual-counter mode the streaks of frames with and without a detection
// decide instead: once Rising frames in a row carried a detection, every
// frame commits its own candidate; Falling idle frames in a row commit idle.
//
// The gate is not safe for concurrent use; the controller owns it.
type HysteresisGate struct {
	rising  int
	falling int
	idle    models.LightState
	dual    bool

	committed   models.LightState
	pending     models.LightState
	consecutive int

	// Independent streaks for frames with and without a detection. Each one
	// resets the other.
	detectionStreak int
	idleStreak      int
}

// NewHysteresisGate builds a gate starting committed to idle. Thresholds
// below 1 are treated as 1.
func NewHysteresisGate(rising, falling int, idle models.LightState) *HysteresisGate {
	if rising < 1 {
		rising = 1
	}
	if falling < 1 {
		falling = 1
	}
	return &HysteresisGate{
		rising:    rising,
		falling:   falling,
		idle:      idle,
		committed: idle,
		pending:   idle,
	}
}

// NewDualCounterGate builds a gate that commits on the detection and idle
// streaks rather than on repeats of the same candidate.
func NewDualCounterGate(rising, falling int, idle models.LightState) *HysteresisGate {
	g := NewHysteresisGate(rising, falling, idle)
	g.dual = true
	return g
}

// Observe feeds one frame's candidate and reports the committed state on the
// frame where a transition commits.
func (g *HysteresisGate) Observe(candidate models.LightState) (models.LightState, bool) {
	if candidate == g.idle {
		g.idleStreak++
		g.detectionStreak = 0
	} else {
		g.detectionStreak++
		g.idleStreak = 0
	}

	if candidate == g.pending {
		g.consecutive++
	} else {
		g.pending = candidate
		g.consecutive = 1
	}

	if candidate == g.committed {
		return g.committed, false
	}

	streak := g.consecutive
	if g.dual {
		streak = g.detectionStreak
		if candidate == g.idle {
			streak = g.idleStreak
		}
	}

	if streak >= g.threshold(candidate) {
		g.committed = candidate
		return candidate, true
	}
	return g.committed, false
}

// Sync overrides the committed state without touching the streaks. A
// candidate that has already persisted long enough commits on the next
// Observe if it differs from state.
func (g *HysteresisGate) Sync(state models.LightState) {
	g.committed = state
}

func (g *HysteresisGate) Committed() models.LightState { return g.committed }

func (g *HysteresisGate) Pending() (models.LightState, int) { return g.pending, g.consecutive }

func (g *HysteresisGate) Streaks() (detection, idle int) { return g.detectionStreak, g.idleStreak }

func (g *HysteresisGate) threshold(candidate models.LightState) int {
	if candidate == g.idle {
		return g.falling
	}
	return g.rising
}

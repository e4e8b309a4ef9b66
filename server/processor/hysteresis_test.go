package processor

import (
	"testing"

	"github.com/san-kum/detection-lights/server/models"
	"github.com/stretchr/testify/assert"
)

func TestHysteresisBelowThresholdNeverCommits(t *testing.T) {
	for threshold := 2; threshold <= 6; threshold++ {
		g := NewHysteresisGate(threshold, threshold, models.LightOff)

		for i := 0; i < threshold-1; i++ {
			_, committed := g.Observe(models.LightRed)
			assert.False(t, committed)
		}
		_, committed := g.Observe(models.LightGreen)
		assert.False(t, committed)
		assert.Equal(t, models.LightOff, g.Committed())
	}
}

func TestHysteresisCommitsExactlyOnce(t *testing.T) {
	g := NewHysteresisGate(3, 3, models.LightOff)

	var commits int
	for i := 1; i <= 10; i++ {
		state, committed := g.Observe(models.LightYellow)
		if committed {
			commits++
			assert.Equal(t, 3, i)
			assert.Equal(t, models.LightYellow, state)
		}
	}
	assert.Equal(t, 1, commits)
}

func TestHysteresisThresholdOneFollowsEveryChange(t *testing.T) {
	g := NewHysteresisGate(1, 1, models.LightOff)

	type step struct {
		candidate models.LightState
		commit    bool
	}
	steps := []step{
		{models.LightRed, true},
		{models.LightRed, false},
		{models.LightYellow, true},
		{models.LightGreen, true},
		{models.LightOff, true},
	}
	for i, s := range steps {
		_, committed := g.Observe(s.candidate)
		assert.Equal(t, s.commit, committed, "step %d", i)
	}
}

func TestHysteresisAsymmetricThresholds(t *testing.T) {
	g := NewHysteresisGate(4, 5, models.LightOff)

	counts := []int{1, 1, 1, 1, 0, 0, 0, 0, 0}
	var commits []int
	for i, c := range counts {
		candidate := models.LightChannel1
		if c == 0 {
			candidate = models.LightOff
		}
		if _, committed := g.Observe(candidate); committed {
			commits = append(commits, i+1)
		}
	}

	assert.Equal(t, []int{4, 9}, commits)
	assert.Equal(t, models.LightOff, g.Committed())
}

func TestHysteresisInterruptedRunResets(t *testing.T) {
	g := NewHysteresisGate(3, 3, models.LightOff)

	g.Observe(models.LightRed)
	g.Observe(models.LightRed)
	g.Observe(models.LightGreen)
	_, committed := g.Observe(models.LightRed)
	assert.False(t, committed)

	pending, consecutive := g.Pending()
	assert.Equal(t, models.LightRed, pending)
	assert.Equal(t, 1, consecutive)
}

func TestHysteresisStreaks(t *testing.T) {
	g := NewHysteresisGate(2, 2, models.LightOff)

	g.Observe(models.LightRed)
	g.Observe(models.LightYellow)
	detection, idle := g.Streaks()
	assert.Equal(t, 2, detection)
	assert.Equal(t, 0, idle)

	g.Observe(models.LightOff)
	detection, idle = g.Streaks()
	assert.Equal(t, 0, detection)
	assert.Equal(t, 1, idle)
}

func TestHysteresisSyncRecommitsPersistingCandidate(t *testing.T) {
	g := NewHysteresisGate(2, 2, models.LightOff)

	g.Observe(models.LightGreen)
	_, committed := g.Observe(models.LightGreen)
	assert.True(t, committed)

	g.Sync(models.LightRed)
	state, committed := g.Observe(models.LightGreen)
	assert.True(t, committed)
	assert.Equal(t, models.LightGreen, state)
}

func TestHysteresisClampsThresholds(t *testing.T) {
	g := NewHysteresisGate(0, -3, models.LightOff)
	_, committed := g.Observe(models.LightRed)
	assert.True(t, committed)
	_, committed = g.Observe(models.LightOff)
	assert.True(t, committed)
}

func TestDualCounterGateFollowsCandidateOnceActive(t *testing.T) {
	g := NewDualCounterGate(4, 5, models.LightOff)

	candidates := []models.LightState{
		models.LightChannel1, models.LightChannel2, models.LightChannel1, models.LightChannel2,
		models.LightChannel1, models.LightChannel1, models.LightChannel3,
	}
	var commits []int
	for i, c := range candidates {
		if _, committed := g.Observe(c); committed {
			commits = append(commits, i+1)
		}
	}

	assert.Equal(t, []int{4, 5, 7}, commits)
	assert.Equal(t, models.LightChannel3, g.Committed())
}

func TestDualCounterGateIdleResetsDetectionStreak(t *testing.T) {
	g := NewDualCounterGate(4, 5, models.LightOff)

	for i := 0; i < 3; i++ {
		g.Observe(models.LightChannel2)
	}
	g.Observe(models.LightOff)
	_, committed := g.Observe(models.LightChannel2)
	assert.False(t, committed)

	detection, idle := g.Streaks()
	assert.Equal(t, 1, detection)
	assert.Equal(t, 0, idle)
}

func TestDualCounterGateFallsAfterIdleStreak(t *testing.T) {
	g := NewDualCounterGate(1, 3, models.LightOff)

	_, committed := g.Observe(models.LightChannel1)
	assert.True(t, committed)

	g.Observe(models.LightOff)
	g.Observe(models.LightOff)
	state, committed := g.Observe(models.LightOff)
	assert.True(t, committed)
	assert.Equal(t, models.LightOff, state)
}

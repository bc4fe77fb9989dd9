package growth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testThresholds() LifecycleThresholds {
	return LifecycleThresholds{ProbationEntryStreak: 3, ProbationExitStreak: 2, SunsetStreak: 3}
}

func TestLifecycleStaysActiveOnNetPositiveDays(t *testing.T) {
	state, probation, recovery := LifecycleActive, 2, 0
	state, probation, recovery = nextLifecycleState(state, probation, recovery, true, testThresholds())
	assert.Equal(t, LifecycleActive, state)
	assert.Equal(t, 0, probation)
	assert.Equal(t, 0, recovery)
}

func TestLifecycleEntersProbationAfterStreak(t *testing.T) {
	thresholds := testThresholds()
	state, probation, recovery := LifecycleActive, 0, 0
	for i := 0; i < 2; i++ {
		state, probation, recovery = nextLifecycleState(state, probation, recovery, false, thresholds)
		assert.Equal(t, LifecycleActive, state)
	}
	state, probation, recovery = nextLifecycleState(state, probation, recovery, false, thresholds)
	assert.Equal(t, LifecycleProbation, state)
	assert.Equal(t, 3, probation)
	assert.Equal(t, 0, recovery)
}

func TestLifecycleRecoversFromProbationAfterExitStreak(t *testing.T) {
	thresholds := testThresholds()
	state, probation, recovery := LifecycleProbation, 3, 0
	state, probation, recovery = nextLifecycleState(state, probation, recovery, true, thresholds)
	assert.Equal(t, LifecycleProbation, state)
	assert.Equal(t, 0, probation)
	assert.Equal(t, 1, recovery)

	state, probation, recovery = nextLifecycleState(state, probation, recovery, true, thresholds)
	assert.Equal(t, LifecycleActive, state)
	assert.Equal(t, 0, probation)
	assert.Equal(t, 0, recovery)
}

func TestLifecycleSunsetsAfterRepeatedProbationFailure(t *testing.T) {
	thresholds := testThresholds()
	state, probation, recovery := LifecycleProbation, 0, 0
	for i := 0; i < 2; i++ {
		state, probation, recovery = nextLifecycleState(state, probation, recovery, false, thresholds)
		assert.Equal(t, LifecycleProbation, state)
	}
	state, probation, recovery = nextLifecycleState(state, probation, recovery, false, thresholds)
	assert.Equal(t, LifecycleSunset, state)
	assert.Equal(t, 3, probation)
	assert.Equal(t, 0, recovery)
}

func TestLifecycleSunsetIsTerminal(t *testing.T) {
	thresholds := testThresholds()
	state, probation, recovery := nextLifecycleState(LifecycleSunset, 5, 0, true, thresholds)
	assert.Equal(t, LifecycleSunset, state)
	assert.Equal(t, 5, probation)
	assert.Equal(t, 0, recovery)
}

func TestTrustScoreClampedToUpperBound(t *testing.T) {
	components := TrustComponents{PassRate: 1.0, RecentViolations: 0, RepeatedMistakes: 0, AutonomyRate: 1.0}
	assert.Equal(t, 100.0, computeScore(components))
}

func TestTrustScoreClampedToLowerBound(t *testing.T) {
	components := TrustComponents{PassRate: 0, RecentViolations: 50, RepeatedMistakes: 50, AutonomyRate: 0}
	assert.Equal(t, 0.0, computeScore(components))
}

func TestPatternHashIsStableAndCategoryScoped(t *testing.T) {
	a := patternHash("action", "egress_domain_not_allowlisted")
	b := patternHash("action", "egress_domain_not_allowlisted")
	c := patternHash("egress", "egress_domain_not_allowlisted")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

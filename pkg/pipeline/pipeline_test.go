package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetStageTruncatesAndFlagsOverflow(t *testing.T) {
	proj := &Projection{Stages: map[string][]Item{}, StageStats: map[string]StageStat{}}
	rows := []Item{{EntityID: "a"}, {EntityID: "b"}, {EntityID: "c"}}

	setStage(proj, StageDemoted, rows, 2)

	assert.Equal(t, []Item{{EntityID: "a"}, {EntityID: "b"}}, proj.Stages[StageDemoted])
	assert.Equal(t, StageStat{Count: 2, Truncated: true}, proj.StageStats[StageDemoted])
}

func TestSetStageNoTruncationWhenWithinLimit(t *testing.T) {
	proj := &Projection{Stages: map[string][]Item{}, StageStats: map[string]StageStat{}}
	rows := []Item{{EntityID: "a"}}

	setStage(proj, StageDemoted, rows, 5)

	assert.Equal(t, StageStat{Count: 1, Truncated: false}, proj.StageStats[StageDemoted])
}

func TestLessItemOrdersByUpdatedAtDescThenEntityIDAsc(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	newer := Item{EntityID: "b", UpdatedAt: now.Add(time.Minute)}
	older := Item{EntityID: "a", UpdatedAt: now}

	assert.True(t, lessItem(newer, older))
	assert.False(t, lessItem(older, newer))

	sameTimeA := Item{EntityID: "a", UpdatedAt: now}
	sameTimeB := Item{EntityID: "b", UpdatedAt: now}
	assert.True(t, lessItem(sameTimeA, sameTimeB))
}

func TestMergeSortedInterleavesBothInputsInOrder(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	a := []Item{
		{EntityID: "run-3", UpdatedAt: now.Add(3 * time.Minute)},
		{EntityID: "run-1", UpdatedAt: now.Add(1 * time.Minute)},
	}
	b := []Item{
		{EntityID: "run-2", UpdatedAt: now.Add(2 * time.Minute)},
	}

	merged := mergeSorted(a, b, 10)

	assert.Equal(t, []string{"run-3", "run-2", "run-1"}, entityIDs(merged))
}

func TestWatermarkReturnsEmptyWhenNoItemsHaveAnEventID(t *testing.T) {
	proj := &Projection{Stages: map[string][]Item{StageDemoted: {{EntityID: "a"}}}}
	assert.Equal(t, "", watermark(proj))
}

func TestWatermarkPicksMostRecentLastEventID(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	proj := &Projection{Stages: map[string][]Item{
		StageExecuteWorkspace: {{EntityID: "run-1", UpdatedAt: now, LastEventID: "evt-old"}},
		StageDemoted:          {{EntityID: "run-2", UpdatedAt: now.Add(time.Hour), LastEventID: "evt-new"}},
	}}

	assert.Equal(t, "evt-new", watermark(proj))
}

func entityIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.EntityID
	}
	return ids
}

package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-dev/taskgen/internal/taskcard"
)

func TestAnalyzeEmptyIsZeroValue(t *testing.T) {
	r := Analyze(nil)
	assert.Equal(t, 0, r.Counts.Generated)
	assert.Equal(t, 0, r.HealthScore)
}

// TestAnalyzeMatchesWorkedExample: 100 generated, 75 engaged, 50 approved
// (including completed), 30 completed, 25 dismissed gives rates
// 0.75/0.67/0.60 and health score 67.
func TestAnalyzeMatchesWorkedExample(t *testing.T) {
	var tasks []taskcard.TaskCard
	for i := 0; i < 30; i++ {
		tasks = append(tasks, taskcard.TaskCard{Status: taskcard.StatusCompleted})
	}
	for i := 0; i < 20; i++ {
		tasks = append(tasks, taskcard.TaskCard{Status: taskcard.StatusApproved})
	}
	for i := 0; i < 25; i++ {
		tasks = append(tasks, taskcard.TaskCard{Status: taskcard.StatusDismissed})
	}
	for i := 0; i < 25; i++ {
		tasks = append(tasks, taskcard.TaskCard{Status: taskcard.StatusGenerated})
	}

	r := Analyze(tasks)
	assert.Equal(t, 100, r.Counts.Generated)
	assert.Equal(t, 75, r.Counts.Engaged)
	assert.Equal(t, 50, r.Counts.Approved)
	assert.Equal(t, 30, r.Counts.Completed)
	assert.Equal(t, 25, r.Counts.Dismissed)

	assert.InDelta(t, 0.75, r.Rates.GeneratedToEngaged, 0.001)
	assert.InDelta(t, 0.667, r.Rates.EngagedToApproved, 0.001)
	assert.InDelta(t, 0.60, r.Rates.ApprovedToComplete, 0.001)
	assert.Equal(t, 67, r.HealthScore)
}

func TestAnalyzeRecommendsOnWeakestConversion(t *testing.T) {
	tasks := []taskcard.TaskCard{
		{Status: taskcard.StatusDismissed},
		{Status: taskcard.StatusDismissed},
		{Status: taskcard.StatusDismissed},
		{Status: taskcard.StatusGenerated},
	}
	r := Analyze(tasks)
	assert.NotEmpty(t, r.Recommendations)
}

func TestAnalyzeApprovedIncludesCompleted(t *testing.T) {
	tasks := []taskcard.TaskCard{
		{Status: taskcard.StatusCompleted},
		{Status: taskcard.StatusApproved},
	}
	r := Analyze(tasks)
	assert.Equal(t, 2, r.Counts.Approved)
	assert.Equal(t, 1, r.Counts.Completed)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.IntervalMin)
	assert.Equal(t, 60, cfg.WindowMin)
	assert.Equal(t, 10, cfg.MaxPerHour)
	assert.False(t, cfg.Auto.Enabled)
	assert.Equal(t, []string{"continuation_issue", "error_spike"}, cfg.Auto.TrustedAnalyzers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TASKGEN_INTERVAL_MIN", "5")
	t.Setenv("TASKGEN_MAX_PER_HOUR", "3")
	t.Setenv("TASKGEN_AUTO_APPROVE", "true")
	t.Setenv("TASKGEN_AUTO_APPROVE_ANALYZERS", "continuation_issue, documentation_gap")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.IntervalMin)
	assert.Equal(t, 3, cfg.MaxPerHour)
	assert.True(t, cfg.Auto.Enabled)
	assert.Equal(t, []string{"continuation_issue", "documentation_gap"}, cfg.Auto.TrustedAnalyzers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg2 := Default()
	cfg2.MaxPerHour = 0
	assert.Error(t, cfg2.Validate())
}

func TestManagerGetIsIndependentClone(t *testing.T) {
	m := NewManager(Default())
	snap := m.Get()
	snap.MaxTasks = 999

	fresh := m.Get()
	assert.NotEqual(t, 999, fresh.MaxTasks)
}

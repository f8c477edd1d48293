package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 0.6, c.Bus.ConsensusThreshold)
	assert.Equal(t, 3, c.Bus.MinVotes)
	assert.Equal(t, 1000, c.Bus.HistorySize)
	assert.Equal(t, "memory", c.Persistence.Driver)
	assert.Equal(t, "none", c.LLM.Provider)
	assert.Equal(t, []string{"1h", "4h", "1d"}, c.Agents.MarketAnalyst.Timeframes)

	rt := c.Agents.RiskManager.Runtime()
	assert.True(t, rt.Enabled)
	assert.Equal(t, 60*time.Second, rt.Interval)
	assert.Equal(t, 3, rt.MaxRetries)
}

func TestParseExplicitDisable(t *testing.T) {
	c, err := Parse([]byte(`
agents:
  external_signal:
    enabled: false
    interval_seconds: 120
    strong_only: true
`))
	require.NoError(t, err)

	rt := c.Agents.ExternalSignal.Runtime()
	assert.False(t, rt.Enabled)
	assert.Equal(t, 2*time.Minute, rt.Interval)
	assert.True(t, c.Agents.ExternalSignal.StrongOnly)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"threshold", "bus:\n  consensus_threshold: 0.3\n"},
		{"driver", "persistence:\n  driver: sqlite\n"},
		{"provider", "llm:\n  provider: bard\n"},
		{"exposure", "agents:\n  risk_manager:\n    max_exposure_percent: 150\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution_unused: 1\nbus:\n  min_votes: 2\n"), 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Bus.MinVotes)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/types"
)

func TestAppendWritesDailyJSONL(t *testing.T) {
	j := New(t.TempDir())
	day := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	j.now = func() time.Time { return day }

	tr := types.ExecutedTrade{ID: "t1", Direction: types.Long, Margin: 5000, Status: types.TradeOpen}
	require.NoError(t, j.Append(EventOpened, tr))
	tr.Status = types.TradeClosed
	require.NoError(t, j.Append(EventClosed, tr))

	f, err := os.Open(filepath.Join(j.Dir(), "2025-06-01.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, EventOpened, entries[0].Event)
	assert.Equal(t, types.TradeClosed, entries[1].Trade.Status)
	assert.Equal(t, "2025-06-01T23:30:00Z", entries[0].Time)
}

func TestAppendDecision(t *testing.T) {
	j := New(t.TempDir())
	require.NoError(t, j.AppendDecision(DecisionEntry{ProposalID: "p1", Approved: true, Approve: 3}))

	matches, err := filepath.Glob(filepath.Join(j.Dir(), "decisions", "*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCompressOlder(t *testing.T) {
	j := New(t.TempDir())
	oldPath := filepath.Join(j.Dir(), "2020-01-01.jsonl")
	newPath := filepath.Join(j.Dir(), "2099-01-01.jsonl")
	require.NoError(t, os.WriteFile(oldPath, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("{}\n"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	require.NoError(t, j.CompressOlder(7))

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(oldPath + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(newPath)
	assert.NoError(t, err)

	assert.NoError(t, j.CompressOlder(0))
}

func TestRetentionFromEnv(t *testing.T) {
	t.Setenv("TRADER_LOG_RETENTION_DAYS", "14")
	assert.Equal(t, 14, RetentionFromEnv())
	t.Setenv("TRADER_LOG_RETENTION_DAYS", "x")
	assert.Equal(t, 0, RetentionFromEnv())
}

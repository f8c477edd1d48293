package eod

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-agent-swarm/internal/tradelog"
	"btc-agent-swarm/internal/types"
)

func writeJournal(t *testing.T, dir string, day time.Time, entries ...tradelog.Entry) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, day.Format(dateLayout)+".jsonl"))
	require.NoError(t, err)
	defer f.Close()
	for _, e := range entries {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		_, err = f.Write(append(b, '\n'))
		require.NoError(t, err)
	}
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
}

func opened(source string, dir types.Direction, margin int64, lev, conf float64) tradelog.Entry {
	return tradelog.Entry{Event: tradelog.EventOpened, Trade: types.ExecutedTrade{
		Source:     source,
		Direction:  dir,
		Margin:     margin,
		Leverage:   lev,
		Confidence: conf,
	}}
}

func TestSummarizeDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	writeJournal(t, dir, day,
		opened("consensus", types.Long, 20_000, 5, 70),
		opened("consensus", types.Short, 10_000, 3, 80),
		opened("market_analyst", types.Long, 5_000, 2, 90),
		tradelog.Entry{Event: tradelog.EventClosed, Trade: types.ExecutedTrade{Source: "consensus"}},
	)

	s := New(dir)
	path, err := s.SummarizeDay(context.Background(), day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "eod", "2026-03-14.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{"consensus", "2", "1", "1", "1", "30000", "4.00", "75.00"}, rows[1])
	assert.Equal(t, []string{"market_analyst", "1", "0", "1", "0", "5000", "2.00", "90.00"}, rows[2])
	assert.Equal(t, []string{"TOTAL", "3", "1", "2", "1", "35000", "3.33", "80.00"}, rows[3])
}

func TestSummarizeDayWithoutJournal(t *testing.T) {
	path, err := New(t.TempDir()).SummarizeDay(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestShouldRunNow(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC)
	s := New(dir)
	s.now = func() time.Time { return now }

	ok, _ := s.ShouldRunNow()
	assert.False(t, ok, "no journal for yesterday")

	yesterday := now.AddDate(0, 0, -1)
	writeJournal(t, dir, yesterday, opened("consensus", types.Long, 1_000, 2, 70))
	ok, day := s.ShouldRunNow()
	require.True(t, ok)
	assert.Equal(t, "2026-03-14", day.Format(dateLayout))

	_, err := s.SummarizeDay(context.Background(), day)
	require.NoError(t, err)
	ok, _ = s.ShouldRunNow()
	assert.False(t, ok, "already summarized")
}

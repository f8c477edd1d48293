// Package eod writes a per-day CSV summary of the trade journal, one row
// per signal source plus a TOTAL row.
package eod

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/tradelog"
	"btc-agent-swarm/internal/types"
)

const dateLayout = "2006-01-02"

var header = []string{"source", "opened", "closed", "long", "short", "margin_sats", "avg_leverage", "avg_confidence"}

type aggRow struct {
	Source        string
	Opened        int
	Closed        int
	Long          int
	Short         int
	Margin        int64
	leverageSum   float64
	confidenceSum float64
}

func (r *aggRow) add(e tradelog.Entry) {
	switch e.Event {
	case tradelog.EventClosed:
		r.Closed++
		return
	case tradelog.EventOpened:
	default:
		return
	}
	r.Opened++
	if e.Trade.Direction == types.Short {
		r.Short++
	} else {
		r.Long++
	}
	r.Margin += e.Trade.Margin
	r.leverageSum += e.Trade.Leverage
	r.confidenceSum += e.Trade.Confidence
}

func (r *aggRow) merge(o *aggRow) {
	r.Opened += o.Opened
	r.Closed += o.Closed
	r.Long += o.Long
	r.Short += o.Short
	r.Margin += o.Margin
	r.leverageSum += o.leverageSum
	r.confidenceSum += o.confidenceSum
}

func (r *aggRow) record() []string {
	var lev, conf float64
	if r.Opened > 0 {
		lev = r.leverageSum / float64(r.Opened)
		conf = r.confidenceSum / float64(r.Opened)
	}
	return []string{
		r.Source,
		strconv.Itoa(r.Opened),
		strconv.Itoa(r.Closed),
		strconv.Itoa(r.Long),
		strconv.Itoa(r.Short),
		strconv.FormatInt(r.Margin, 10),
		fmt.Sprintf("%.2f", lev),
		fmt.Sprintf("%.2f", conf),
	}
}

// Summarizer reads the daily journal files under dir and writes CSVs to
// dir/eod.
type Summarizer struct {
	dir string
	now func() time.Time
}

func New(journalDir string) *Summarizer {
	return &Summarizer{dir: journalDir, now: time.Now}
}

func (s *Summarizer) journalPath(day time.Time) string {
	return filepath.Join(s.dir, day.UTC().Format(dateLayout)+".jsonl")
}

func (s *Summarizer) CSVPath(day time.Time) string {
	return filepath.Join(s.dir, "eod", day.UTC().Format(dateLayout)+".csv")
}

// SummarizeDay writes the CSV for day's UTC date and returns its path.
// A day without journal entries yields "" and a nil error.
func (s *Summarizer) SummarizeDay(ctx context.Context, day time.Time) (string, error) {
	op := logger.StartOperation(ctx, "eod.SummarizeDay", "date", day.UTC().Format(dateLayout))

	aggs, err := s.aggregate(s.journalPath(day))
	if err != nil {
		op.EndWithError(err)
		return "", err
	}
	if len(aggs) == 0 {
		op.End("rows", 0)
		return "", nil
	}

	out := s.CSVPath(day)
	if err := writeCSV(out, aggs); err != nil {
		op.EndWithError(err)
		return "", err
	}
	op.End("rows", len(aggs), "path", out)
	return out, nil
}

func (s *Summarizer) SummarizeToday(ctx context.Context) (string, error) {
	return s.SummarizeDay(ctx, s.now())
}

// ShouldRunNow reports whether the previous UTC day has a journal but no
// summary yet, and returns that day.
func (s *Summarizer) ShouldRunNow() (bool, time.Time) {
	day := s.now().UTC().AddDate(0, 0, -1)
	if _, err := os.Stat(s.journalPath(day)); err != nil {
		return false, day
	}
	_, err := os.Stat(s.CSVPath(day))
	return errors.Is(err, os.ErrNotExist), day
}

func (s *Summarizer) aggregate(path string) (map[string]*aggRow, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e tradelog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		src := e.Trade.Source
		if src == "" {
			src = "unknown"
		}
		row := aggs[src]
		if row == nil {
			row = &aggRow{Source: src}
			aggs[src] = row
		}
		row.add(e)
	}
	return aggs, sc.Err()
}

func writeCSV(path string, aggs map[string]*aggRow) (err error) {
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	total := &aggRow{Source: "TOTAL"}
	for _, k := range keys {
		if err := w.Write(aggs[k].record()); err != nil {
			return err
		}
		total.merge(aggs[k])
	}
	if err := w.Write(total.record()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

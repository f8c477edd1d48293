// Package tradelog is an append-only JSONL journal of trades and swarm
// decisions, one file per UTC day.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"btc-agent-swarm/internal/types"
)

const ext = ".jsonl"

type Event string

const (
	EventOpened Event = "opened"
	EventClosed Event = "closed"
)

type Entry struct {
	Time  string              `json:"time"`
	Event Event               `json:"event"`
	Trade types.ExecutedTrade `json:"trade"`
}

type DecisionEntry struct {
	Time       string         `json:"time"`
	ProposalID string         `json:"proposal_id"`
	Direction  string         `json:"direction"`
	Approved   bool           `json:"approved"`
	Approve    int            `json:"approve"`
	Reject     int            `json:"reject"`
	Abstain    int            `json:"abstain"`
	Confidence float64        `json:"confidence"`
	Extra      map[string]any `json:"extra,omitempty"`
}

type Journal struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// New opens a journal rooted at dir. An empty dir uses TRADER_LOG_DIR,
// falling back to logs/trades.
func New(dir string) *Journal {
	if dir == "" {
		dir = os.Getenv("TRADER_LOG_DIR")
	}
	if dir == "" {
		dir = filepath.Join("logs", "trades")
	}
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) Dir() string { return j.dir }

func (j *Journal) dailyFilepath(t time.Time) string {
	return filepath.Join(j.dir, t.UTC().Format("2006-01-02")+ext)
}

func (j *Journal) decisionsFilepath(t time.Time) string {
	return filepath.Join(j.dir, "decisions", t.UTC().Format("2006-01-02")+ext)
}

func (j *Journal) Append(event Event, trade types.ExecutedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now().UTC()
	return appendLine(j.dailyFilepath(now), Entry{Time: now.Format(time.RFC3339), Event: event, Trade: trade})
}

func (j *Journal) AppendDecision(e DecisionEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now().UTC()
	e.Time = now.Format(time.RFC3339)
	return appendLine(j.decisionsFilepath(now), e)
}

func appendLine(p string, v any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// RetentionFromEnv reads TRADER_LOG_RETENTION_DAYS; 0 disables compression.
func RetentionFromEnv() int {
	n, err := strconv.Atoi(os.Getenv("TRADER_LOG_RETENTION_DAYS"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CompressOlder gzips journal files last modified before the retention
// window and removes the originals.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ext {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		// if already gz exists, remove original
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

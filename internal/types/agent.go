package types

import (
	"encoding/json"
	"time"
)

type AgentType string

const (
	AgentMarketAnalyst  AgentType = "market_analyst"
	AgentRiskManager    AgentType = "risk_manager"
	AgentExecution      AgentType = "execution"
	AgentResearcher     AgentType = "researcher"
	AgentExternalSignal AgentType = "external_signal"
)

type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusAnalyzing AgentStatus = "analyzing"
	StatusExecuting AgentStatus = "executing"
	StatusError     AgentStatus = "error"
	StatusDisabled  AgentStatus = "disabled"
)

// Busy reports whether a tick is in flight.
func (s AgentStatus) Busy() bool {
	return s == StatusAnalyzing || s == StatusExecuting
}

type AgentConfig struct {
	Enabled    bool          `json:"enabled"`
	Interval   time.Duration `json:"interval"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
}

type AgentMetrics struct {
	TotalRuns         int64         `json:"total_runs"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	AvgExecutionTime  time.Duration `json:"avg_execution_time"`
	LastRunAt         *time.Time    `json:"last_run_at,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
}

// AgentState is what the runtime persists between restarts. Extra carries
// agent-specific fields (pending signals, last analysis, ...).
type AgentState struct {
	AgentID   string          `json:"agent_id"`
	AgentType AgentType       `json:"agent_type"`
	Config    AgentConfig     `json:"config"`
	Metrics   AgentMetrics    `json:"metrics"`
	Extra     json.RawMessage `json:"extra,omitempty"`
	SavedAt   time.Time       `json:"saved_at"`
}

type SwarmState struct {
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewsArticle struct {
	Title       string
	URL         string
	Content     string
	Source      string
	PublishedAt string
}

// NewsSentiment is an aggregate headline score in [0,100]; 50 is neutral.
type NewsSentiment struct {
	Query        string    `json:"query"`
	Score        float64   `json:"score"`
	ArticleCount int       `json:"article_count"`
	Headlines    []string  `json:"headlines,omitempty"`
	Summary      string    `json:"summary"`
	Timestamp    time.Time `json:"timestamp"`
}

type FearGreed struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"btc-agent-swarm/internal/types"
)

// AgentSection holds the knobs every agent shares.
type AgentSection struct {
	Enabled         *bool `yaml:"enabled"`
	IntervalSeconds int   `yaml:"interval_seconds"`
	TimeoutSeconds  int   `yaml:"timeout_seconds"`
	MaxRetries      int   `yaml:"max_retries"`
}

// Runtime converts the section into the runtime config.
func (a AgentSection) Runtime() types.AgentConfig {
	enabled := true
	if a.Enabled != nil {
		enabled = *a.Enabled
	}
	return types.AgentConfig{
		Enabled:    enabled,
		Interval:   time.Duration(a.IntervalSeconds) * time.Second,
		Timeout:    time.Duration(a.TimeoutSeconds) * time.Second,
		MaxRetries: a.MaxRetries,
	}
}

type Config struct {
	Exchange struct {
		BaseURL        string  `yaml:"base_url"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"exchange"`

	Bus struct {
		HistorySize         int     `yaml:"history_size"`
		ConsensusThreshold  float64 `yaml:"consensus_threshold"`
		MinVotes            int     `yaml:"min_votes"`
		ProposalMaxAgeHours int     `yaml:"proposal_max_age_hours"`
	} `yaml:"bus"`

	Chat struct {
		TimeoutSeconds        int `yaml:"timeout_seconds"`
		OpinionTimeoutSeconds int `yaml:"opinion_timeout_seconds"`
		SessionTTLMinutes     int `yaml:"session_ttl_minutes"`
		MaxSessions           int `yaml:"max_sessions"`
	} `yaml:"chat"`

	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"base_url"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
	} `yaml:"llm"`

	Persistence struct {
		Driver    string `yaml:"driver"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"persistence"`

	NATS struct {
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Agents struct {
		MarketAnalyst struct {
			AgentSection  `yaml:",inline"`
			Timeframes    []string `yaml:"timeframes"`
			MinConfidence float64  `yaml:"min_confidence"`
		} `yaml:"market_analyst"`
		RiskManager struct {
			AgentSection       `yaml:",inline"`
			MaxExposurePercent float64 `yaml:"max_exposure_percent"`
			MaxDailyLossPct    float64 `yaml:"max_daily_loss_percent"`
			MaxMarginPerTrade  int64   `yaml:"max_margin_per_trade"`
			MaxLeverage        float64 `yaml:"max_leverage"`
		} `yaml:"risk_manager"`
		Execution struct {
			AgentSection     `yaml:",inline"`
			AutoExecute      bool    `yaml:"auto_execute"`
			MinConfidence    float64 `yaml:"min_confidence"`
			CooldownMinutes  int     `yaml:"cooldown_minutes"`
			MaxOpenPositions int     `yaml:"max_open_positions"`
		} `yaml:"execution"`
		Researcher struct {
			AgentSection `yaml:",inline"`
			NewsQuery    string   `yaml:"news_query"`
			NewsSources  []string `yaml:"news_sources"`
		} `yaml:"researcher"`
		ExternalSignal struct {
			AgentSection  `yaml:",inline"`
			BaseURL       string   `yaml:"base_url"`
			Symbol        string   `yaml:"symbol"`
			Timeframes    []string `yaml:"timeframes"`
			Threshold     float64  `yaml:"threshold"`
			StrongOnly    bool     `yaml:"strong_only"`
			ForwardToExec bool     `yaml:"forward_to_execution"`
		} `yaml:"external_signal"`
	} `yaml:"agents"`
}

func (c *Config) Validate() error {
	if c.Bus.ConsensusThreshold < 0.5 || c.Bus.ConsensusThreshold > 1 {
		return fmt.Errorf("bus.consensus_threshold must be between 0.5-1.0, got %.2f", c.Bus.ConsensusThreshold)
	}
	if c.Bus.MinVotes < 1 {
		return fmt.Errorf("bus.min_votes must be >= 1, got %d", c.Bus.MinVotes)
	}
	switch c.Persistence.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("persistence.driver must be 'memory' or 'redis', got '%s'", c.Persistence.Driver)
	}
	switch c.LLM.Provider {
	case "none", "openai", "claude":
	default:
		return fmt.Errorf("llm.provider must be 'none', 'openai' or 'claude', got '%s'", c.LLM.Provider)
	}
	rm := c.Agents.RiskManager
	if rm.MaxExposurePercent <= 0 || rm.MaxExposurePercent > 100 {
		return fmt.Errorf("agents.risk_manager.max_exposure_percent must be between 0-100, got %.2f", rm.MaxExposurePercent)
	}
	if rm.MaxDailyLossPct <= 0 || rm.MaxDailyLossPct > 100 {
		return fmt.Errorf("agents.risk_manager.max_daily_loss_percent must be between 0-100, got %.2f", rm.MaxDailyLossPct)
	}
	if rm.MaxLeverage < 1 {
		return errors.New("agents.risk_manager.max_leverage must be >= 1")
	}
	if len(c.Agents.MarketAnalyst.Timeframes) == 0 {
		return errors.New("agents.market_analyst.timeframes cannot be empty")
	}
	return nil
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.lnmarkets.com/v2"
	}
	if c.Exchange.RateLimitRPS == 0 {
		c.Exchange.RateLimitRPS = 5
	}
	if c.Exchange.TimeoutSeconds == 0 {
		c.Exchange.TimeoutSeconds = 15
	}

	if c.Bus.HistorySize == 0 {
		c.Bus.HistorySize = 1000
	}
	if c.Bus.ConsensusThreshold == 0 {
		c.Bus.ConsensusThreshold = 0.6
	}
	if c.Bus.MinVotes == 0 {
		c.Bus.MinVotes = 3
	}
	if c.Bus.ProposalMaxAgeHours == 0 {
		c.Bus.ProposalMaxAgeHours = 24
	}

	if c.Chat.TimeoutSeconds == 0 {
		c.Chat.TimeoutSeconds = 10
	}
	if c.Chat.OpinionTimeoutSeconds == 0 {
		c.Chat.OpinionTimeoutSeconds = 15
	}
	if c.Chat.SessionTTLMinutes == 0 {
		c.Chat.SessionTTLMinutes = 120
	}
	if c.Chat.MaxSessions == 0 {
		c.Chat.MaxSessions = 500
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 512
	}
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = "memory"
	}
	if c.Persistence.KeyPrefix == "" {
		c.Persistence.KeyPrefix = "swarm"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "swarm.bus"
	}

	ma := &c.Agents.MarketAnalyst
	defaultSection(&ma.AgentSection, 300, 60, 3)
	if len(ma.Timeframes) == 0 {
		ma.Timeframes = []string{"1h", "4h", "1d"}
	}
	if ma.MinConfidence == 0 {
		ma.MinConfidence = 60
	}

	rm := &c.Agents.RiskManager
	defaultSection(&rm.AgentSection, 60, 30, 3)
	if rm.MaxExposurePercent == 0 {
		rm.MaxExposurePercent = 50
	}
	if rm.MaxDailyLossPct == 0 {
		rm.MaxDailyLossPct = 10
	}
	if rm.MaxMarginPerTrade == 0 {
		rm.MaxMarginPerTrade = 100_000
	}
	if rm.MaxLeverage == 0 {
		rm.MaxLeverage = 10
	}

	ex := &c.Agents.Execution
	defaultSection(&ex.AgentSection, 30, 30, 3)
	if ex.MinConfidence == 0 {
		ex.MinConfidence = 65
	}
	if ex.CooldownMinutes == 0 {
		ex.CooldownMinutes = 15
	}
	if ex.MaxOpenPositions == 0 {
		ex.MaxOpenPositions = 3
	}

	rs := &c.Agents.Researcher
	defaultSection(&rs.AgentSection, 900, 60, 3)
	if rs.NewsQuery == "" {
		rs.NewsQuery = "bitcoin"
	}

	es := &c.Agents.ExternalSignal
	defaultSection(&es.AgentSection, 600, 30, 3)
	if es.Symbol == "" {
		es.Symbol = "BITSTAMP:BTCUSD"
	}
	if len(es.Timeframes) == 0 {
		es.Timeframes = []string{"1h", "4h", "1d"}
	}
	if es.Threshold == 0 {
		es.Threshold = 3
	}
}

func defaultSection(s *AgentSection, interval, timeout, retries int) {
	if s.IntervalSeconds == 0 {
		s.IntervalSeconds = interval
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = timeout
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = retries
	}
}

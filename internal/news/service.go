package news

import (
	"context"
	"sync"
	"time"

	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

// Service provides news sentiment with caching
type Service struct {
	scraper  *Scraper
	analyzer *SentimentAnalyzer
	cache    *sentimentCache
	cfg      *ServiceConfig
}

var _ interfaces.NewsSentimentSource = (*Service)(nil)

// ServiceConfig configures the news sentiment service
type ServiceConfig struct {
	MaxArticles    int           // Maximum articles to scrape per query
	CacheDuration  time.Duration // How long to cache sentiment data
	ScraperTimeout time.Duration // Timeout for scraping operations
	Enabled        bool          // Whether sentiment analysis is enabled
	Sources        []NewsSource  // Empty means DefaultSources
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxArticles:    15,
		CacheDuration:  1 * time.Hour,
		ScraperTimeout: 30 * time.Second,
		Enabled:        true,
	}
}

// sentimentCache stores sentiment results temporarily. Expired entries
// are dropped on write.
type sentimentCache struct {
	mu   sync.RWMutex
	data map[string]*cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry struct {
	sentiment types.NewsSentiment
	timestamp time.Time
}

func newSentimentCache(ttl time.Duration) *sentimentCache {
	return &sentimentCache{
		data: make(map[string]*cacheEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// get retrieves cached sentiment if valid
func (c *sentimentCache) get(key string) (types.NewsSentiment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || c.now().Sub(entry.timestamp) > c.ttl {
		return types.NewsSentiment{}, false
	}
	return entry.sentiment, true
}

// set stores sentiment in cache
func (c *sentimentCache) set(key string, sentiment types.NewsSentiment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.data {
		if now.Sub(entry.timestamp) > c.ttl {
			delete(c.data, k)
		}
	}
	c.data[key] = &cacheEntry{sentiment: sentiment, timestamp: now}
}

func (c *sentimentCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// NewService creates a news sentiment service. ai may be nil.
func NewService(ai interfaces.AIBackend, serviceCfg *ServiceConfig) *Service {
	if serviceCfg == nil {
		serviceCfg = DefaultServiceConfig()
	}

	return &Service{
		scraper:  NewScraper(serviceCfg.ScraperTimeout, serviceCfg.Sources...),
		analyzer: NewSentimentAnalyzer(ai),
		cache:    newSentimentCache(serviceCfg.CacheDuration),
		cfg:      serviceCfg,
	}
}

// GetSentiment returns cached or fresh sentiment for query. Scrape
// failures degrade to a neutral reading.
func (s *Service) GetSentiment(ctx context.Context, query string) (types.NewsSentiment, error) {
	if !s.cfg.Enabled {
		return types.NewsSentiment{
			Query:     query,
			Score:     50,
			Summary:   "Sentiment analysis disabled",
			Timestamp: time.Now(),
		}, nil
	}

	if cached, ok := s.cache.get(query); ok {
		logger.Debug(ctx, "Using cached sentiment", "query", query, "age_minutes", time.Since(cached.Timestamp).Minutes())
		return cached, nil
	}

	logger.Info(ctx, "Fetching fresh news sentiment", "query", query)
	sentiment, err := s.fetchFreshSentiment(ctx, query)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch sentiment", err, "query", query)
		return types.NewsSentiment{
			Query:     query,
			Score:     50,
			Summary:   "Failed to fetch sentiment: " + err.Error(),
			Timestamp: time.Now(),
		}, nil
	}

	s.cache.set(query, sentiment)
	return sentiment, nil
}

func (s *Service) fetchFreshSentiment(ctx context.Context, query string) (types.NewsSentiment, error) {
	articles, err := s.scraper.ScrapeNews(ctx, query, s.cfg.MaxArticles)
	if err != nil {
		return types.NewsSentiment{}, err
	}

	// If no articles found, try Google News as fallback
	if len(articles) == 0 {
		logger.Info(ctx, "No articles from primary sources, trying Google News", "query", query)
		articles, err = s.scraper.ScrapeGoogleNews(ctx, query, s.cfg.MaxArticles)
		if err != nil {
			logger.ErrorWithErr(ctx, "Google News fallback failed", err, "query", query)
		}
	}

	sentiment := s.analyzer.AnalyzeMultipleArticles(ctx, query, articles)
	sentiment.Timestamp = time.Now()
	return sentiment, nil
}

// ClearCache removes all cached sentiment data
func (s *Service) ClearCache() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	s.cache.data = make(map[string]*cacheEntry)
}

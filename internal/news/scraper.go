package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Scraper handles scraping headlines from multiple sources
type Scraper struct {
	sources []NewsSource
	timeout time.Duration
}

// NewsSource defines a news source configuration
type NewsSource struct {
	Name       string
	BaseURL    string
	SearchPath string // e.g. "/tag/{query}/"
	Selectors  ArticleSelectors
	RateLimit  time.Duration
}

// ArticleSelectors defines CSS selectors for extracting article data
type ArticleSelectors struct {
	ArticleContainer string
	Title            string
	URL              string
	Content          string
	PublishedAt      string
}

// NewScraper creates a scraper over sources, or the default crypto
// sources when none are given.
func NewScraper(timeout time.Duration, sources ...NewsSource) *Scraper {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	return &Scraper{sources: sources, timeout: timeout}
}

// DefaultSources returns the crypto news sites scraped by default
func DefaultSources() []NewsSource {
	return []NewsSource{
		{
			Name:       "CoinDesk",
			BaseURL:    "https://www.coindesk.com",
			SearchPath: "/tag/{query}/",
			Selectors: ArticleSelectors{
				ArticleContainer: "div.article-cardstyles__AcRoot, div[class*=card]",
				Title:            "h2, h3, h4",
				URL:              "a",
				Content:          "p",
				PublishedAt:      "time, span[class*=date]",
			},
			RateLimit: 2 * time.Second,
		},
		{
			Name:       "Cointelegraph",
			BaseURL:    "https://cointelegraph.com",
			SearchPath: "/tags/{query}",
			Selectors: ArticleSelectors{
				ArticleContainer: "article.post-card-inline",
				Title:            "span.post-card-inline__title",
				URL:              "a.post-card-inline__title-link",
				Content:          "p.post-card-inline__text",
				PublishedAt:      "time",
			},
			RateLimit: 2 * time.Second,
		},
		{
			Name:       "Decrypt",
			BaseURL:    "https://decrypt.co",
			SearchPath: "/news/{query}",
			Selectors: ArticleSelectors{
				ArticleContainer: "article",
				Title:            "h3, h2",
				URL:              "a",
				Content:          "p",
				PublishedAt:      "time",
			},
			RateLimit: 2 * time.Second,
		},
	}
}

// SelectSources returns the default sources whose names match, ignoring
// case. An empty list selects all of them.
func SelectSources(names []string) []NewsSource {
	all := DefaultSources()
	if len(names) == 0 {
		return all
	}
	var out []NewsSource
	for _, src := range all {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), src.Name) {
				out = append(out, src)
				break
			}
		}
	}
	return out
}

// ScrapeNews fetches articles for query from all sources. Source failures
// are logged and skipped.
func (s *Scraper) ScrapeNews(ctx context.Context, query string, maxArticles int) ([]types.NewsArticle, error) {
	logger.Info(ctx, "Starting news scraping", "query", query, "sources", len(s.sources))

	allArticles := []types.NewsArticle{}
	articlesPerSource := maxArticles / len(s.sources)
	if articlesPerSource < 1 {
		articlesPerSource = 1
	}

	for i, source := range s.sources {
		articles, err := s.scrapeSource(ctx, source, query, articlesPerSource)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to scrape source", err, "source", source.Name, "query", query)
		} else {
			allArticles = append(allArticles, articles...)
		}

		// Rate limiting between sources
		if i < len(s.sources)-1 && source.RateLimit > 0 {
			select {
			case <-ctx.Done():
				return allArticles, ctx.Err()
			case <-time.After(source.RateLimit):
			}
		}
	}

	logger.Info(ctx, "News scraping completed", "query", query, "articles", len(allArticles))
	return allArticles, nil
}

// scrapeSource scrapes articles from a single news source
func (s *Scraper) scrapeSource(ctx context.Context, source NewsSource, query string, maxArticles int) ([]types.NewsArticle, error) {
	articles := []types.NewsArticle{}

	c := colly.NewCollector(
		colly.AllowedDomains(getDomain(source.BaseURL)),
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("User-Agent", userAgent)
	})

	c.OnHTML(source.Selectors.ArticleContainer, func(e *colly.HTMLElement) {
		if len(articles) >= maxArticles {
			return
		}
		art, ok := extractArticle(e.DOM, source)
		if !ok {
			return
		}
		articles = append(articles, art)
	})

	c.OnError(func(r *colly.Response, err error) {
		logger.ErrorWithErr(ctx, "Scraping error", err, "source", source.Name, "url", r.Request.URL.String())
	})

	searchURL := source.BaseURL + strings.ReplaceAll(source.SearchPath, "{query}", url.PathEscape(strings.ToLower(query)))
	if err := c.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", searchURL, err)
	}
	c.Wait()

	return articles, nil
}

// extractArticle reads one article card.
func extractArticle(sel *goquery.Selection, source NewsSource) (types.NewsArticle, bool) {
	title := strings.TrimSpace(sel.Find(source.Selectors.Title).First().Text())
	if title == "" {
		return types.NewsArticle{}, false
	}
	href, ok := sel.Find(source.Selectors.URL).First().Attr("href")
	if !ok || href == "" {
		return types.NewsArticle{}, false
	}
	// Make URL absolute
	if !strings.HasPrefix(href, "http") {
		href = strings.TrimRight(source.BaseURL, "/") + "/" + strings.TrimLeft(href, "/")
	}
	return types.NewsArticle{
		Title:       title,
		URL:         href,
		Content:     strings.TrimSpace(sel.Find(source.Selectors.Content).First().Text()),
		Source:      source.Name,
		PublishedAt: strings.TrimSpace(sel.Find(source.Selectors.PublishedAt).First().Text()),
	}, true
}

// getDomain extracts domain from URL
func getDomain(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ScrapeGoogleNews searches Google News (fallback method)
func (s *Scraper) ScrapeGoogleNews(ctx context.Context, query string, maxArticles int) ([]types.NewsArticle, error) {
	articles := []types.NewsArticle{}

	c := colly.NewCollector(
		colly.AllowedDomains("news.google.com", "www.google.com"),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
	})

	c.OnHTML("article", func(e *colly.HTMLElement) {
		if len(articles) >= maxArticles {
			return
		}

		title := e.ChildText("h3, h4, a.JtKRv")
		link := e.ChildAttr("a", "href")

		if title != "" && link != "" {
			// Clean up Google News redirect URL
			if strings.HasPrefix(link, "./articles/") || strings.HasPrefix(link, "./read/") {
				link = "https://news.google.com" + link[1:]
			}
			articles = append(articles, types.NewsArticle{
				Title:  title,
				URL:    link,
				Source: "GoogleNews",
			})
		}
	})

	searchURL := fmt.Sprintf("https://news.google.com/search?q=%s&hl=en-US&gl=US&ceid=US:en", url.QueryEscape(query+" crypto"))
	if err := c.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("failed to scrape Google News: %w", err)
	}
	c.Wait()

	logger.Info(ctx, "Google News scraping completed", "query", query, "articles", len(articles))
	return articles, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"btc-agent-swarm/internal/exchange/exchangeobs"
	"btc-agent-swarm/internal/exchange/lnmarkets"
	"btc-agent-swarm/internal/extsignal"
	"btc-agent-swarm/internal/feargreed"
	"btc-agent-swarm/internal/interfaces"
	"btc-agent-swarm/internal/llm"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/natsbridge"
	"btc-agent-swarm/internal/news"
	"btc-agent-swarm/internal/persist"
	"btc-agent-swarm/internal/store"
	"btc-agent-swarm/internal/swarm"
	"btc-agent-swarm/internal/ta"
	"btc-agent-swarm/internal/tradelog"
)

// app is a fully wired, initialized swarm plus whatever must be closed
// on exit.
type app struct {
	cfg     *store.Config
	coord   *swarm.Coordinator
	journal *tradelog.Journal
	closers []func() error
}

func (a *app) close(ctx context.Context) {
	if a.coord != nil {
		a.coord.Close(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn(ctx, "Shutdown step failed", "error", err)
		}
	}
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn(ctx, "Config file not found, using defaults", "path", path)
		return store.Default(), nil
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// credentialsFromEnv returns nil unless all three LN Markets secrets are set.
func credentialsFromEnv() *lnmarkets.Credentials {
	c := lnmarkets.Credentials{
		Key:        os.Getenv("LNM_API_KEY"),
		Secret:     os.Getenv("LNM_API_SECRET"),
		Passphrase: os.Getenv("LNM_API_PASSPHRASE"),
	}
	if c.Key == "" || c.Secret == "" || c.Passphrase == "" {
		return nil
	}
	return &c
}

func exchangeConfig(cfg *store.Config, creds *lnmarkets.Credentials) lnmarkets.Config {
	return lnmarkets.Config{
		BaseURL:      cfg.Exchange.BaseURL,
		Timeout:      time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		RateLimitRPS: cfg.Exchange.RateLimitRPS,
		Credentials:  creds,
	}
}

func initializePersistence(ctx context.Context, cfg *store.Config) (interfaces.Persistence, func() error, error) {
	url := os.Getenv("REDIS_URL")
	if strings.EqualFold(cfg.Persistence.Driver, "redis") || url != "" {
		if url == "" {
			return nil, nil, errors.New("persistence driver redis requires REDIS_URL")
		}
		rs, err := persist.NewRedisStore(ctx, url, cfg.Persistence.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		logger.Info(ctx, "Using redis persistence", "prefix", cfg.Persistence.KeyPrefix)
		return rs, rs.Close, nil
	}
	logger.Info(ctx, "Using in-memory persistence; agent state will not survive restarts")
	return persist.NewMemoryStore(), nil, nil
}

// buildApp wires every collaborator from config and environment, then
// initializes the coordinator.
func buildApp(ctx context.Context, o *rootOptions) (*app, error) {
	cfg, err := loadConfig(ctx, o.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	journal := tradelog.New(o.logDir)
	a.journal = journal
	if err := journal.CompressOlder(tradelog.RetentionFromEnv()); err != nil {
		logger.Warn(ctx, "Failed to compress old trade logs", "error", err)
	}

	public, err := lnmarkets.New(exchangeConfig(cfg, nil))
	if err != nil {
		return nil, fmt.Errorf("exchange client: %w", err)
	}

	st, closeStore, err := initializePersistence(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	ai := llm.New(cfg)
	newsCfg := news.DefaultServiceConfig()
	newsCfg.Sources = news.SelectSources(cfg.Agents.Researcher.NewsSources)

	deps := swarm.Deps{
		Exchange: exchangeobs.Wrap(public),
		Connect: func(c lnmarkets.Credentials) (interfaces.Exchange, error) {
			cl, err := lnmarkets.New(exchangeConfig(cfg, &c))
			if err != nil {
				return nil, err
			}
			return exchangeobs.Wrap(cl), nil
		},
		Analyzer:  ta.NewService(),
		AI:        ai,
		News:      news.NewService(ai, newsCfg),
		FearGreed: feargreed.New(""),
		Signals:   extsignal.New(cfg.Agents.ExternalSignal.BaseURL),
		Store:     st,
		Journal:   journal,
	}

	a.coord = swarm.New(cfg, deps)

	if url := os.Getenv("NATS_URL"); url != "" {
		br, err := natsbridge.Connect(ctx, url, cfg.NATS.SubjectPrefix)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		br.Attach(a.coord.Bus())
		a.closers = append(a.closers, br.Close)
	}

	if err := a.coord.Initialize(ctx, credentialsFromEnv()); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// refresh runs one tick of every agent so one-shot commands answer from
// current data.
func (a *app) refresh(ctx context.Context) {
	op := logger.StartOperation(ctx, "swarm.refresh")
	var g errgroup.Group
	for _, rt := range a.coord.Agents() {
		rt := rt
		g.Go(func() error {
			rt.Tick(op.GetContext())
			return nil
		})
	}
	_ = g.Wait()
	op.End()
}

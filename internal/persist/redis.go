package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/types"
)

// RedisStore keeps agent state and swarm state as JSON strings and trades
// in a single hash keyed by trade id.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(ctx, "Connected to Redis", "addr", opts.Addr, "prefix", prefix)
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) agentKey(id string) string { return r.prefix + ":agent:" + id }
func (r *RedisStore) tradesKey() string         { return r.prefix + ":trades" }
func (r *RedisStore) swarmKey() string          { return r.prefix + ":swarm" }

func (r *RedisStore) SaveAgentState(ctx context.Context, st types.AgentState) error {
	return r.setJSON(ctx, r.agentKey(st.AgentID), st)
}

func (r *RedisStore) LoadAgentState(ctx context.Context, agentID string) (*types.AgentState, error) {
	var st types.AgentState
	if err := r.getJSON(ctx, r.agentKey(agentID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *RedisStore) SaveTrade(ctx context.Context, t types.ExecutedTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := r.client.HSet(ctx, r.tradesKey(), t.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store trade %s: %w", t.ID, err)
	}
	return nil
}

func (r *RedisStore) LoadTrades(ctx context.Context) ([]types.ExecutedTrade, error) {
	raw, err := r.client.HGetAll(ctx, r.tradesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	out := make([]types.ExecutedTrade, 0, len(raw))
	for id, data := range raw {
		var t types.ExecutedTrade
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			logger.Warn(ctx, "Skipping corrupt trade record", "trade_id", id, "error", err)
			continue
		}
		out = append(out, t)
	}
	sortTrades(out)
	return out, nil
}

func (r *RedisStore) SaveSwarmState(ctx context.Context, st types.SwarmState) error {
	return r.setJSON(ctx, r.swarmKey(), st)
}

func (r *RedisStore) LoadSwarmState(ctx context.Context) (*types.SwarmState, error) {
	var st types.SwarmState
	if err := r.getJSON(ctx, r.swarmKey(), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

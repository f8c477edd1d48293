// Package persist implements interfaces.Persistence on redis and in memory.
package persist

import (
	"errors"
	"sort"

	"btc-agent-swarm/internal/types"
)

var ErrNotFound = errors.New("not found")

func sortTrades(trades []types.ExecutedTrade) {
	sort.Slice(trades, func(i, j int) bool { return trades[i].OpenedAt.Before(trades[j].OpenedAt) })
}

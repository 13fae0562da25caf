package pipeline

import (
	"github.com/dentalytics/dentasync/internal/config"
)

// SelectStrategy picks the load path from the table's estimated row count.
// Estimates sitting exactly on a threshold take the heavier path, since an
// estimate that large usually undercounts.
func SelectStrategy(estimatedRows int64, cfg *config.Config) Strategy {
	switch {
	case estimatedRows < cfg.ChunkThreshold:
		return StrategyStandard
	case estimatedRows < cfg.StreamThreshold:
		return StrategyChunked
	default:
		return StrategyStreaming
	}
}

// BatchSizeFor resolves the effective write batch size, preferring the
// per-table override from the catalog.
func BatchSizeFor(tc *config.TableConfig, cfg *config.Config) int {
	if tc.BatchSize > 0 {
		return tc.BatchSize
	}
	return cfg.BatchSize
}

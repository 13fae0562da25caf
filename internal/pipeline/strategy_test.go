package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dentalytics/dentasync/internal/config"
)

func TestSelectStrategy(t *testing.T) {
	cfg := &config.Config{ChunkThreshold: 50000, StreamThreshold: 500000}

	tests := []struct {
		name string
		rows int64
		want Strategy
	}{
		{"zero rows", 0, StrategyStandard},
		{"small lookup table", 120, StrategyStandard},
		{"just below chunk threshold", 49999, StrategyStandard},
		{"exactly chunk threshold", 50000, StrategyChunked},
		{"just above chunk threshold", 50001, StrategyChunked},
		{"just below stream threshold", 499999, StrategyChunked},
		{"exactly stream threshold", 500000, StrategyStreaming},
		{"audit trail scale", 12000000, StrategyStreaming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.rows, cfg))
		})
	}
}

func TestBatchSizeFor(t *testing.T) {
	cfg := &config.Config{BatchSize: 5000}

	assert.Equal(t, 5000, BatchSizeFor(&config.TableConfig{Name: "patient"}, cfg))
	assert.Equal(t, 1000, BatchSizeFor(&config.TableConfig{Name: "eobattach", BatchSize: 1000}, cfg))
}

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartingWatermarkDefaultsToEpoch(t *testing.T) {
	tracker := newTestTracker(t)
	l := &TableLoader{tracker: tracker, logger: zap.NewNop()}

	got, err := l.startingWatermark(context.Background(), timestampTable("patient"), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "0001-01-01 00:00:00", got)
}

func TestStartingWatermarkUsesCommittedValue(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	tc := timestampTable("appointment")
	require.NoError(t, tracker.Commit(ctx, tc, "2026-08-29 14:05:00", 100))

	l := &TableLoader{tracker: tracker, logger: zap.NewNop()}
	got, err := l.startingWatermark(ctx, tc, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29 14:05:00", got)
}

func TestStartingWatermarkResumesAfterInterruptedRun(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	tc := timestampTable("appointment")

	// A previous run committed, then a later run died mid-load and left the
	// status stuck at in_progress.
	require.NoError(t, tracker.Commit(ctx, tc, "2026-08-29 14:05:00", 100))
	require.NoError(t, tracker.Begin(ctx, tc.Name))

	l := &TableLoader{tracker: tracker, logger: zap.NewNop()}
	got, err := l.startingWatermark(ctx, tc, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29 14:05:00", got)
}

func TestKindOfClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"source schema", &SourceSchemaError{Table: "eobattach", Column: "DateTCreated"}, ErrKindSourceSchema},
		{"watermark store", &WatermarkStoreError{Table: "patient", Op: "commit"}, ErrKindWatermarkStore},
		{"write", &WriteError{Table: "claimproc"}, ErrKindWrite},
		{"deadline", context.DeadlineExceeded, ErrKindTimeout},
		{"cancellation", context.Canceled, ErrKindTimeout},
		{"wrapped write under deadline", &WriteError{Table: "claimproc", Err: context.DeadlineExceeded}, ErrKindTimeout},
		{"plain error", assert.AnError, ErrKindWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

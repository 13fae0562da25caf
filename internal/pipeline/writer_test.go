package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/metrics"
)

// openSourceStream materializes a RowStream from a scratch table, standing
// in for the MySQL cursor the extractor would normally hand over. Source and
// target live in separate databases, like the real topology, so the open
// cursor never contends with target writes.
func openSourceStream(t *testing.T, src *db.Connector, query string) *RowStream {
	t.Helper()
	rows, err := src.DB.Raw(query).Rows()
	require.NoError(t, err)
	cols, err := rows.Columns()
	require.NoError(t, err)
	return &RowStream{rows: rows, columns: cols, table: "appointment"}
}

func setupWriterTest(t *testing.T) (*TargetWriter, *db.Connector, *db.Connector, *config.TableConfig) {
	src := newSQLiteConnector(t)
	dst := newSQLiteConnector(t)

	require.NoError(t, src.DB.Exec(`CREATE TABLE source_rows (
		"AptNum" integer NOT NULL,
		"AptStatus" integer NOT NULL,
		"DateTStamp" text NOT NULL
	)`).Error)
	require.NoError(t, dst.DB.Exec(`CREATE TABLE appointment (
		"AptNum" integer NOT NULL,
		"AptStatus" integer NOT NULL,
		"DateTStamp" text NOT NULL,
		PRIMARY KEY ("AptNum")
	)`).Error)

	cfg := &config.Config{BatchSize: 2, MaxRetries: 1, RetryInterval: 0}
	writer := NewTargetWriter(dst, "", cfg, metrics.NewStore(), zap.NewNop())
	tc := &config.TableConfig{
		Name:              "appointment",
		IncrementalColumn: "DateTStamp",
		IncrementalKind:   config.IncrementalTimestamp,
		PrimaryKey:        []string{"AptNum"},
		Columns:           []string{"AptNum", "AptStatus", "DateTStamp"},
	}
	return writer, src, dst, tc
}

func seedSourceRows(t *testing.T, src *db.Connector, rows [][3]interface{}) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, src.DB.Exec(
			`INSERT INTO source_rows ("AptNum", "AptStatus", "DateTStamp") VALUES (?, ?, ?)`,
			r[0], r[1], r[2]).Error)
	}
}

func TestWriterChunkedPath(t *testing.T) {
	writer, src, dst, tc := setupWriterTest(t)
	seedSourceRows(t, src, [][3]interface{}{
		{1, 1, "2026-08-29 09:00:00"},
		{2, 1, "2026-08-29 10:00:00"},
		{3, 2, "2026-08-29 11:00:00"},
		{4, 1, "2026-08-29 12:00:00"},
		{5, 3, "2026-08-29 14:05:00"},
	})

	stream := openSourceStream(t, src, `SELECT * FROM source_rows ORDER BY "DateTStamp"`)
	defer stream.Close()

	stats, err := writer.Write(context.Background(), tc, StrategyChunked, stream)
	require.NoError(t, err)

	assert.Equal(t, int64(5), stats.Rows)
	assert.Equal(t, 3, stats.Batches, "5 rows at batch size 2 should flush 3 times")
	assert.Equal(t, "2026-08-29 14:05:00", stats.MaxWatermark)

	var count int64
	require.NoError(t, dst.DB.Raw(`SELECT COUNT(*) FROM appointment`).Scan(&count).Error)
	assert.Equal(t, int64(5), count)
}

func TestWriterStandardPathBoundsStatements(t *testing.T) {
	writer, src, _, tc := setupWriterTest(t)
	seedSourceRows(t, src, [][3]interface{}{
		{1, 1, "2026-08-29 09:00:00"},
		{2, 1, "2026-08-29 10:00:00"},
		{3, 2, "2026-08-29 11:00:00"},
	})

	stream := openSourceStream(t, src, `SELECT * FROM source_rows ORDER BY "DateTStamp"`)
	defer stream.Close()

	// Standard drains the stream in one pass but still writes in pages of
	// the configured batch size.
	stats, err := writer.Write(context.Background(), tc, StrategyStandard, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows)
	assert.Equal(t, 2, stats.Batches)
}

func TestWriterStandardPathLargeFullLoad(t *testing.T) {
	writer, src, dst, tc := setupWriterTest(t)

	// A first load from the epoch on a mid-sized table. Unpaged, 20000 rows
	// of 3 columns would need 60000 bind variables in one statement, past
	// what SQLite (32766) or Postgres (65535) accepts.
	require.NoError(t, src.DB.Exec(`
		INSERT INTO source_rows ("AptNum", "AptStatus", "DateTStamp")
		WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < 20000)
		SELECT n, 1, datetime('2026-08-29 00:00:00', '+' || n || ' seconds') FROM seq`).Error)

	writer.cfg.BatchSize = 50000

	stream := openSourceStream(t, src, `SELECT * FROM source_rows ORDER BY "AptNum"`)
	defer stream.Close()

	stats, err := writer.Write(context.Background(), tc, StrategyStandard, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), stats.Rows)
	assert.Equal(t, 2, stats.Batches, "pages capped at maxBindParams/columns rows")
	assert.Equal(t, "2026-08-29 05:33:20", stats.MaxWatermark)

	var count int64
	require.NoError(t, dst.DB.Raw(`SELECT COUNT(*) FROM appointment`).Scan(&count).Error)
	assert.Equal(t, int64(20000), count)
}

func TestWriterUpsertIsIdempotent(t *testing.T) {
	writer, src, dst, tc := setupWriterTest(t)
	seedSourceRows(t, src, [][3]interface{}{
		{1, 1, "2026-08-29 09:00:00"},
		{2, 1, "2026-08-29 10:00:00"},
	})

	stream := openSourceStream(t, src, `SELECT * FROM source_rows ORDER BY "DateTStamp"`)
	_, err := writer.Write(context.Background(), tc, StrategyStandard, stream)
	stream.Close()
	require.NoError(t, err)

	// The appointment moved; replaying it along with an unchanged row must
	// update in place rather than duplicate or fail.
	require.NoError(t, src.DB.Exec(
		`UPDATE source_rows SET "AptStatus" = 5, "DateTStamp" = '2026-08-30 08:00:00' WHERE "AptNum" = 2`).Error)

	stream = openSourceStream(t, src, `SELECT * FROM source_rows ORDER BY "DateTStamp"`)
	stats, err := writer.Write(context.Background(), tc, StrategyStandard, stream)
	stream.Close()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30 08:00:00", stats.MaxWatermark)

	var count int64
	require.NoError(t, dst.DB.Raw(`SELECT COUNT(*) FROM appointment`).Scan(&count).Error)
	assert.Equal(t, int64(2), count)

	var status int
	require.NoError(t, dst.DB.Raw(`SELECT "AptStatus" FROM appointment WHERE "AptNum" = 2`).Scan(&status).Error)
	assert.Equal(t, 5, status)
}

func TestWriterEmptyStream(t *testing.T) {
	writer, src, _, tc := setupWriterTest(t)

	stream := openSourceStream(t, src, `SELECT * FROM source_rows`)
	defer stream.Close()

	stats, err := writer.Write(context.Background(), tc, StrategyStandard, stream)
	require.NoError(t, err)
	assert.Zero(t, stats.Rows)
	assert.Zero(t, stats.Batches)
	assert.Empty(t, stats.MaxWatermark)
}

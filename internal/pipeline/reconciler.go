package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/metrics"
	"github.com/dentalytics/dentasync/internal/utils"
)

// SchemaReconciler converges target table structure with the live source
// before every load. The comparison is intentionally coarse: a column-count
// mismatch means drop and recreate, per-column type differences are logged
// and tolerated.
type SchemaReconciler struct {
	src     *db.Connector
	dst     *db.Connector
	schema  string
	tracker Tracker
	metrics *metrics.Store
	logger  *zap.Logger
	dryRun  bool
}

func NewSchemaReconciler(src, dst *db.Connector, schema string, tracker Tracker, m *metrics.Store, logger *zap.Logger, dryRun bool) *SchemaReconciler {
	return &SchemaReconciler{
		src:     src,
		dst:     dst,
		schema:  schema,
		tracker: tracker,
		metrics: m,
		logger:  logger.Named("schema-reconciler"),
		dryRun:  dryRun,
	}
}

// Reconcile snapshots both sides, converges the target, and returns the
// outcome together with the source snapshot used downstream for extraction.
func (r *SchemaReconciler) Reconcile(ctx context.Context, tc *config.TableConfig) (ReconcileOutcome, *SchemaDescriptor, error) {
	srcDesc, err := FetchSourceSchema(ctx, r.src, tc.Name)
	if err != nil {
		return OutcomeUnchanged, nil, err
	}

	dstDesc, err := FetchTargetSchema(ctx, r.dst, r.schema, tc.Name)
	if err != nil {
		return OutcomeUnchanged, srcDesc, err
	}

	log := r.logger.With(zap.String("table", tc.Name))

	if dstDesc == nil {
		log.Info("Target table missing, creating from source snapshot")
		if err := r.createTable(ctx, tc, srcDesc); err != nil {
			return OutcomeUnchanged, srcDesc, err
		}
		if err := r.resetWatermarkIfTracked(ctx, tc); err != nil {
			return OutcomeCreated, srcDesc, err
		}
		return OutcomeCreated, srcDesc, nil
	}

	if len(dstDesc.Columns) != len(srcDesc.Columns) {
		log.Warn("Column count drift detected, dropping and recreating target",
			zap.Int("source_columns", len(srcDesc.Columns)),
			zap.Int("target_columns", len(dstDesc.Columns)))
		if err := r.recreateTable(ctx, tc, srcDesc); err != nil {
			return OutcomeUnchanged, srcDesc, err
		}
		if !r.dryRun {
			r.metrics.SchemaRecreatesTotal.WithLabelValues(tc.Name).Inc()
		}
		if err := r.resetWatermark(ctx, tc); err != nil {
			return OutcomeRecreated, srcDesc, err
		}
		return OutcomeRecreated, srcDesc, nil
	}

	r.logTypeDivergence(srcDesc, dstDesc, log)
	return OutcomeUnchanged, srcDesc, nil
}

// logTypeDivergence reports per-column type differences without acting on
// them. Counts match, so the load proceeds.
func (r *SchemaReconciler) logTypeDivergence(srcDesc, dstDesc *SchemaDescriptor, log *zap.Logger) {
	for _, sc := range srcDesc.Columns {
		dc, ok := dstDesc.Column(sc.Name)
		if !ok {
			log.Warn("Column present in source but renamed or missing on target",
				zap.String("column", sc.Name))
			continue
		}
		mapped := MapColumnType(sc, nil, r.dst.Dialect)
		if !typesCompatible(mapped, dc.Type) {
			log.Warn("Column type diverges between source and target",
				zap.String("column", sc.Name),
				zap.String("source_type", sc.FullType),
				zap.String("target_type", dc.Type))
		}
	}
}

// typesCompatible is a loose check. information_schema reports canonical
// names ("character varying") while DDL uses aliases ("varchar"), and a
// boolean target for a tinyint source is an expected inference result.
func typesCompatible(mapped, actual string) bool {
	normalize := func(t string) string {
		if i := strings.IndexByte(t, '('); i >= 0 {
			t = t[:i]
		}
		switch t {
		case "varchar", "character varying":
			return "varchar"
		case "char", "character", "bpchar":
			return "char"
		case "timestamp", "timestamp without time zone", "datetime":
			return "timestamp"
		case "time", "time without time zone":
			return "time"
		case "int", "int4":
			return "integer"
		case "int8":
			return "bigint"
		case "int2":
			return "smallint"
		case "float8":
			return "double precision"
		case "float4":
			return "real"
		case "bool":
			return "boolean"
		case "numeric", "decimal":
			return "numeric"
		}
		return t
	}
	m, a := normalize(mapped), normalize(actual)
	if m == a {
		return true
	}
	// Boolean inference depends on live data, so either rendering is fine.
	if (m == "boolean" && (a == "smallint" || a == "integer")) ||
		(a == "boolean" && (m == "smallint" || m == "integer")) {
		return true
	}
	return false
}

func (r *SchemaReconciler) createTable(ctx context.Context, tc *config.TableConfig, srcDesc *SchemaDescriptor) error {
	booleans := InferBooleanColumns(ctx, r.src, srcDesc, r.logger)
	statements := r.buildCreateStatements(tc, srcDesc, booleans)
	return r.execDDL(ctx, tc.Name, statements)
}

func (r *SchemaReconciler) recreateTable(ctx context.Context, tc *config.TableConfig, srcDesc *SchemaDescriptor) error {
	booleans := InferBooleanColumns(ctx, r.src, srcDesc, r.logger)
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", r.qualifiedName(tc.Name))
	statements := append([]string{drop}, r.buildCreateStatements(tc, srcDesc, booleans)...)
	return r.execDDL(ctx, tc.Name, statements)
}

// buildCreateStatements renders CREATE TABLE plus an index on the
// incremental column, which every extraction filters and orders on.
func (r *SchemaReconciler) buildCreateStatements(tc *config.TableConfig, srcDesc *SchemaDescriptor, booleans map[string]bool) []string {
	dialect := r.dst.Dialect
	qualified := r.qualifiedName(tc.Name)

	var defs []string
	for _, col := range srcDesc.Columns {
		def := fmt.Sprintf("%s %s", utils.QuoteIdentifier(col.Name, dialect), MapColumnType(col, booleans, dialect))
		if !col.IsNullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(tc.PrimaryKey) > 0 {
		quoted := make([]string, 0, len(tc.PrimaryKey))
		for _, pk := range tc.PrimaryKey {
			quoted = append(quoted, utils.QuoteIdentifier(pk, dialect))
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	create := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", qualified, strings.Join(defs, ",\n  "))

	idxName := fmt.Sprintf("idx_%s_%s", tc.Name, strings.ToLower(tc.IncrementalColumn))
	index := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		utils.QuoteIdentifier(idxName, dialect),
		qualified,
		utils.QuoteIdentifier(tc.IncrementalColumn, dialect))

	return []string{create, index}
}

// execDDL runs the statements in order, collecting every failure so the log
// shows the full picture rather than just the first error.
func (r *SchemaReconciler) execDDL(ctx context.Context, table string, statements []string) error {
	if r.dryRun {
		for _, s := range statements {
			r.logger.Info("Dry run, DDL not executed",
				zap.String("table", table),
				zap.String("ddl", s))
		}
		return nil
	}
	var errs error
	for _, s := range statements {
		if err := r.dst.DB.WithContext(ctx).Exec(s).Error; err != nil {
			r.logger.Error("DDL execution failed",
				zap.String("table", table),
				zap.String("ddl", s),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("exec %q: %w", firstWords(s, 3), err))
		}
	}
	return errs
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func (r *SchemaReconciler) qualifiedName(table string) string {
	if r.dst.Dialect == "sqlite" {
		return utils.QuoteIdentifier(table, "sqlite")
	}
	return utils.QualifyTable(r.schema, table, r.dst.Dialect)
}

// resetWatermark rewinds the tracked position after a structural change so
// the next extraction replays the table from the epoch.
func (r *SchemaReconciler) resetWatermark(ctx context.Context, tc *config.TableConfig) error {
	if r.dryRun {
		return nil
	}
	r.metrics.WatermarkResetsTotal.WithLabelValues(tc.Name).Inc()
	return r.tracker.Reset(ctx, tc)
}

// resetWatermarkIfTracked covers the case where the target table was dropped
// by hand but its watermark row survived.
func (r *SchemaReconciler) resetWatermarkIfTracked(ctx context.Context, tc *config.TableConfig) error {
	if r.dryRun {
		return nil
	}
	wm, err := r.tracker.Get(ctx, tc.Name)
	if err != nil {
		return err
	}
	if wm == nil {
		return nil
	}
	r.metrics.WatermarkResetsTotal.WithLabelValues(tc.Name).Inc()
	return r.tracker.Reset(ctx, tc)
}

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/utils"
)

// booleanSampleLimit caps how many values we inspect when deciding whether a
// narrow integer column actually carries boolean flags.
const booleanSampleLimit = 100

type mysqlColumnRow struct {
	ColumnName      string `gorm:"column:column_name"`
	DataType        string `gorm:"column:data_type"`
	ColumnType      string `gorm:"column:column_type"`
	IsNullable      string `gorm:"column:is_nullable"`
	ColumnKey       string `gorm:"column:column_key"`
	CharMaxLength   *int64 `gorm:"column:character_maximum_length"`
	NumericPrec     *int64 `gorm:"column:numeric_precision"`
	NumericScale    *int64 `gorm:"column:numeric_scale"`
	OrdinalPosition int    `gorm:"column:ordinal_position"`
}

// FetchSourceSchema snapshots a MySQL table's columns. It returns
// ErrSourceTableAbsent when the table does not exist.
func FetchSourceSchema(ctx context.Context, src *db.Connector, table string) (*SchemaDescriptor, error) {
	var rows []mysqlColumnRow
	query := `
		SELECT column_name, data_type, column_type, is_nullable, column_key,
		       character_maximum_length, numeric_precision, numeric_scale, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`
	if err := src.DB.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch source schema for %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, ErrSourceTableAbsent)
	}

	desc := &SchemaDescriptor{Table: table, Columns: make([]ColumnInfo, 0, len(rows))}
	for _, r := range rows {
		col := ColumnInfo{
			Name:            r.ColumnName,
			Type:            strings.ToLower(r.DataType),
			FullType:        strings.ToLower(r.ColumnType),
			IsNullable:      strings.EqualFold(r.IsNullable, "YES"),
			IsPrimary:       strings.EqualFold(r.ColumnKey, "PRI"),
			OrdinalPosition: r.OrdinalPosition,
		}
		if r.CharMaxLength != nil {
			col.Length = *r.CharMaxLength
		}
		if r.NumericPrec != nil {
			col.Precision = *r.NumericPrec
		}
		if r.NumericScale != nil {
			col.Scale = *r.NumericScale
		}
		desc.Columns = append(desc.Columns, col)
	}
	return desc, nil
}

type pgColumnRow struct {
	ColumnName      string `gorm:"column:column_name"`
	DataType        string `gorm:"column:data_type"`
	IsNullable      string `gorm:"column:is_nullable"`
	CharMaxLength   *int64 `gorm:"column:character_maximum_length"`
	OrdinalPosition int    `gorm:"column:ordinal_position"`
}

type sqliteColumnRow struct {
	Cid     int    `gorm:"column:cid"`
	Name    string `gorm:"column:name"`
	Type    string `gorm:"column:type"`
	NotNull int    `gorm:"column:notnull"`
	Pk      int    `gorm:"column:pk"`
}

// FetchTargetSchema snapshots the target table's columns. A nil descriptor
// with a nil error means the table does not exist yet.
func FetchTargetSchema(ctx context.Context, dst *db.Connector, schema, table string) (*SchemaDescriptor, error) {
	switch dst.Dialect {
	case "postgres":
		return fetchPostgresSchema(ctx, dst, schema, table)
	case "sqlite":
		return fetchSQLiteSchema(ctx, dst, table)
	default:
		return nil, fmt.Errorf("unsupported target dialect %q", dst.Dialect)
	}
}

func fetchPostgresSchema(ctx context.Context, dst *db.Connector, schema, table string) (*SchemaDescriptor, error) {
	var rows []pgColumnRow
	query := `
		SELECT column_name, data_type, is_nullable, character_maximum_length, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`
	if err := dst.DB.WithContext(ctx).Raw(query, schema, table).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch target schema for %s.%s: %w", schema, table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	desc := &SchemaDescriptor{Table: table, Columns: make([]ColumnInfo, 0, len(rows))}
	for _, r := range rows {
		col := ColumnInfo{
			Name:            r.ColumnName,
			Type:            strings.ToLower(r.DataType),
			FullType:        strings.ToLower(r.DataType),
			IsNullable:      strings.EqualFold(r.IsNullable, "YES"),
			OrdinalPosition: r.OrdinalPosition,
		}
		if r.CharMaxLength != nil {
			col.Length = *r.CharMaxLength
		}
		desc.Columns = append(desc.Columns, col)
	}
	return desc, nil
}

func fetchSQLiteSchema(ctx context.Context, dst *db.Connector, table string) (*SchemaDescriptor, error) {
	var rows []sqliteColumnRow
	query := fmt.Sprintf("PRAGMA table_info(%s)", utils.QuoteIdentifier(table, "sqlite"))
	if err := dst.DB.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch target schema for %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cid < rows[j].Cid })
	desc := &SchemaDescriptor{Table: table, Columns: make([]ColumnInfo, 0, len(rows))}
	for _, r := range rows {
		desc.Columns = append(desc.Columns, ColumnInfo{
			Name:            r.Name,
			Type:            strings.ToLower(r.Type),
			FullType:        strings.ToLower(r.Type),
			IsNullable:      r.NotNull == 0,
			IsPrimary:       r.Pk > 0,
			OrdinalPosition: r.Cid + 1,
		})
	}
	return desc, nil
}

// InferBooleanColumns samples narrow integer columns and reports which ones
// only ever hold 0 or 1. OpenDental stores flags as tinyint, so the target
// gets a proper boolean where the data supports it.
func InferBooleanColumns(ctx context.Context, src *db.Connector, desc *SchemaDescriptor, logger *zap.Logger) map[string]bool {
	booleans := make(map[string]bool)
	for _, col := range desc.Columns {
		if col.Type != "tinyint" && col.Type != "smallint" {
			continue
		}
		isBool, err := sampleIsBoolean(ctx, src, desc.Table, col.Name)
		if err != nil {
			logger.Warn("Boolean sampling failed, keeping integer type",
				zap.String("table", desc.Table),
				zap.String("column", col.Name),
				zap.Error(err))
			continue
		}
		if isBool {
			booleans[strings.ToLower(col.Name)] = true
		}
	}
	return booleans
}

func sampleIsBoolean(ctx context.Context, src *db.Connector, table, column string) (bool, error) {
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d",
		utils.QuoteIdentifier(column, "mysql"),
		utils.QuoteIdentifier(table, "mysql"),
		utils.QuoteIdentifier(column, "mysql"),
		booleanSampleLimit)
	var values []int64
	if err := src.DB.WithContext(ctx).Raw(q).Scan(&values).Error; err != nil {
		return false, err
	}
	if len(values) == 0 {
		// Empty or all-null column, cannot prove it is boolean.
		return false, nil
	}
	for _, v := range values {
		if v != 0 && v != 1 {
			return false, nil
		}
	}
	return true, nil
}

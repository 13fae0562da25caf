package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
)

func TestBuildCreateStatements(t *testing.T) {
	r := &SchemaReconciler{
		dst:    &db.Connector{Dialect: "postgres"},
		schema: "raw",
	}
	tc := &config.TableConfig{
		Name:              "appointment",
		IncrementalColumn: "DateTStamp",
		PrimaryKey:        []string{"AptNum"},
	}
	srcDesc := &SchemaDescriptor{
		Table: "appointment",
		Columns: []ColumnInfo{
			{Name: "AptNum", Type: "bigint", FullType: "bigint(20)", IsPrimary: true},
			{Name: "PatNum", Type: "bigint", FullType: "bigint(20)"},
			{Name: "AptDateTime", Type: "datetime", IsNullable: true},
			{Name: "IsNewPatient", Type: "tinyint", FullType: "tinyint(3) unsigned"},
			{Name: "DateTStamp", Type: "timestamp"},
		},
	}

	statements := r.buildCreateStatements(tc, srcDesc, map[string]bool{"isnewpatient": true})
	require.Len(t, statements, 2)

	create := statements[0]
	assert.True(t, strings.HasPrefix(create, `CREATE TABLE "raw"."appointment"`), create)
	assert.Contains(t, create, `"AptNum" bigint NOT NULL`)
	assert.Contains(t, create, `"AptDateTime" timestamp`)
	assert.Contains(t, create, `"IsNewPatient" boolean NOT NULL`)
	assert.Contains(t, create, `PRIMARY KEY ("AptNum")`)

	index := statements[1]
	assert.Contains(t, index, `CREATE INDEX "idx_appointment_datetstamp"`)
	assert.Contains(t, index, `ON "raw"."appointment" ("DateTStamp")`)
}

func TestBuildCreateStatementsSQLiteTarget(t *testing.T) {
	r := &SchemaReconciler{
		dst:    &db.Connector{Dialect: "sqlite"},
		schema: "raw",
	}
	tc := &config.TableConfig{
		Name:              "provider",
		IncrementalColumn: "DateTStamp",
		PrimaryKey:        []string{"ProvNum"},
	}
	srcDesc := &SchemaDescriptor{
		Table: "provider",
		Columns: []ColumnInfo{
			{Name: "ProvNum", Type: "bigint", IsPrimary: true},
			{Name: "Abbr", Type: "varchar", Length: 255, IsNullable: true},
			{Name: "DateTStamp", Type: "timestamp"},
		},
	}

	statements := r.buildCreateStatements(tc, srcDesc, nil)
	require.Len(t, statements, 2)
	// SQLite has no schemas, so the table name stays unqualified.
	assert.True(t, strings.HasPrefix(statements[0], `CREATE TABLE "provider"`), statements[0])
}

func TestTypesCompatible(t *testing.T) {
	tests := []struct {
		mapped string
		actual string
		want   bool
	}{
		{"varchar(100)", "character varying", true},
		{"timestamp", "timestamp without time zone", true},
		{"bigint", "bigint", true},
		{"numeric(11,2)", "numeric", true},
		{"boolean", "smallint", true},
		{"smallint", "boolean", true},
		{"bigint", "text", false},
		{"bytea", "text", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, typesCompatible(tt.mapped, tt.actual),
			"mapped=%s actual=%s", tt.mapped, tt.actual)
	}
}

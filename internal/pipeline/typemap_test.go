package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapColumnTypePostgres(t *testing.T) {
	tests := []struct {
		name     string
		col      ColumnInfo
		booleans map[string]bool
		want     string
	}{
		{"inferred boolean flag", ColumnInfo{Name: "IsHidden", Type: "tinyint", FullType: "tinyint(3) unsigned"}, map[string]bool{"ishidden": true}, "boolean"},
		{"tinyint counter stays integer", ColumnInfo{Name: "Priority", Type: "tinyint", FullType: "tinyint(4)"}, nil, "smallint"},
		{"unsigned tinyint widens", ColumnInfo{Name: "Slot", Type: "tinyint", FullType: "tinyint(3) unsigned"}, nil, "integer"},
		{"bigint key", ColumnInfo{Name: "PatNum", Type: "bigint", FullType: "bigint(20)"}, nil, "bigint"},
		{"unsigned bigint", ColumnInfo{Name: "LogNum", Type: "bigint", FullType: "bigint(20) unsigned"}, nil, "numeric(20,0)"},
		{"money decimal", ColumnInfo{Name: "InsPayAmt", Type: "decimal", Precision: 11, Scale: 2}, nil, "numeric(11,2)"},
		{"datetime", ColumnInfo{Name: "DateTStamp", Type: "datetime"}, nil, "timestamp"},
		{"varchar with length", ColumnInfo{Name: "LName", Type: "varchar", Length: 100}, nil, "varchar(100)"},
		{"text blob of notes", ColumnInfo{Name: "Note", Type: "text"}, nil, "text"},
		{"image bytes", ColumnInfo{Name: "RawBase64", Type: "longblob"}, nil, "bytea"},
		{"enum becomes text", ColumnInfo{Name: "AptStatus", Type: "enum"}, nil, "text"},
		{"unknown type falls back to text", ColumnInfo{Name: "Mystery", Type: "geometry"}, nil, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapColumnType(tt.col, tt.booleans, "postgres"))
		})
	}
}

func TestMapColumnTypeSQLite(t *testing.T) {
	assert.Equal(t, "integer", MapColumnType(ColumnInfo{Name: "PatNum", Type: "bigint"}, nil, "sqlite"))
	assert.Equal(t, "boolean", MapColumnType(ColumnInfo{Name: "IsHidden", Type: "tinyint"}, map[string]bool{"ishidden": true}, "sqlite"))
	assert.Equal(t, "datetime", MapColumnType(ColumnInfo{Name: "DateTStamp", Type: "datetime"}, nil, "sqlite"))
	assert.Equal(t, "text", MapColumnType(ColumnInfo{Name: "LName", Type: "varchar", Length: 100}, nil, "sqlite"))
}

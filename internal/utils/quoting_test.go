package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`appointment`", QuoteIdentifier("appointment", "mysql"))
	assert.Equal(t, "`weird``name`", QuoteIdentifier("weird`name", "mysql"))
	assert.Equal(t, `"appointment"`, QuoteIdentifier("appointment", "postgres"))
	assert.Equal(t, `"weird""name"`, QuoteIdentifier(`weird"name`, "postgres"))
	assert.Equal(t, `"appointment"`, QuoteIdentifier("appointment", "sqlite"))
	assert.Equal(t, `"appointment"`, QuoteIdentifier("appointment", "unknown_dialect"))
}

func TestQualifyTable(t *testing.T) {
	assert.Equal(t, `"raw"."appointment"`, QualifyTable("raw", "appointment", "postgres"))
	assert.Equal(t, `"appointment"`, QualifyTable("", "appointment", "postgres"))
	assert.Equal(t, "`opendental`.`patient`", QualifyTable("opendental", "patient", "mysql"))
}

func TestUnquoteIdentifier(t *testing.T) {
	assert.Equal(t, "appointment", UnquoteIdentifier("`appointment`", "mysql"))
	assert.Equal(t, "weird`name", UnquoteIdentifier("`weird``name`", "mysql"))
	assert.Equal(t, "appointment", UnquoteIdentifier(`"appointment"`, "postgres"))
	assert.Equal(t, "not_quoted", UnquoteIdentifier("not_quoted", "postgres"))
	assert.Equal(t, "x", UnquoteIdentifier("x", "mysql"))
}

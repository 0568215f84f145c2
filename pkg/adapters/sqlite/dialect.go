package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

var _ adapters.Dialect = Dialect{}

// Dialect - SQL-диалект SQLite.
// Последовательностей и партиций нет: id - INTEGER PRIMARY KEY AUTOINCREMENT,
// время хранится текстом фиксированной ширины (TimeLayout).
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (Dialect) Placeholder(int) string { return "?" }

// ColumnType конвертирует логический тип в тип колонки SQLite
func (Dialect) ColumnType(t schema.DataType) string {
	switch schema.NormalizeType(t) {
	case schema.TypeInteger, schema.TypeBigint, schema.TypeBoolean, schema.TypeCategory:
		// CATEGORY хранит id значения из m_category
		return "INTEGER"
	case schema.TypeReal, schema.TypeDecimal:
		return "REAL"
	case schema.TypeBlob:
		return "BLOB"
	default:
		// TEXT, DATE, DATETIME, TIMESTAMP
		return "TEXT"
	}
}

func (d Dialect) CreateTable(table, _ string, cols []adapters.ColumnDef, _ string) []string {
	defs := []string{d.Quote("id") + " INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, c := range cols {
		defs = append(defs, d.columnDef(c))
	}
	return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.Quote(table), strings.Join(defs, ",\n  "))}
}

func (d Dialect) columnDef(c adapters.ColumnDef) string {
	def := d.Quote(c.Name) + " " + d.ColumnType(c.Type)
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

func (d Dialect) AddColumn(table string, col adapters.ColumnDef) string {
	col.NotNull = false
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.columnDef(col))
}

// AlterType переписывает значения колонки в представление типа to.
// Тип колонки в SQLite не меняется: значения приводятся при чтении.
func (d Dialect) AlterType(table, column string, to schema.DataType) []string {
	c := d.Quote(column)
	var expr string
	switch schema.NormalizeType(to) {
	case schema.TypeInteger, schema.TypeBigint, schema.TypeCategory:
		expr = fmt.Sprintf("CAST(%s AS INTEGER)", c)
	case schema.TypeReal, schema.TypeDecimal:
		expr = fmt.Sprintf("CAST(%s AS REAL)", c)
	case schema.TypeText:
		expr = fmt.Sprintf("CAST(%s AS TEXT)", c)
	case schema.TypeBlob:
		expr = fmt.Sprintf("CAST(%s AS BLOB)", c)
	case schema.TypeBoolean:
		expr = fmt.Sprintf(
			"CASE WHEN lower(CAST(%[1]s AS TEXT)) IN ('1','true','t') THEN 1 "+
				"WHEN lower(CAST(%[1]s AS TEXT)) IN ('0','false','f') THEN 0 ELSE %[1]s END", c)
	default:
		return nil
	}
	return []string{fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NOT NULL",
		d.Quote(table), c, expr, c)}
}

func (Dialect) CreatePartition(string, string, time.Time, time.Time) (string, bool) {
	return "", false
}

func (d Dialect) CreateIndex(table, name string, exprs []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", d.Quote(name), d.Quote(table), strings.Join(exprs, ", "))
}

func (d Dialect) DropIndex(name string) string {
	return "DROP INDEX IF EXISTS " + d.Quote(name)
}

func (d Dialect) Substr(column string, from, length int, asText bool) string {
	c := d.Quote(column)
	if asText {
		c = fmt.Sprintf("CAST(%s AS TEXT)", c)
	}
	return fmt.Sprintf("substr(%s, %d, %d)", c, from, length)
}

func (Dialect) IsAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

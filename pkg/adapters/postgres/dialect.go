package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

var _ adapters.Dialect = Dialect{}

// Коды ошибок "объект уже существует"
var alreadyExistsCodes = map[string]bool{
	"42P07": true, // duplicate_table (в т.ч. индекс, последовательность)
	"42710": true, // duplicate_object
	"42P06": true, // duplicate_schema
	"42701": true, // duplicate_column
}

// Dialect - SQL-диалект PostgreSQL: последовательности, диапазонные партиции по времени
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// ColumnType конвертирует логический тип в тип колонки PostgreSQL
func (Dialect) ColumnType(t schema.DataType) string {
	switch schema.NormalizeType(t) {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeBigint, schema.TypeCategory:
		// CATEGORY хранит id значения из m_category
		return "BIGINT"
	case schema.TypeReal:
		return "DOUBLE PRECISION"
	case schema.TypeDecimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", schema.GetDefaultPrecision(), schema.GetDefaultScale())
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDatetime, schema.TypeTimestamp:
		return "TIMESTAMP"
	case schema.TypeBlob:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func (d Dialect) CreateTable(table, seq string, cols []adapters.ColumnDef, partitionBy string) []string {
	id := fmt.Sprintf("%s BIGINT NOT NULL DEFAULT nextval('%s'::regclass)", d.Quote("id"), d.Quote(seq))
	if partitionBy == "" {
		id += " PRIMARY KEY"
	}
	defs := []string{id}
	for _, c := range cols {
		defs = append(defs, d.columnDef(c))
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(table), strings.Join(defs, ",\n  "))
	if partitionBy != "" {
		create += fmt.Sprintf(" PARTITION BY RANGE (%s)", d.Quote(partitionBy))
	}

	return []string{
		"CREATE SEQUENCE IF NOT EXISTS " + d.Quote(seq),
		create,
		fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s", d.Quote(seq), d.Quote(table), d.Quote("id")),
	}
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

// AlterType меняет тип колонки; значения приводятся через текст
func (d Dialect) AlterType(table, column string, to schema.DataType) []string {
	typ := d.ColumnType(to)
	c := d.Quote(column)
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING CAST(CAST(%s AS TEXT) AS %s)",
		d.Quote(table), c, typ, c, typ)}
}

func (d Dialect) CreatePartition(table, partition string, from, to time.Time) (string, bool) {
	const layout = "2006-01-02 15:04:05"
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		d.Quote(partition), d.Quote(table), from.UTC().Format(layout), to.UTC().Format(layout)), true
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
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return alreadyExistsCodes[pgErr.Code]
	}
	return false
}

package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

func connectTest(t *testing.T) *Adapter {
	t.Helper()
	dsn := os.Getenv("BRIDGESTATION_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("BRIDGESTATION_TEST_PG_DSN not set")
	}
	a := &Adapter{}
	if err := a.Connect(context.Background(), adapters.Config{Type: "postgres", DSN: dsn}); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

// TestIntegration_PartitionedTable проверяет таблицу процесса с партицией и COPY
func TestIntegration_PartitionedTable(t *testing.T) {
	ctx := context.Background()
	a := connectTest(t)
	d := a.Dialect()

	table, seq := "t_process_9001", "t_process_9001_id_seq"
	defer a.Exec(ctx, "DROP TABLE IF EXISTS "+d.Quote(table)+" CASCADE")
	defer a.Exec(ctx, "DROP SEQUENCE IF EXISTS "+d.Quote(seq))

	cols := []adapters.ColumnDef{
		{Name: "get_date", Type: schema.TypeTimestamp, NotNull: true},
		{Name: "torque", Type: schema.TypeDecimal},
		{Name: "ok", Type: schema.TypeBoolean},
	}
	for _, stmt := range d.CreateTable(table, seq, cols, "get_date") {
		if _, err := a.Exec(ctx, stmt); err != nil {
			t.Fatalf("DDL failed: %v\n%s", err, stmt)
		}
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	part, ok := d.CreatePartition(table, table+"_p2024_01", from, from.AddDate(0, 1, 0))
	if !ok {
		t.Fatal("Expected partition DDL")
	}
	if _, err := a.Exec(ctx, part); err != nil {
		t.Fatalf("Partition failed: %v", err)
	}

	n, err := a.InsertRows(ctx, table, []string{"get_date", "torque", "ok"}, [][]any{
		{from.Add(8 * time.Hour), 1.25, true},
		{from.Add(9 * time.Hour), nil, false},
	})
	if err != nil || n != 2 {
		t.Fatalf("InsertRows: n=%d err=%v", n, err)
	}

	f, err := a.Query(ctx, "SELECT id, torque, ok FROM "+d.Quote(table)+" ORDER BY id")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if f.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", f.Len())
	}
	if got := f.Value(0, "torque"); got != 1.25 {
		t.Errorf("Expected numeric normalized to float64 1.25, got %v (%T)", got, got)
	}
	if _, ok := f.Value(0, "id").(int64); !ok {
		t.Errorf("Expected int64 id, got %T", f.Value(0, "id"))
	}
}

// TestIntegration_SavepointAlreadyExists проверяет откат DDL-конфликта под точкой сохранения
func TestIntegration_SavepointAlreadyExists(t *testing.T) {
	ctx := context.Background()
	a := connectTest(t)
	d := a.Dialect()

	table := "t_process_9002"
	defer a.Exec(ctx, "DROP TABLE IF EXISTS "+d.Quote(table))
	if _, err := a.Exec(ctx, "CREATE TABLE "+d.Quote(table)+" (v INTEGER)"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := adapters.InTx(ctx, a, func(tx adapters.Tx) error {
		idx := d.CreateIndex(table, table+"_idx_v", []string{d.Quote("v")})
		for i := 0; i < 2; i++ {
			err := adapters.InSavepoint(ctx, tx, "ddl", func() error {
				_, err := tx.Exec(ctx, idx)
				return err
			})
			if err != nil && !d.IsAlreadyExists(err) {
				return err
			}
		}
		_, err := tx.Exec(ctx, "INSERT INTO "+d.Quote(table)+" VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	names, err := a.Indexes(ctx, table)
	if err != nil {
		t.Fatalf("Indexes failed: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("Expected one index, got %v", names)
	}
}

// TestDialect_SQL проверяет генерацию SQL без подключения
func TestDialect_SQL(t *testing.T) {
	d := Dialect{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"placeholder", d.Placeholder(3), "$3"},
		{"quote", d.Quote(`we"ird`), `"we""ird"`},
		{"decimal", d.ColumnType(schema.TypeDecimal), "NUMERIC(18,6)"},
		{"category", d.ColumnType(schema.TypeCategory), "BIGINT"},
		{"substr", d.Substr("serial_no", 1, 8, true), `substr(CAST("serial_no" AS TEXT), 1, 8)`},
		{"alter", d.AlterType("t", "c", schema.TypeBoolean)[0],
			`ALTER TABLE "t" ALTER COLUMN "c" TYPE BOOLEAN USING CAST(CAST("c" AS TEXT) AS BOOLEAN)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	stmts := d.CreateTable("t_process_1", "t_process_1_id_seq", nil, "get_date")
	if len(stmts) != 3 || !strings.Contains(stmts[1], `PARTITION BY RANGE ("get_date")`) {
		t.Errorf("Unexpected CREATE TABLE: %v", stmts)
	}
	if strings.Contains(stmts[1], "PRIMARY KEY") {
		t.Error("Partitioned table must not declare a primary key on id")
	}

	if !d.IsAlreadyExists(&pgconn.PgError{Code: "42P07"}) {
		t.Error("42P07 must be an already-exists error")
	}
	if d.IsAlreadyExists(errors.New("relation already exists")) {
		t.Error("Plain errors are not PostgreSQL already-exists errors")
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// Compile-time check: Adapter должен реализовывать интерфейс adapters.Backend
var _ adapters.Backend = (*Adapter)(nil)

// Регистрация адаптера в глобальной фабрике
func init() {
	adapters.Register("postgres", func() adapters.Backend {
		return &Adapter{}
	})
}

// querier - общее подмножество *pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Adapter представляет backend поверх PostgreSQL (pgx/v5 pool)
type Adapter struct {
	pool    *pgxpool.Pool
	schema  string // public, custom, etc.
	dialect Dialect
}

// Connect устанавливает подключение к PostgreSQL
// Реализует интерфейс adapters.Backend
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	// Парсим connection string
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Настраиваем pool из конфига
	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	} else {
		config.MaxConns = 10 // default
	}

	if cfg.MinConns > 0 {
		config.MinConns = int32(cfg.MinConns)
	} else {
		config.MinConns = 2 // default
	}

	a.schema = cfg.Schema
	if a.schema == "" {
		a.schema = "public" // default schema
	}
	// Таблицы процессов адресуются без схемы
	config.ConnConfig.RuntimeParams["search_path"] = a.schema

	if cfg.Timeout > 0 {
		config.ConnConfig.ConnectTimeout = cfg.Timeout
	}

	// Создаем connection pool
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Проверяем подключение
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.pool = pool
	return nil
}

// Close закрывает connection pool
func (a *Adapter) Close(ctx context.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// Ping проверяет доступность БД
func (a *Adapter) Ping(ctx context.Context) error {
	if a.pool == nil {
		return fmt.Errorf("adapter not connected")
	}
	return a.pool.Ping(ctx)
}

// GetDatabaseType возвращает тип СУБД
func (a *Adapter) GetDatabaseType() string {
	return "postgres"
}

// Dialect возвращает SQL-диалект PostgreSQL
func (a *Adapter) Dialect() adapters.Dialect {
	return a.dialect
}

// Pool возвращает *pgxpool.Pool для прямого доступа
func (a *Adapter) Pool() *pgxpool.Pool {
	return a.pool
}

// Schema возвращает текущую схему
func (a *Adapter) Schema() string {
	return a.schema
}

// Exec выполняет SQL команду
func (a *Adapter) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return execOn(ctx, a.pool, sql, args...)
}

// Query выполняет SQL запрос и возвращает результат как Frame
func (a *Adapter) Query(ctx context.Context, sql string, args ...any) (*frame.Frame, error) {
	return queryOn(ctx, a.pool, sql, args...)
}

// InsertRows вставляет строки через COPY FROM
func (a *Adapter) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return copyOn(ctx, a.pool, table, columns, rows)
}

// Begin начинает транзакцию
func (a *Adapter) Begin(ctx context.Context) (adapters.Tx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, dialect: a.dialect}, nil
}

// TableExists проверяет существование таблицы в текущей схеме
func (a *Adapter) TableExists(ctx context.Context, tableName string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = $1
			  AND table_name = $2
		)
	`

	var exists bool
	err := a.pool.QueryRow(ctx, query, a.schema, tableName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}

	return exists, nil
}

// Columns возвращает колонки таблицы в порядке объявления
func (a *Adapter) Columns(ctx context.Context, tableName string) ([]adapters.ColumnInfo, error) {
	query := `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := a.pool.Query(ctx, query, a.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	var cols []adapters.ColumnInfo
	for rows.Next() {
		var c adapters.ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Indexes возвращает имена индексов таблицы
func (a *Adapter) Indexes(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT indexname
		FROM pg_indexes
		WHERE schemaname = $1
		  AND tablename = $2
		ORDER BY indexname
	`

	rows, err := a.pool.Query(ctx, query, a.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// postgresTx - обертка для pgx.Tx для реализации adapters.Tx
type postgresTx struct {
	tx      pgx.Tx
	dialect Dialect
}

func (t *postgresTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, sql, args...)
}

func (t *postgresTx) Query(ctx context.Context, sql string, args ...any) (*frame.Frame, error) {
	return queryOn(ctx, t.tx, sql, args...)
}

func (t *postgresTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return copyOn(ctx, t.tx, table, columns, rows)
}

func (t *postgresTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "SAVEPOINT "+t.dialect.Quote(name))
	return err
}

func (t *postgresTx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+t.dialect.Quote(name))
	return err
}

func (t *postgresTx) Release(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+t.dialect.Quote(name))
	return err
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func execOn(ctx context.Context, q querier, sql string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, sql, normalizeArgs(args)...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute SQL: %w", err)
	}
	return tag.RowsAffected(), nil
}

func queryOn(ctx context.Context, q querier, sql string, args ...any) (*frame.Frame, error) {
	rows, err := q.Query(ctx, sql, normalizeArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	out := frame.New(columns...)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}
	return out, nil
}

func copyOn(ctx context.Context, q querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	src := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(columns))
		}
		src[i] = normalizeArgs(row)
	}

	count, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(src))
	if err != nil {
		return count, fmt.Errorf("failed to COPY data: %w", err)
	}
	if int(count) != len(rows) {
		return count, fmt.Errorf("expected to copy %d rows, but copied %d", len(rows), count)
	}
	return count, nil
}

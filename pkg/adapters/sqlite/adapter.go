package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	_ "modernc.org/sqlite"
)

const driverSqlite = "sqlite"

// Compile-time check: Adapter должен реализовывать интерфейс adapters.Backend
var _ adapters.Backend = (*Adapter)(nil)

// Регистрация адаптера в глобальной фабрике
func init() {
	adapters.Register("sqlite", func() adapters.Backend {
		return &Adapter{}
	})
}

// querier - общее подмножество *sql.DB и *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Adapter представляет backend поверх SQLite (modernc.org/sqlite, без CGO).
// Используется встроенными станциями и тестами хранилища.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
}

// Connect устанавливает подключение к SQLite
// Реализует интерфейс adapters.Backend
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	db, err := sql.Open(driverSqlite, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite допускает одного писателя; одно соединение также сохраняет
	// единую БД для ":memory:"
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	a.applyPragmaOptimizations(ctx)
	return nil
}

// Open - короткий способ подключиться к файлу БД без фабрики
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	a := &Adapter{}
	if err := a.Connect(ctx, adapters.Config{Type: "sqlite", DSN: dsn}); err != nil {
		return nil, err
	}
	return a, nil
}

// applyPragmaOptimizations применяет PRAGMA для массовой вставки
func (a *Adapter) applyPragmaOptimizations(ctx context.Context) {
	pragmas := []string{
		// WAL mode: читатели не блокируют писателя
		"PRAGMA journal_mode = WAL",

		// fsync только на checkpoint; безопасно при WAL
		"PRAGMA synchronous = NORMAL",

		// 64 MB кеша страниц
		"PRAGMA cache_size = -64000",

		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := a.db.ExecContext(ctx, pragma); err != nil {
			// journal_mode недоступен для ":memory:" - не критично
			log.Warn().Err(err).Str("pragma", pragma).Msg("sqlite: pragma failed")
		}
	}
}

// Close закрывает соединение с БД
func (a *Adapter) Close(ctx context.Context) error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping проверяет доступность БД
func (a *Adapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("adapter not connected")
	}
	return a.db.PingContext(ctx)
}

// GetDatabaseType возвращает тип СУБД
func (a *Adapter) GetDatabaseType() string {
	return "sqlite"
}

// Dialect возвращает SQL-диалект SQLite
func (a *Adapter) Dialect() adapters.Dialect {
	return a.dialect
}

// DB возвращает *sql.DB для прямого доступа (helper метод)
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Exec выполняет SQL команду
func (a *Adapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, a.db, query, args...)
}

// Query выполняет SQL запрос и возвращает результат как Frame
func (a *Adapter) Query(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	return queryOn(ctx, a.db, query, args...)
}

// InsertRows вставляет строки в отдельной транзакции
func (a *Adapter) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	n, err := insertOn(ctx, tx, a.dialect, table, columns, rows)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	return n, tx.Commit()
}

// Begin начинает транзакцию
func (a *Adapter) Begin(ctx context.Context) (adapters.Tx, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, dialect: a.dialect}, nil
}

// TableExists проверяет существование таблицы
func (a *Adapter) TableExists(ctx context.Context, tableName string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type='table' AND name=?
	`

	var count int
	err := a.db.QueryRowContext(ctx, query, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}

	return count > 0, nil
}

// Columns возвращает колонки таблицы через PRAGMA table_info
func (a *Adapter) Columns(ctx context.Context, tableName string) ([]adapters.ColumnInfo, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT name, type, \"notnull\" FROM pragma_table_info(?)", tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	defer rows.Close()

	var cols []adapters.ColumnInfo
	for rows.Next() {
		var (
			name, typ string
			notNull   int
		)
		if err := rows.Scan(&name, &typ, &notNull); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, adapters.ColumnInfo{Name: name, Type: typ, Nullable: notNull == 0})
	}
	return cols, rows.Err()
}

// Indexes возвращает имена пользовательских индексов таблицы.
// Автоматические индексы ограничений (sql IS NULL) не возвращаются.
func (a *Adapter) Indexes(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type='index' AND tbl_name=? AND sql IS NOT NULL
		ORDER BY name
	`

	rows, err := a.db.QueryContext(ctx, query, tableName)
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

// sqliteTx - обертка для *sql.Tx для реализации adapters.Tx
type sqliteTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, query, args...)
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	return queryOn(ctx, t.tx, query, args...)
}

func (t *sqliteTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return insertOn(ctx, t.tx, t.dialect, table, columns, rows)
}

func (t *sqliteTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+t.dialect.Quote(name))
	return err
}

func (t *sqliteTx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+t.dialect.Quote(name))
	return err
}

func (t *sqliteTx) Release(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.dialect.Quote(name))
	return err
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func execOn(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute SQL: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func queryOn(ctx context.Context, q querier, query string, args ...any) (*frame.Frame, error) {
	rows, err := q.QueryContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	out := frame.New(columns...)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
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

// insertOn вставляет строки подготовленным INSERT
func insertOn(ctx context.Context, q querier, d Dialect, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return n, fmt.Errorf("row has %d values for %d columns", len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, normalizeArgs(row)...); err != nil {
			return n, fmt.Errorf("failed to insert row %d: %w", n, err)
		}
		n++
	}
	return n, nil
}

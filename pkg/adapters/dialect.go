package adapters

import (
	"time"

	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// ColumnDef - описание колонки для DDL
type ColumnDef struct {
	Name    string
	Type    schema.DataType
	NotNull bool
}

// Dialect - генерация SQL, специфичного для СУБД.
// Все идентификаторы на входе - неэкранированные имена.
type Dialect interface {
	// Name возвращает имя диалекта
	Name() string

	// Quote экранирует идентификатор
	Quote(ident string) string

	// Placeholder возвращает n-й параметр запроса (с единицы)
	Placeholder(n int) string

	// ColumnType возвращает SQL тип логического типа
	ColumnType(t schema.DataType) string

	// CreateTable возвращает DDL таблицы с колонкой id из последовательности seq.
	// partitionBy - колонка диапазонного партиционирования (пусто - без партиций).
	CreateTable(table, seq string, cols []ColumnDef, partitionBy string) []string

	// AddColumn возвращает DDL добавления nullable-колонки
	AddColumn(table string, col ColumnDef) string

	// AlterType возвращает операторы смены типа колонки с приведением данных
	AlterType(table, column string, to schema.DataType) []string

	// CreatePartition возвращает DDL партиции [from, to); ok == false если
	// СУБД не партиционирует таблицы
	CreatePartition(table, partition string, from, to time.Time) (sql string, ok bool)

	// CreateIndex возвращает DDL индекса по выражениям exprs
	CreateIndex(table, name string, exprs []string) string

	// DropIndex возвращает DDL удаления индекса
	DropIndex(name string) string

	// Substr возвращает выражение подстроки колонки, приведенной к тексту при asText
	Substr(column string, from, length int, asText bool) string

	// IsAlreadyExists сообщает, что ошибка DDL означает "объект уже существует"
	IsAlreadyExists(err error) bool
}

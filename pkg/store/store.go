// Package store управляет транзакционной таблицей процесса: DDL и эволюцией
// схемы, партициями, индексами, импортом партий со сверкой дубликатов,
// сменой типов колонок и чтением по окну времени.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/dedup"
	"github.com/ruslano69/bridgestation/pkg/ledger"
	"github.com/ruslano69/bridgestation/pkg/process"
)

var (
	// ErrNoPartition - не указан месяц партиции
	ErrNoPartition = errors.New("store: partition month is required")

	// ErrNoEngine - импорт без движка сверки
	ErrNoEngine = errors.New("store: reconcile engine is not configured")

	// ErrGetDateImmutable - попытка сменить тип или роль колонки get-date
	ErrGetDateImmutable = errors.New("store: get-date column is immutable")

	// ErrInvalidValue - значение партии не приводится к типу колонки
	ErrInvalidValue = errors.New("store: invalid value")
)

// Каталожные таблицы, общие для всех процессов
const (
	tableColumnType = "m_column_type"
	tableCategory   = "m_category"
)

// ddlSavepoint - имя точки сохранения вокруг одной DDL-операции
const ddlSavepoint = "bs_ddl"

// deleteChunk - максимальное число id в одном DELETE ... IN
const deleteChunk = 500

// Option настраивает Store
type Option func(*Store)

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithEngine задает движок сверки для ImportData
func WithEngine(e *dedup.Engine) Option {
	return func(s *Store) { s.engine = e }
}

// WithLedger задает ledger числа строк
func WithLedger(l ledger.Ledger) Option {
	return func(s *Store) { s.ledger = l }
}

// Store - доступ к транзакционной таблице одного процесса
type Store struct {
	backend adapters.Backend
	dialect adapters.Dialect
	schema  *process.Schema
	engine  *dedup.Engine
	ledger  ledger.Ledger
	logger  zerolog.Logger

	mu    sync.Mutex
	types map[string]schema.DataType // физические типы из m_column_type
}

// New создает Store для схемы процесса
func New(backend adapters.Backend, s *process.Schema, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("store: backend is required")
	}
	if s == nil {
		return nil, fmt.Errorf("store: schema is required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	st := &Store{
		backend: backend,
		dialect: backend.Dialect(),
		schema:  s,
		ledger:  ledger.Nop{},
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(st)
	}
	st.logger = st.logger.With().Int64("process", s.ID).Logger()
	return st, nil
}

// Schema возвращает схему процесса
func (s *Store) Schema() *process.Schema { return s.schema }

// Table возвращает имя транзакционной таблицы
func (s *Store) Table() string { return s.schema.Table() }

// Engine возвращает движок сверки (может быть nil)
func (s *Store) Engine() *dedup.Engine { return s.engine }

// Writer выполняет изменения в транзакции хранилища
type Writer struct {
	s  *Store
	tx adapters.Tx
}

// InTx выполняет fn в одной транзакции хранилища
func (s *Store) InTx(ctx context.Context, fn func(w *Writer) error) error {
	// Типы колонок читаются до открытия транзакции
	s.columnTypes(ctx)
	return adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
		return fn(&Writer{s: s, tx: tx})
	})
}

// RemoveByIDs удаляет строки по id
func (w *Writer) RemoveByIDs(ctx context.Context, ids []int64) (int64, error) {
	return w.s.removeByIDs(ctx, w.tx, ids)
}

// Insert вставляет строки Frame. Колонка id игнорируется: id выдает последовательность.
func (w *Writer) Insert(ctx context.Context, f *frame.Frame) (int64, error) {
	return w.s.insert(ctx, w.tx, f)
}

// MaxID возвращает максимальный id внутри транзакции
func (w *Writer) MaxID(ctx context.Context) (int64, error) {
	return w.s.maxID(ctx, w.tx)
}

// RemoveByIDs удаляет строки по id в отдельной транзакции
func (s *Store) RemoveByIDs(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(w *Writer) error {
		var err error
		n, err = w.RemoveByIDs(ctx, ids)
		return err
	})
	return n, err
}

func (s *Store) removeByIDs(ctx context.Context, q adapters.Queryer, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]

		marks := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			marks[i] = s.dialect.Placeholder(i + 1)
			args[i] = id
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			s.dialect.Quote(s.Table()), s.dialect.Quote(process.ColID), strings.Join(marks, ", "))
		n, err := q.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("store: delete ids: %w", err)
		}
		total += n
	}
	return total, nil
}

// ddl выполняет DDL под точкой сохранения. Ошибка "уже существует"
// откатывает точку сохранения и считается выполненной операцией.
func (s *Store) ddl(ctx context.Context, tx adapters.Tx, stmt string) error {
	err := adapters.InSavepoint(ctx, tx, ddlSavepoint, func() error {
		_, err := tx.Exec(ctx, stmt)
		return err
	})
	if err != nil && s.dialect.IsAlreadyExists(err) {
		s.logger.Debug().Err(err).Str("sql", stmt).Msg("ddl already applied")
		return nil
	}
	return err
}

// scalarInt читает первое значение первой строки как int64 (NULL -> 0)
func scalarInt(f *frame.Frame) (int64, error) {
	if f.Len() == 0 || len(f.Columns) == 0 {
		return 0, nil
	}
	v, err := schema.Coerce(f.Rows[0][0], schema.TypeBigint)
	if err != nil || v == nil {
		return 0, err
	}
	return v.(int64), nil
}

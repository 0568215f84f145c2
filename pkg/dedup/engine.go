// Package dedup решает для каждой входящей партии транзакций, какие строки
// новые, какие дублируют уже сохраненные и какие неполные записи
// (измерение + история) нужно объединить в одну.
//
// Движок работает над Frame и ничего не пишет сам: результат - набор строк
// для вставки и id существующих строк для удаления. Применение результата
// в одной транзакции - забота вызывающего (store, backup).
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/mergeflag"
	"github.com/ruslano69/bridgestation/pkg/process"
)

// ErrUnknownDataSource - у входящей строки источник без категории
var ErrUnknownDataSource = process.ErrUnknownDataSource

// ColExistingID - колонка с id существующей строки в записях пересечений
const ColExistingID = "existing_id"

// OverlapSink принимает пары точных дубликатов для аудита.
// pairs - входящие строки с добавленной колонкой existing_id.
type OverlapSink interface {
	Overlap(ctx context.Context, processID int64, pairs *frame.Frame) error
}

// OverlapFunc адаптирует функцию к OverlapSink
type OverlapFunc func(ctx context.Context, processID int64, pairs *frame.Frame) error

// Overlap вызывает f
func (f OverlapFunc) Overlap(ctx context.Context, processID int64, pairs *frame.Frame) error {
	return f(ctx, processID, pairs)
}

// Option настраивает Engine
type Option func(*Engine)

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithComparable задает предикат колонок для проверки точных дубликатов
func WithComparable(pred process.ComparablePredicate) Option {
	return func(e *Engine) { e.comparable = pred }
}

// WithOverlapSink задает получателя пар точных дубликатов
func WithOverlapSink(sink OverlapSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// Engine - движок разрешения дубликатов
type Engine struct {
	resolver   process.CategoryResolver
	comparable process.ComparablePredicate
	sink       OverlapSink
	logger     zerolog.Logger
}

// NewEngine создает движок поверх resolver категорий источников
func NewEngine(resolver process.CategoryResolver, opts ...Option) *Engine {
	e := &Engine{
		resolver:   resolver,
		comparable: process.DefaultComparable,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request - вход сверки
type Request struct {
	Schema   *process.Schema
	Existing *frame.Frame // Сохраненные строки (хранилище или файл)
	Incoming *frame.Frame // Входящая партия
}

// Result - итог сверки
type Result struct {
	Insert    *frame.Frame // Строки к вставке, с вычисленным merge_flag
	DeleteIDs []int64      // id существующих строк, поглощенных объединением
	// ExistingKept - маска строк Existing (в исходном порядке), которые остаются
	ExistingKept []bool

	Duplicates int // Входящие точные дубликаты
	Merged     int // Объединенные пары измерение/история
	Subsumed   int // Входящие строки, покрытые готовыми (done) строками
}

// Reconcile сверяет входящую партию с существующими строками
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if req.Schema == nil {
		return nil, fmt.Errorf("dedup: schema is required")
	}
	getDate, err := req.Schema.GetDate()
	if err != nil {
		return nil, err
	}

	masterKeys := req.Schema.MasterKeys()
	existing := withColumns(req.Existing, masterKeys)
	incoming := withColumns(req.Incoming, masterKeys)
	result := &Result{ExistingKept: trueMask(existing.Len())}

	if incoming.Empty() {
		result.Insert = incoming
		return result, nil
	}

	// Индексы строк в порядке get-date; пары формируются от ранних к поздним
	exOrder := existing.Order(getDate.Name)
	inOrder := incoming.Order(getDate.Name)

	inFam, err := e.incomingFamilies(ctx, incoming)
	if err != nil {
		return nil, err
	}
	exFam, err := e.existingFamilies(ctx, existing)
	if err != nil {
		return nil, err
	}

	u := &unit{
		engine:     e,
		schema:     req.Schema,
		masterKeys: masterKeys,
		comparable: req.Schema.ComparableColumns(e.comparable),
		result:     result,
	}

	var inserts []*frame.Frame
	for _, fam := range []mergeflag.Family{mergeflag.FamilyGeneral, mergeflag.FamilyV2, mergeflag.FamilyEFA} {
		in := pick(incoming, inOrder, inFam, fam)
		ex := pick(existing, exOrder, exFam, fam)
		if in.rows.Empty() {
			continue
		}

		ins, err := u.reconcileFamily(ctx, fam, ex, in)
		if err != nil {
			return nil, fmt.Errorf("dedup: %s: %w", fam, err)
		}
		inserts = append(inserts, ins)
	}

	insert := frame.Concat(inserts...)
	if insert.Len() == 0 {
		insert = frame.New(incoming.Columns...)
	}
	result.Insert = insert.SortBy(getDate.Name)
	sort.Slice(result.DeleteIDs, func(i, j int) bool { return result.DeleteIDs[i] < result.DeleteIDs[j] })

	e.logger.Debug().
		Int64("process", req.Schema.ID).
		Int("existing", existing.Len()).
		Int("incoming", incoming.Len()).
		Int("insert", result.Insert.Len()).
		Int("delete", len(result.DeleteIDs)).
		Int("duplicates", result.Duplicates).
		Int("merged", result.Merged).
		Int("subsumed", result.Subsumed).
		Msg("reconciled batch")
	return result, nil
}

// incomingFamilies назначает входящим строкам флаг и семейство по категории источника
func (e *Engine) incomingFamilies(ctx context.Context, in *frame.Frame) ([]mergeflag.Family, error) {
	cache := make(map[int64]mergeflag.Role)
	fams := make([]mergeflag.Family, in.Len())
	for i := range in.Rows {
		dsID, ok := int64Of(in.Value(i, process.ColDataSourceID))
		if !ok {
			return nil, fmt.Errorf("dedup: incoming row %d has no data source: %w", i, ErrUnknownDataSource)
		}
		role, ok := cache[dsID]
		if !ok {
			mt, err := e.resolver.Category(ctx, dsID)
			if err != nil {
				return nil, fmt.Errorf("dedup: %w", err)
			}
			if role, err = mergeflag.RoleOf(mt); err != nil {
				return nil, fmt.Errorf("dedup: data source %d: %w", dsID, err)
			}
			cache[dsID] = role
		}

		if _, set := mergeflag.FlagOf(in.Value(i, process.ColMergeFlag)); !set {
			in.Set(i, process.ColMergeFlag, int64(role.Flag()))
		}
		fams[i] = role.Family
	}
	return fams, nil
}

// existingFamilies определяет семейство существующих строк. Если источник
// больше не разрешается, семейство берется из сохраненного флага.
func (e *Engine) existingFamilies(ctx context.Context, ex *frame.Frame) ([]mergeflag.Family, error) {
	cache := make(map[int64]*mergeflag.Role)
	fams := make([]mergeflag.Family, ex.Len())
	for i := range ex.Rows {
		flag, hasFlag := mergeflag.FlagOf(ex.Value(i, process.ColMergeFlag))

		var role *mergeflag.Role
		if dsID, ok := int64Of(ex.Value(i, process.ColDataSourceID)); ok {
			cached, seen := cache[dsID]
			if !seen {
				mt, err := e.resolver.Category(ctx, dsID)
				switch {
				case errors.Is(err, process.ErrUnknownDataSource):
				case err != nil:
					return nil, fmt.Errorf("dedup: %w", err)
				default:
					if r, err := mergeflag.RoleOf(mt); err == nil {
						cached = &r
					}
				}
				cache[dsID] = cached
			}
			role = cached
		}

		switch {
		case hasFlag && flag != mergeflag.General:
			fams[i] = mergeflag.Classify(flag).Family
		case role != nil:
			fams[i] = role.Family
			if !hasFlag {
				ex.Set(i, process.ColMergeFlag, int64(role.Flag()))
			}
		default:
			fams[i] = mergeflag.FamilyGeneral
		}
	}
	return fams, nil
}

// part - строки одного семейства с позициями в исходном Frame
type part struct {
	rows *frame.Frame
	pos  []int
}

func pick(f *frame.Frame, order []int, fams []mergeflag.Family, fam mergeflag.Family) part {
	var idx []int
	for _, i := range order {
		if fams[i] == fam {
			idx = append(idx, i)
		}
	}
	return part{rows: f.Take(idx), pos: idx}
}

// withColumns возвращает копию с колонками id, merge_flag, data_source_id и
// колонками мастер-ключа; отсутствующие заполняются NULL
func withColumns(f *frame.Frame, keys []string) *frame.Frame {
	if f == nil {
		f = frame.New()
	}
	out := f.Clone()
	cols := append([]string{process.ColID, process.ColMergeFlag, process.ColDataSourceID}, keys...)
	for _, c := range cols {
		if out.Index(c) < 0 {
			out = out.WithColumn(c, nil)
		}
	}
	return out
}

func trueMask(n int) []bool {
	m := make([]bool, n)
	for i := range m {
		m[i] = true
	}
	return m
}

func int64Of(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		if x == x {
			return int64(x), true
		}
	}
	return 0, false
}

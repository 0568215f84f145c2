package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/zeebo/xxh3"
)

// monthLayout - формат месяца партиции
const monthLayout = "2006-01"

// EvolveReport - итог CreateOrEvolve
type EvolveReport struct {
	Created bool         // Таблица создана
	Added   []string     // Добавленные колонки
	Cast    CastReport   // Результат смены типов
	Indexes IndexChanges // Изменения индексов
}

// IndexChanges - изменения индексов таблицы
type IndexChanges struct {
	Dropped []string
	Created []string
}

// CreateOrEvolve создает таблицу процесса или приводит существующую к схеме:
// добавляет недостающие колонки, применяет смену объявленных типов и
// перестраивает индексы
func (s *Store) CreateOrEvolve(ctx context.Context) (*EvolveReport, error) {
	getDate, err := s.schema.GetDate()
	if err != nil {
		return nil, err
	}

	if err := adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
		return s.ensureCatalog(ctx, tx)
	}); err != nil {
		return nil, err
	}

	exists, err := s.backend.TableExists(ctx, s.Table())
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	present := make(map[string]bool)
	if exists {
		cols, err := s.backend.Columns(ctx, s.Table())
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		for _, c := range cols {
			present[c.Name] = true
		}
	}
	recorded, err := s.loadRecorded(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	if !exists {
		// Записи каталога удаленной таблицы не действуют
		recorded = nil
	}
	if err := checkGetDate(getDate, recorded); err != nil {
		return nil, fmt.Errorf("process %d: %w", s.schema.ID, err)
	}

	report := &EvolveReport{Created: !exists}
	var changes []TypeChange
	err = adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
		if !exists {
			stmts := s.dialect.CreateTable(s.Table(), s.schema.Sequence(), s.columnDefs(), getDate.Name)
			for _, stmt := range stmts {
				if err := s.ddl(ctx, tx, stmt); err != nil {
					return fmt.Errorf("store: create table %s: %w", s.Table(), err)
				}
			}
		}

		for _, fd := range s.schema.FieldDefs() {
			if fd.Name == process.ColID {
				continue
			}
			c, _ := s.schema.Column(fd.Name)
			rc, known := recorded[fd.Name]

			if exists && !present[fd.Name] {
				if err := s.ddl(ctx, tx, s.dialect.AddColumn(s.Table(), adapters.ColumnDef{Name: fd.Name, Type: fd.Type})); err != nil {
					return fmt.Errorf("store: add column %s: %w", fd.Name, err)
				}
				report.Added = append(report.Added, fd.Name)
				known = false
			}

			switch {
			case !known:
				if err := s.recordType(ctx, tx, fd.Name, fd.Type, c.GetDate); err != nil {
					return err
				}
			case schema.NormalizeType(rc.Type) != schema.NormalizeType(fd.Type):
				changes = append(changes, TypeChange{Column: fd.Name, From: rc.Type, To: fd.Type})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateTypes()

	if len(changes) > 0 {
		report.Cast, err = s.CastDataTypeForColumns(ctx, changes)
		if err != nil {
			return nil, err
		}
	}

	report.Indexes, err = s.ReStructureIndex(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Bool("created", report.Created).
		Strs("added", report.Added).
		Strs("cast", report.Cast.Converted).
		Int("cast_failed", len(report.Cast.Failed)).
		Msg("table evolved")
	return report, nil
}

// checkGetDate проверяет, что колонка get-date не сменила тип и роль
func checkGetDate(getDate process.Column, recorded map[string]recordedColumn) error {
	for name, rc := range recorded {
		if !rc.GetDate {
			continue
		}
		if name != getDate.Name {
			return fmt.Errorf("%w: recorded as %s, configured as %s", ErrGetDateImmutable, name, getDate.Name)
		}
		if schema.NormalizeType(rc.Type) != schema.NormalizeType(getDate.Type) {
			return fmt.Errorf("%w: %s type %s -> %s", ErrGetDateImmutable, name, rc.Type, getDate.Type)
		}
	}
	return nil
}

// columnDefs возвращает колонки таблицы без id
func (s *Store) columnDefs() []adapters.ColumnDef {
	var out []adapters.ColumnDef
	for _, fd := range s.schema.FieldDefs() {
		if fd.Name == process.ColID {
			continue
		}
		out = append(out, adapters.ColumnDef{Name: fd.Name, Type: fd.Type, NotNull: !fd.Nullable})
	}
	return out
}

// CreatePartitionByTime создает месячную партицию [первое число, первое число
// следующего месяца). Месяц задается как "2006-01". Повторный вызов не меняет БД.
func (s *Store) CreatePartitionByTime(ctx context.Context, yearMonth string) error {
	if yearMonth == "" {
		return ErrNoPartition
	}
	from, err := time.ParseInLocation(monthLayout, yearMonth, time.UTC)
	if err != nil {
		return fmt.Errorf("store: partition month %q: %w", yearMonth, err)
	}
	return adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
		return s.createPartition(ctx, tx, from)
	})
}

func (s *Store) createPartition(ctx context.Context, tx adapters.Tx, from time.Time) error {
	to := from.AddDate(0, 1, 0)
	name := fmt.Sprintf("%s_p%04d_%02d", s.Table(), from.Year(), int(from.Month()))
	stmt, ok := s.dialect.CreatePartition(s.Table(), name, from, to)
	if !ok {
		return nil
	}
	if err := s.ddl(ctx, tx, stmt); err != nil {
		return fmt.Errorf("store: create partition %s: %w", name, err)
	}
	return nil
}

// ensurePartitions создает партиции всех месяцев окна [lo, hi]
func (s *Store) ensurePartitions(ctx context.Context, lo, hi time.Time) error {
	first := time.Date(lo.Year(), lo.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(hi.Year(), hi.Month(), 1, 0, 0, 0, 0, time.UTC)
	return adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
		for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
			if err := s.createPartition(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// IndexName возвращает детерминированное имя индекса по подписи дескриптора
func IndexName(table string, d process.IndexDescriptor) string {
	return fmt.Sprintf("%s_idx_%016x", table, xxh3.HashString(d.Signature()))
}

// ReStructureIndex приводит индексы таблицы к требуемым: удаляет устаревшие,
// затем создает недостающие. Индексы по умолчанию всегда входят в требуемые.
func (s *Store) ReStructureIndex(ctx context.Context) (IndexChanges, error) {
	var changes IndexChanges

	names, err := s.backend.Indexes(ctx, s.Table())
	if err != nil {
		return changes, fmt.Errorf("store: %w", err)
	}
	prefix := s.Table() + "_idx_"
	present := make(map[string]bool)
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			present[n] = true
		}
	}

	required := make(map[string]process.IndexDescriptor)
	var order []string
	for _, d := range s.schema.IndexDescriptors() {
		name := IndexName(s.Table(), d)
		if _, ok := required[name]; !ok {
			order = append(order, name)
		}
		required[name] = d
	}

	for n := range present {
		if _, ok := required[n]; !ok {
			changes.Dropped = append(changes.Dropped, n)
		}
	}
	sort.Strings(changes.Dropped)
	for _, n := range order {
		if !present[n] {
			changes.Created = append(changes.Created, n)
		}
	}
	if len(changes.Dropped) == 0 && len(changes.Created) == 0 {
		return changes, nil
	}

	err = adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
		for _, n := range changes.Dropped {
			if err := s.ddl(ctx, tx, s.dialect.DropIndex(n)); err != nil {
				return fmt.Errorf("store: drop index %s: %w", n, err)
			}
		}
		for _, n := range changes.Created {
			if err := s.ddl(ctx, tx, s.dialect.CreateIndex(s.Table(), n, s.indexExprs(required[n]))); err != nil {
				return fmt.Errorf("store: create index %s: %w", n, err)
			}
		}
		return nil
	})
	if err != nil {
		return IndexChanges{}, err
	}

	s.logger.Debug().Strs("dropped", changes.Dropped).Strs("created", changes.Created).Msg("indexes restructured")
	return changes, nil
}

func (s *Store) indexExprs(d process.IndexDescriptor) []string {
	exprs := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		if c.Substr != nil {
			exprs[i] = s.dialect.Substr(c.Column, c.Substr.From, c.Substr.Length, c.AsText)
		} else {
			exprs[i] = s.dialect.Quote(c.Column)
		}
	}
	return exprs
}

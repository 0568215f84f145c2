package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/dedup"
	"github.com/ruslano69/bridgestation/pkg/ledger"
	"github.com/ruslano69/bridgestation/pkg/process"
)

// ImportResult - итог импорта партии
type ImportResult struct {
	Inserted int64
	Deleted  int64
	MaxID    int64
	Counted  int64 // Inserted - Deleted

	Duplicates int // Точные дубликаты, не вставленные повторно
	Merged     int // Объединенные пары измерение/история
	Subsumed   int // Строки, покрытые готовыми строками
	NoGetDate  int // Строки без get-date, отброшенные до сверки
}

// ImportData импортирует партию: колонки конфигурации переименовываются в
// физические (неизвестные отбрасываются), значения приводятся к типам колонок,
// создаются месячные партиции, партия сверяется с сохраненными строками окна
// [min, max+1s) get-date, затем в одной транзакции удаляются поглощенные строки
// и вставляются итоговые.
func (s *Store) ImportData(ctx context.Context, batch *frame.Frame, dataSourceID int64) (ImportResult, error) {
	var result ImportResult
	if s.engine == nil {
		return result, ErrNoEngine
	}
	getDate, err := s.schema.GetDate()
	if err != nil {
		return result, err
	}

	incoming, err := s.prepare(ctx, batch, dataSourceID)
	if err != nil {
		return result, err
	}
	withDate := make([]bool, incoming.Len())
	for i := range incoming.Rows {
		withDate[i] = !frame.IsNull(incoming.Value(i, getDate.Name))
	}
	before := incoming.Len()
	incoming = incoming.Filter(withDate)
	result.NoGetDate = before - incoming.Len()
	if result.NoGetDate > 0 {
		s.logger.Warn().Int("rows", result.NoGetDate).Msg("rows without get-date dropped")
	}
	if incoming.Empty() {
		return result, nil
	}

	lo, hi, _ := incoming.MinMaxTime(getDate.Name)
	if err := s.ensurePartitions(ctx, lo, hi); err != nil {
		return result, err
	}
	existing, err := s.GetTransactionByTimeRange(ctx, lo, hi.Add(time.Second))
	if err != nil {
		return result, err
	}

	rec, err := s.engine.Reconcile(ctx, dedup.Request{Schema: s.schema, Existing: existing, Incoming: incoming})
	if err != nil {
		return result, err
	}

	err = s.InTx(ctx, func(w *Writer) error {
		var err error
		if result.Deleted, err = w.RemoveByIDs(ctx, rec.DeleteIDs); err != nil {
			return err
		}
		if result.Inserted, err = w.Insert(ctx, rec.Insert); err != nil {
			return err
		}
		result.MaxID, err = w.MaxID(ctx)
		return err
	})
	if err != nil {
		return ImportResult{}, err
	}

	result.Counted = result.Inserted - result.Deleted
	result.Duplicates, result.Merged, result.Subsumed = rec.Duplicates, rec.Merged, rec.Subsumed

	removed := existing.Filter(not(rec.ExistingKept))
	deltas := ledger.Merge(
		ledger.Hourly(s.schema.ID, ledger.TargetDB, rec.Insert, getDate.Name, 1),
		ledger.Hourly(s.schema.ID, ledger.TargetDB, removed, getDate.Name, -1),
	)
	if err := ledger.AddAll(ctx, s.ledger, deltas); err != nil {
		// Данные уже зафиксированы
		s.logger.Warn().Err(err).Msg("ledger update failed")
	}

	s.logger.Info().
		Int64("data_source", dataSourceID).
		Int64("inserted", result.Inserted).
		Int64("deleted", result.Deleted).
		Int("duplicates", result.Duplicates).
		Int("merged", result.Merged).
		Int("subsumed", result.Subsumed).
		Int64("max_id", result.MaxID).
		Msg("batch imported")
	return result, nil
}

// prepare приводит партию к колонкам таблицы и типам колонок
func (s *Store) prepare(ctx context.Context, batch *frame.Frame, dataSourceID int64) (*frame.Frame, error) {
	rename := s.schema.RenameMap()
	names := make(map[string]string)
	seen := make(map[string]bool)
	var keep, unknown []string
	for _, c := range batch.Columns {
		phys, ok := rename[c]
		if !ok || seen[phys] {
			unknown = append(unknown, c)
			continue
		}
		seen[phys] = true
		keep = append(keep, c)
		names[c] = phys
	}
	if len(unknown) > 0 {
		s.logger.Debug().Strs("columns", unknown).Msg("unknown columns dropped")
	}

	f := batch.Select(keep...).Rename(names).Select(s.schema.StoredColumns()...)
	types := s.columnTypes(ctx)

	for j, col := range f.Columns {
		t := types[col]
		c, business := s.schema.Column(col)
		for i, row := range f.Rows {
			v := row[j]
			switch {
			case col == process.ColID:
				row[j] = nil
				continue
			case col == process.ColDataSourceID && dataSourceID > 0:
				row[j] = dataSourceID
				continue
			}
			if business && c.BooleanLike && !frame.IsNull(v) {
				b, err := schema.ParseBool(v)
				if err != nil {
					return nil, fmt.Errorf("store: row %d column %s: %w: %w", i, col, ErrInvalidValue, err)
				}
				v = b
			}
			cv, err := schema.Coerce(v, t)
			if err != nil {
				return nil, fmt.Errorf("store: row %d column %s: %w: %w", i, col, ErrInvalidValue, err)
			}
			row[j] = cv
		}
	}
	return f, nil
}

func not(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, v := range mask {
		out[i] = !v
	}
	return out
}

package backup

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/dedup"
	"github.com/ruslano69/bridgestation/pkg/ledger"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/ruslano69/bridgestation/pkg/retry"
	"github.com/ruslano69/bridgestation/pkg/store"
)

// Progress - состояние после обработки одних суток
type Progress struct {
	Key     Key
	Index   int     // Номер суток, с 1
	Total   int     // Всего суток в окне
	Percent float64 // Index / Total * 100
	Rows    int64   // Строк перенесено за сутки
}

// Orchestrator переносит строки процесса между хранилищем и файлами
type Orchestrator struct {
	Store   *store.Store
	Files   FileStore
	Engine  *dedup.Engine   // nil - движок хранилища
	Ledger  ledger.Ledger   // nil - без учета
	Retryer *retry.Retryer  // nil - без повтора
	Logger  *zerolog.Logger // nil - глобальный логгер
}

func (o *Orchestrator) logger() *zerolog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return &log.Logger
}

func (o *Orchestrator) engine() (*dedup.Engine, error) {
	if o.Engine != nil {
		return o.Engine, nil
	}
	if e := o.Store.Engine(); e != nil {
		return e, nil
	}
	return nil, store.ErrNoEngine
}

// Backup выносит строки окна [start, end) из хранилища в файлы, по суткам.
// Сутки сверяются с файлом (файл - существующие строки), затем в одной
// транзакции строки удаляются из хранилища и пишется объединенный файл.
// Прекращение итерации останавливает перенос между сутками.
func (o *Orchestrator) Backup(ctx context.Context, start, end time.Time) iter.Seq2[Progress, error] {
	return o.run(ctx, "backup", start, end, o.backupDay)
}

// Restore возвращает строки окна [start, end) из файлов в хранилище.
// Строки файла вне окна остаются в файле; пустой файл удаляется.
// Файл суток меняется только после фиксации транзакции хранилища.
func (o *Orchestrator) Restore(ctx context.Context, start, end time.Time) iter.Seq2[Progress, error] {
	return o.run(ctx, "restore", start, end, o.restoreDay)
}

type dayFunc func(ctx context.Context, key Key) (int64, error)

func (o *Orchestrator) run(ctx context.Context, op string, start, end time.Time, fn dayFunc) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		keys := Keys(o.Store.Schema().ID, start, end)
		for i, key := range keys {
			p := Progress{Key: key, Index: i + 1, Total: len(keys), Percent: float64(i+1) * 100 / float64(len(keys))}
			if err := ctx.Err(); err != nil {
				yield(p, err)
				return
			}

			unit := op + "/" + key.String()
			err := o.Retryer.DoWithData(ctx, unit, func(ctx context.Context) error {
				var err error
				p.Rows, err = fn(ctx, key)
				return err
			}, key)
			if err != nil {
				o.logger().Error().Err(err).Str("key", key.String()).Str("op", op).Msg("day failed")
				yield(p, err)
				return
			}

			o.logger().Info().Str("key", key.String()).Str("op", op).Int64("rows", p.Rows).
				Str("progress", fmt.Sprintf("%d/%d", p.Index, p.Total)).Msg("day done")
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (o *Orchestrator) backupDay(ctx context.Context, key Key) (int64, error) {
	engine, err := o.engine()
	if err != nil {
		return 0, retry.Permanent(err)
	}
	s := o.Store.Schema()
	getDate, err := s.GetDate()
	if err != nil {
		return 0, retry.Permanent(err)
	}

	rows, err := o.Store.GetTransactionByTimeRange(ctx, key.From, key.To)
	if err != nil {
		return 0, err
	}
	if rows.Empty() {
		return 0, nil
	}
	file, err := o.readFile(ctx, key)
	if err != nil {
		return 0, err
	}

	rec, err := engine.Reconcile(ctx, dedup.Request{Schema: s, Existing: file, Incoming: rows})
	if err != nil {
		return 0, err
	}
	union := frame.Concat(file.Filter(rec.ExistingKept), rec.Insert).SortBy(getDate.Name)

	ids := make([]int64, 0, rows.Len())
	for _, v := range rows.Column(process.ColID) {
		if id, ok := v.(int64); ok {
			ids = append(ids, id)
		}
	}
	err = o.Store.InTx(ctx, func(w *store.Writer) error {
		if _, err := w.RemoveByIDs(ctx, ids); err != nil {
			return err
		}
		if union.Empty() {
			return o.Files.Delete(ctx, key)
		}
		return o.Files.Write(ctx, key, union)
	})
	if err != nil {
		return 0, err
	}

	o.record(ctx, ledger.Merge(
		ledger.Hourly(s.ID, ledger.TargetDB, rows, getDate.Name, -1),
		ledger.Hourly(s.ID, ledger.TargetFile, union, getDate.Name, 1),
		ledger.Hourly(s.ID, ledger.TargetFile, file, getDate.Name, -1),
	))
	return int64(rows.Len()), nil
}

func (o *Orchestrator) restoreDay(ctx context.Context, key Key) (int64, error) {
	engine, err := o.engine()
	if err != nil {
		return 0, retry.Permanent(err)
	}
	s := o.Store.Schema()
	getDate, err := s.GetDate()
	if err != nil {
		return 0, retry.Permanent(err)
	}

	file, err := o.readFile(ctx, key)
	if err != nil {
		return 0, err
	}
	if file.Empty() {
		return 0, nil
	}

	inside := make([]bool, file.Len())
	for i := range file.Rows {
		t, ok := file.Value(i, getDate.Name).(time.Time)
		inside[i] = ok && !t.Before(key.From) && t.Before(key.To)
	}
	in := file.Filter(inside)
	if in.Empty() {
		return 0, nil
	}
	out := file.Filter(not(inside))

	if err := o.Store.CreatePartitionByTime(ctx, key.Day.Format("2006-01")); err != nil {
		return 0, err
	}
	existing, err := o.Store.GetTransactionByTimeRange(ctx, key.From, key.To)
	if err != nil {
		return 0, err
	}
	rec, err := engine.Reconcile(ctx, dedup.Request{Schema: s, Existing: existing, Incoming: in})
	if err != nil {
		return 0, err
	}

	var inserted int64
	err = o.Store.InTx(ctx, func(w *store.Writer) error {
		if _, err := w.RemoveByIDs(ctx, rec.DeleteIDs); err != nil {
			return err
		}
		var err error
		inserted, err = w.Insert(ctx, rec.Insert)
		return err
	})
	if err != nil {
		return 0, err
	}
	// Файл переписывается только после commit. Сбой между шагами оставляет
	// строки и в хранилище, и в файле; повтор отбросит их как дубликаты.
	if out.Empty() {
		err = o.Files.Delete(ctx, key)
	} else {
		err = o.Files.Write(ctx, key, out)
	}
	if err != nil {
		o.record(ctx, ledger.Merge(
			ledger.Hourly(s.ID, ledger.TargetDB, rec.Insert, getDate.Name, 1),
			ledger.Hourly(s.ID, ledger.TargetDB, existing.Filter(not(rec.ExistingKept)), getDate.Name, -1),
		))
		return 0, err
	}

	o.record(ctx, ledger.Merge(
		ledger.Hourly(s.ID, ledger.TargetDB, rec.Insert, getDate.Name, 1),
		ledger.Hourly(s.ID, ledger.TargetDB, existing.Filter(not(rec.ExistingKept)), getDate.Name, -1),
		ledger.Hourly(s.ID, ledger.TargetFile, in, getDate.Name, -1),
	))
	return inserted, nil
}

// readFile читает файл суток и приводит значения к типам колонок хранилища.
// Отсутствующий файл - пустой Frame с колонками таблицы.
func (o *Orchestrator) readFile(ctx context.Context, key Key) (*frame.Frame, error) {
	cols := o.Store.Schema().StoredColumns()
	f, err := o.Files.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return frame.New(cols...), nil
	}

	f = f.Select(cols...)
	types := o.Store.ColumnTypes(ctx)
	for j, col := range f.Columns {
		t, ok := types[col]
		if !ok {
			continue
		}
		for i, row := range f.Rows {
			v, err := schema.Coerce(row[j], t)
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("backup: %s row %d column %s: %w", key, i, col, err))
			}
			row[j] = v
		}
	}
	return f, nil
}

func (o *Orchestrator) record(ctx context.Context, deltas []ledger.Delta) {
	if err := ledger.AddAll(ctx, o.Ledger, deltas); err != nil {
		o.logger().Warn().Err(err).Int64("process", o.Store.Schema().ID).Msg("ledger update failed")
	}
}

func not(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, v := range mask {
		out[i] = !v
	}
	return out
}

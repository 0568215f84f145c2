package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// castSavepoint - точка сохранения вокруг смены типа одной колонки
const castSavepoint = "bs_cast"

// conversionLocks - мьютексы перевода CATEGORY в обычный тип по id процесса
var conversionLocks sync.Map

func conversionLock(processID int64) *sync.Mutex {
	mu, _ := conversionLocks.LoadOrStore(processID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// TypeChange - смена типа колонки
type TypeChange struct {
	Column string
	From   schema.DataType
	To     schema.DataType
}

// CastFailure - колонка, тип которой не удалось сменить
type CastFailure struct {
	Column string
	To     schema.DataType
	Values []any  // Значения, не переживающие приведение
	Reason string // Текст ошибки
}

// CastReport - итог смены типов. Неудачи - значения, а не ошибки.
type CastReport struct {
	Converted []string
	Failed    []CastFailure
}

// CastDataTypeForColumns меняет типы колонок на месте. Каждая колонка
// проверяется (regex/диапазон по целевому типу) и приводится под своей точкой
// сохранения; неудача откатывает только эту колонку и попадает в Failed.
func (s *Store) CastDataTypeForColumns(ctx context.Context, changes []TypeChange) (CastReport, error) {
	var report CastReport
	getDate, err := s.schema.GetDate()
	if err != nil {
		return report, err
	}

	for _, ch := range changes {
		fail := func(values []any, reason string) {
			report.Failed = append(report.Failed, CastFailure{Column: ch.Column, To: ch.To, Values: values, Reason: reason})
			s.logger.Warn().Str("column", ch.Column).Str("to", string(ch.To)).Str("reason", reason).Msg("cast failed")
		}

		if ch.Column == getDate.Name {
			fail(nil, ErrGetDateImmutable.Error())
			continue
		}
		if err := schema.CheckTransition(ch.From, ch.To); err != nil {
			fail(nil, err.Error())
			continue
		}

		from, to := schema.NormalizeType(ch.From), schema.NormalizeType(ch.To)
		var (
			bad    []any
			reason string
		)
		err := adapters.InTx(ctx, s.backend, func(tx adapters.Tx) error {
			var castErr error
			switch {
			case from == schema.TypeCategory && to != schema.TypeCategory:
				bad, castErr = s.categoryToPlain(ctx, tx, ch.Column, to)
			case to == schema.TypeCategory && from != schema.TypeCategory:
				castErr = s.plainToCategory(ctx, tx, ch.Column)
			default:
				bad, castErr = s.castPlain(ctx, tx, ch.Column, to)
			}
			if castErr != nil {
				reason = castErr.Error()
				return nil
			}
			if len(bad) > 0 {
				return nil
			}
			return s.recordType(ctx, tx, ch.Column, to, false)
		})
		if err != nil {
			return report, err
		}

		switch {
		case len(bad) > 0:
			fail(bad, fmt.Sprintf("%d values cannot be cast to %s", len(bad), to))
		case reason != "":
			fail(nil, reason)
		default:
			report.Converted = append(report.Converted, ch.Column)
		}
	}

	s.invalidateTypes()
	return report, nil
}

// distinct возвращает различные непустые значения колонки
func (s *Store) distinct(ctx context.Context, q adapters.Queryer, column string) ([]any, error) {
	d := s.dialect
	c := d.Quote(column)
	f, err := q.Query(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", c, d.Quote(s.Table()), c))
	if err != nil {
		return nil, fmt.Errorf("store: distinct %s: %w", column, err)
	}
	return f.Column(column), nil
}

// castPlain проверяет значения и меняет тип колонки под точкой сохранения
func (s *Store) castPlain(ctx context.Context, tx adapters.Tx, column string, to schema.DataType) ([]any, error) {
	values, err := s.distinct(ctx, tx, column)
	if err != nil {
		return nil, err
	}
	if bad := schema.InvalidForCast(values, to); len(bad) > 0 {
		return bad, nil
	}
	return nil, adapters.InSavepoint(ctx, tx, castSavepoint, func() error {
		return s.execAll(ctx, tx, s.dialect.AlterType(s.Table(), column, to))
	})
}

// categoryToPlain переводит CATEGORY-колонку в обычный тип: колонка становится
// текстом, id заменяются значениями из m_category, строки справочника колонки
// удаляются, затем колонка приводится к целевому типу
func (s *Store) categoryToPlain(ctx context.Context, tx adapters.Tx, column string, to schema.DataType) ([]any, error) {
	mu := conversionLock(s.schema.ID)
	mu.Lock()
	defer mu.Unlock()

	ids, err := s.distinct(ctx, tx, column)
	if err != nil {
		return nil, err
	}
	_, byID, err := s.loadCategory(ctx, tx, column)
	if err != nil {
		return nil, err
	}
	texts := make([]any, 0, len(ids))
	for _, v := range ids {
		id, err := schema.Coerce(v, schema.TypeBigint)
		if err != nil || id == nil {
			continue
		}
		if text, ok := byID[id.(int64)]; ok {
			texts = append(texts, text)
		}
	}
	if bad := schema.InvalidForCast(texts, to); len(bad) > 0 {
		return bad, nil
	}

	d := s.dialect
	table, c := d.Quote(s.Table()), d.Quote(column)
	return nil, adapters.InSavepoint(ctx, tx, castSavepoint, func() error {
		if err := s.execAll(ctx, tx, d.AlterType(s.Table(), column, schema.TypeText)); err != nil {
			return err
		}

		if len(texts) <= 1 {
			// Одно значение: переписываем без подзапроса
			if len(texts) == 1 {
				if _, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NOT NULL",
					table, c, d.Placeholder(1), c), texts[0]); err != nil {
					return err
				}
			}
		} else {
			sql := fmt.Sprintf(
				"UPDATE %[1]s SET %[2]s = (SELECT m.%[3]s FROM %[4]s m WHERE m.%[5]s = CAST(%[1]s.%[2]s AS BIGINT) "+
					"AND m.%[6]s = %[7]s AND m.%[8]s = %[9]s) WHERE %[2]s IS NOT NULL",
				table, c, d.Quote("value"), d.Quote(tableCategory), d.Quote("id"),
				d.Quote("process_id"), d.Placeholder(1), d.Quote("column_name"), d.Placeholder(2))
			if _, err := tx.Exec(ctx, sql, s.schema.ID, column); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
			d.Quote(tableCategory), d.Quote("process_id"), d.Placeholder(1), d.Quote("column_name"), d.Placeholder(2)),
			s.schema.ID, column); err != nil {
			return err
		}

		if to == schema.TypeText {
			return nil
		}
		return s.execAll(ctx, tx, d.AlterType(s.Table(), column, to))
	})
}

// plainToCategory переводит обычную колонку в CATEGORY: различные текстовые
// значения заносятся в m_category, колонка переписывается их id
func (s *Store) plainToCategory(ctx context.Context, tx adapters.Tx, column string) error {
	d := s.dialect
	table, c := d.Quote(s.Table()), d.Quote(column)

	return adapters.InSavepoint(ctx, tx, castSavepoint, func() error {
		if err := s.execAll(ctx, tx, d.AlterType(s.Table(), column, schema.TypeText)); err != nil {
			return err
		}

		f, err := tx.Query(ctx, fmt.Sprintf("SELECT DISTINCT CAST(%s AS TEXT) AS v FROM %s WHERE %s IS NOT NULL", c, table, c))
		if err != nil {
			return err
		}
		byValue, _, err := s.loadCategory(ctx, tx, column)
		if err != nil {
			return err
		}
		var missing [][]any
		for _, v := range f.Column("v") {
			text, _ := schema.Coerce(v, schema.TypeText)
			if text == nil {
				continue
			}
			if _, ok := byValue[text.(string)]; !ok {
				missing = append(missing, []any{s.schema.ID, column, text})
			}
		}
		if _, err := tx.InsertRows(ctx, tableCategory, []string{"process_id", "column_name", "value"}, missing); err != nil {
			return err
		}

		sql := fmt.Sprintf(
			"UPDATE %[1]s SET %[2]s = (SELECT CAST(m.%[3]s AS TEXT) FROM %[4]s m WHERE m.%[5]s = CAST(%[1]s.%[2]s AS TEXT) "+
				"AND m.%[6]s = %[7]s AND m.%[8]s = %[9]s) WHERE %[2]s IS NOT NULL",
			table, c, d.Quote("id"), d.Quote(tableCategory), d.Quote("value"),
			d.Quote("process_id"), d.Placeholder(1), d.Quote("column_name"), d.Placeholder(2))
		if _, err := tx.Exec(ctx, sql, s.schema.ID, column); err != nil {
			return err
		}
		return s.execAll(ctx, tx, d.AlterType(s.Table(), column, schema.TypeCategory))
	})
}

func (s *Store) execAll(ctx context.Context, q adapters.Queryer, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

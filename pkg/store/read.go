package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
	"github.com/ruslano69/bridgestation/pkg/process"
)

// GetTransactionByTimeRange возвращает строки с get-date в [start, end),
// упорядоченные по get-date и id. Значения приведены к физическим типам
// колонок, CATEGORY-колонки возвращаются текстом.
func (s *Store) GetTransactionByTimeRange(ctx context.Context, start, end time.Time) (*frame.Frame, error) {
	getDate, err := s.schema.GetDate()
	if err != nil {
		return nil, err
	}
	d := s.dialect
	cols := s.schema.StoredColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	gd := d.Quote(getDate.Name)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s AND %s < %s ORDER BY %s, %s",
		strings.Join(quoted, ", "), d.Quote(s.Table()),
		gd, d.Placeholder(1), gd, d.Placeholder(2), gd, d.Quote(process.ColID))

	f, err := s.backend.Query(ctx, sql, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: read %s [%s, %s): %w", s.Table(),
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), err)
	}

	types := s.columnTypes(ctx)
	if err := s.decodeCategories(ctx, s.backend, f, types); err != nil {
		return nil, err
	}
	decodeValues(f, types)
	return f, nil
}

// decodeValues приводит значения драйвера к типам колонок (на месте).
// Значение, которое не приводится, остается как есть.
func decodeValues(f *frame.Frame, types map[string]schema.DataType) {
	for j, col := range f.Columns {
		t, ok := types[col]
		if !ok {
			continue
		}
		for _, row := range f.Rows {
			if v, err := schema.Coerce(row[j], t); err == nil {
				row[j] = v
			}
		}
	}
}

// DataCount возвращает число строк таблицы
func (s *Store) DataCount(ctx context.Context) (int64, error) {
	f, err := s.backend.Query(ctx, "SELECT COUNT(*) AS n FROM "+s.dialect.Quote(s.Table()))
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", s.Table(), err)
	}
	return scalarInt(f)
}

// MaxID возвращает максимальный id (0 для пустой таблицы)
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	return s.maxID(ctx, s.backend)
}

func (s *Store) maxID(ctx context.Context, q adapters.Queryer) (int64, error) {
	f, err := q.Query(ctx, fmt.Sprintf("SELECT MAX(%s) AS m FROM %s", s.dialect.Quote(process.ColID), s.dialect.Quote(s.Table())))
	if err != nil {
		return 0, fmt.Errorf("store: max id %s: %w", s.Table(), err)
	}
	return scalarInt(f)
}

// insert записывает строки Frame в таблицу. Колонка id не передается,
// отсутствующие колонки становятся NULL.
func (s *Store) insert(ctx context.Context, q adapters.Queryer, f *frame.Frame) (int64, error) {
	if f.Len() == 0 {
		return 0, nil
	}
	types := s.columnTypes(ctx)

	var cols []string
	for _, c := range s.schema.StoredColumns() {
		if c != process.ColID {
			cols = append(cols, c)
		}
	}
	out := f.Select(cols...)
	for j, col := range out.Columns {
		t := types[col]
		if t == schema.TypeCategory {
			continue
		}
		for i, row := range out.Rows {
			v, err := schema.Coerce(row[j], t)
			if err != nil {
				return 0, fmt.Errorf("store: row %d column %s: %w", i, col, err)
			}
			row[j] = v
		}
	}

	out, err := s.encodeCategories(ctx, q, out, types)
	if err != nil {
		return 0, err
	}
	n, err := q.InsertRows(ctx, s.Table(), out.Columns, out.Rows)
	if err != nil {
		return n, fmt.Errorf("store: insert into %s: %w", s.Table(), err)
	}
	return n, nil
}

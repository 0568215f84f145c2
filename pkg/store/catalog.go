package store

import (
	"context"
	"fmt"
	"maps"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// recordedColumn - физический тип колонки, примененный к таблице
type recordedColumn struct {
	Type    schema.DataType
	GetDate bool
}

// ensureCatalog создает каталожные таблицы m_column_type и m_category
func (s *Store) ensureCatalog(ctx context.Context, tx adapters.Tx) error {
	d := s.dialect
	stmts := d.CreateTable(tableColumnType, tableColumnType+"_id_seq", []adapters.ColumnDef{
		{Name: "process_id", Type: schema.TypeBigint, NotNull: true},
		{Name: "column_name", Type: schema.TypeText, NotNull: true},
		{Name: "data_type", Type: schema.TypeText, NotNull: true},
		{Name: "is_get_date", Type: schema.TypeBoolean},
	}, "")
	stmts = append(stmts, d.CreateTable(tableCategory, tableCategory+"_id_seq", []adapters.ColumnDef{
		{Name: "process_id", Type: schema.TypeBigint, NotNull: true},
		{Name: "column_name", Type: schema.TypeText, NotNull: true},
		{Name: "value", Type: schema.TypeText, NotNull: true},
	}, "")...)
	stmts = append(stmts, d.CreateIndex(tableCategory, tableCategory+"_idx_column",
		[]string{d.Quote("process_id"), d.Quote("column_name")}))

	for _, stmt := range stmts {
		if err := s.ddl(ctx, tx, stmt); err != nil {
			return fmt.Errorf("store: create catalog: %w", err)
		}
	}
	return nil
}

// loadRecorded читает примененные типы колонок процесса
func (s *Store) loadRecorded(ctx context.Context, q adapters.Queryer) (map[string]recordedColumn, error) {
	d := s.dialect
	f, err := q.Query(ctx, fmt.Sprintf("SELECT column_name, data_type, is_get_date FROM %s WHERE process_id = %s",
		d.Quote(tableColumnType), d.Placeholder(1)), s.schema.ID)
	if err != nil {
		return nil, fmt.Errorf("store: read column types: %w", err)
	}

	out := make(map[string]recordedColumn, f.Len())
	for i := range f.Rows {
		name, _ := schema.Coerce(f.Value(i, "column_name"), schema.TypeText)
		typ, _ := schema.Coerce(f.Value(i, "data_type"), schema.TypeText)
		if name == nil || typ == nil {
			continue
		}
		rc := recordedColumn{Type: schema.DataType(typ.(string))}
		if v := f.Value(i, "is_get_date"); !frame.IsNull(v) {
			rc.GetDate, _ = schema.ParseBool(v)
		}
		out[name.(string)] = rc
	}
	return out, nil
}

// recordType сохраняет примененный тип колонки
func (s *Store) recordType(ctx context.Context, q adapters.Queryer, column string, typ schema.DataType, getDate bool) error {
	d := s.dialect
	_, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE process_id = %s AND column_name = %s",
		d.Quote(tableColumnType), d.Placeholder(1), d.Placeholder(2)), s.schema.ID, column)
	if err != nil {
		return fmt.Errorf("store: record type of %s: %w", column, err)
	}
	_, err = q.InsertRows(ctx, tableColumnType,
		[]string{"process_id", "column_name", "data_type", "is_get_date"},
		[][]any{{s.schema.ID, column, string(schema.NormalizeType(typ)), getDate}})
	if err != nil {
		return fmt.Errorf("store: record type of %s: %w", column, err)
	}
	return nil
}

// declaredTypes возвращает объявленные типы всех колонок таблицы
func (s *Store) declaredTypes() map[string]schema.DataType {
	out := make(map[string]schema.DataType)
	for _, fd := range s.schema.FieldDefs() {
		out[fd.Name] = schema.NormalizeType(fd.Type)
	}
	return out
}

// columnTypes возвращает физические типы колонок: примененные из m_column_type,
// иначе объявленные. Результат кешируется до следующей эволюции.
func (s *Store) columnTypes(ctx context.Context) map[string]schema.DataType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.types != nil {
		return s.types
	}

	types := s.declaredTypes()
	recorded, err := s.loadRecorded(ctx, s.backend)
	if err != nil {
		s.logger.Debug().Err(err).Msg("column types not recorded, using declared")
		s.types = types
		return types
	}
	for name, rc := range recorded {
		if _, ok := types[name]; ok {
			types[name] = schema.NormalizeType(rc.Type)
		}
	}
	s.types = types
	return types
}

// ColumnTypes возвращает копию физических типов колонок таблицы
func (s *Store) ColumnTypes(ctx context.Context) map[string]schema.DataType {
	return maps.Clone(s.columnTypes(ctx))
}

func (s *Store) invalidateTypes() {
	s.mu.Lock()
	s.types = nil
	s.mu.Unlock()
}

// loadCategory читает значения категории колонки
func (s *Store) loadCategory(ctx context.Context, q adapters.Queryer, column string) (map[string]int64, map[int64]string, error) {
	d := s.dialect
	f, err := q.Query(ctx, fmt.Sprintf("SELECT id, value FROM %s WHERE process_id = %s AND column_name = %s",
		d.Quote(tableCategory), d.Placeholder(1), d.Placeholder(2)), s.schema.ID, column)
	if err != nil {
		return nil, nil, fmt.Errorf("store: read categories of %s: %w", column, err)
	}
	byValue := make(map[string]int64, f.Len())
	byID := make(map[int64]string, f.Len())
	for i := range f.Rows {
		id, err := schema.Coerce(f.Value(i, "id"), schema.TypeBigint)
		if err != nil || id == nil {
			continue
		}
		v, _ := schema.Coerce(f.Value(i, "value"), schema.TypeText)
		text, _ := v.(string)
		byValue[text] = id.(int64)
		byID[id.(int64)] = text
	}
	return byValue, byID, nil
}

// encodeCategories заменяет текст CATEGORY-колонок на id из m_category,
// добавляя недостающие значения
func (s *Store) encodeCategories(ctx context.Context, q adapters.Queryer, f *frame.Frame, types map[string]schema.DataType) (*frame.Frame, error) {
	out := f
	for _, col := range f.Columns {
		if types[col] != schema.TypeCategory {
			continue
		}
		if out == f {
			out = f.Clone()
		}

		byValue, _, err := s.loadCategory(ctx, q, col)
		if err != nil {
			return nil, err
		}
		var missing [][]any
		for _, v := range out.Column(col) {
			if frame.IsNull(v) {
				continue
			}
			text, _ := schema.Coerce(v, schema.TypeCategory)
			if text == nil {
				continue
			}
			if _, ok := byValue[text.(string)]; !ok {
				byValue[text.(string)] = 0
				missing = append(missing, []any{s.schema.ID, col, text})
			}
		}
		if len(missing) > 0 {
			if _, err := q.InsertRows(ctx, tableCategory, []string{"process_id", "column_name", "value"}, missing); err != nil {
				return nil, fmt.Errorf("store: add categories of %s: %w", col, err)
			}
			if byValue, _, err = s.loadCategory(ctx, q, col); err != nil {
				return nil, err
			}
		}

		for i := range out.Rows {
			v := out.Value(i, col)
			if frame.IsNull(v) {
				continue
			}
			text, _ := schema.Coerce(v, schema.TypeCategory)
			if text == nil {
				out.Set(i, col, nil)
				continue
			}
			out.Set(i, col, byValue[text.(string)])
		}
	}
	return out, nil
}

// decodeCategories заменяет id CATEGORY-колонок на текст (на месте)
func (s *Store) decodeCategories(ctx context.Context, q adapters.Queryer, f *frame.Frame, types map[string]schema.DataType) error {
	for _, col := range f.Columns {
		if types[col] != schema.TypeCategory {
			continue
		}
		_, byID, err := s.loadCategory(ctx, q, col)
		if err != nil {
			return err
		}
		for i := range f.Rows {
			id, err := schema.Coerce(f.Value(i, col), schema.TypeBigint)
			if err != nil || id == nil {
				continue
			}
			if text, ok := byID[id.(int64)]; ok {
				f.Set(i, col, text)
			}
		}
	}
	return nil
}

// Package frame реализует табличный набор данных, которым обмениваются
// сопоставитель строк, движок дедупликации, хранилище и резервные копии.
//
// Frame неизменяем по соглашению: все операции, кроме Append и Set,
// возвращают новый Frame и не трогают исходные строки.
package frame

import (
	"fmt"
	"math"
	"time"
)

// Frame - набор строк с именованными колонками.
// Значение nil (а также NaN) трактуется как NULL.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// New создает пустой Frame с указанными колонками
func New(columns ...string) *Frame {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Frame{Columns: cols}
}

// FromRows создает Frame из готовых строк. Короткие строки дополняются NULL.
func FromRows(columns []string, rows [][]any) *Frame {
	f := New(columns...)
	for _, row := range rows {
		f.Append(row...)
	}
	return f
}

// Len возвращает количество строк
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Empty возвращает true если во Frame нет строк
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// Index возвращает позицию колонки или -1
func (f *Frame) Index(col string) int {
	if f == nil {
		return -1
	}
	for i, c := range f.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has проверяет наличие всех колонок
func (f *Frame) Has(cols ...string) bool {
	for _, c := range cols {
		if f.Index(c) < 0 {
			return false
		}
	}
	return true
}

// Append добавляет строку. Недостающие значения становятся NULL,
// лишние - ошибка программиста.
func (f *Frame) Append(values ...any) {
	if len(values) > len(f.Columns) {
		panic(fmt.Sprintf("frame: row has %d values for %d columns", len(values), len(f.Columns)))
	}
	row := make([]any, len(f.Columns))
	copy(row, values)
	f.Rows = append(f.Rows, row)
}

// Value возвращает значение колонки col в строке i (nil если колонки нет)
func (f *Frame) Value(i int, col string) any {
	idx := f.Index(col)
	if idx < 0 {
		return nil
	}
	return f.Rows[i][idx]
}

// Set изменяет значение на месте. Используется только при построении Frame.
func (f *Frame) Set(i int, col string, v any) {
	idx := f.Index(col)
	if idx < 0 {
		panic(fmt.Sprintf("frame: unknown column %q", col))
	}
	f.Rows[i][idx] = v
}

// Column возвращает копию значений колонки
func (f *Frame) Column(col string) []any {
	idx := f.Index(col)
	out := make([]any, f.Len())
	if idx < 0 {
		return out
	}
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out
}

// Filter возвращает строки, для которых mask[i] == true
func (f *Frame) Filter(mask []bool) *Frame {
	out := New(f.Columns...)
	for i, row := range f.Rows {
		if i < len(mask) && mask[i] {
			out.Rows = append(out.Rows, cloneRow(row))
		}
	}
	return out
}

// Take возвращает строки с указанными позициями в указанном порядке
func (f *Frame) Take(idx []int) *Frame {
	out := New(f.Columns...)
	out.Rows = make([][]any, 0, len(idx))
	for _, i := range idx {
		out.Rows = append(out.Rows, cloneRow(f.Rows[i]))
	}
	return out
}

// Select проецирует Frame на колонки cols. Отсутствующие колонки заполняются NULL.
func (f *Frame) Select(cols ...string) *Frame {
	out := New(cols...)
	pos := make([]int, len(cols))
	for j, c := range cols {
		pos[j] = f.Index(c)
	}
	out.Rows = make([][]any, 0, f.Len())
	for _, row := range f.Rows {
		nr := make([]any, len(cols))
		for j, p := range pos {
			if p >= 0 {
				nr[j] = row[p]
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// Clone возвращает глубокую копию строк
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return f.Take(seq(f.Len()))
}

// WithColumn возвращает копию с колонкой col, заполненной значением v.
// Если колонка уже есть, ее значения заменяются.
func (f *Frame) WithColumn(col string, v any) *Frame {
	out := f.Clone()
	idx := out.Index(col)
	if idx < 0 {
		out.Columns = append(out.Columns, col)
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], v)
		}
		return out
	}
	for i := range out.Rows {
		out.Rows[i][idx] = v
	}
	return out
}

// Drop возвращает копию без указанных колонок
func (f *Frame) Drop(cols ...string) *Frame {
	skip := make(map[string]bool, len(cols))
	for _, c := range cols {
		skip[c] = true
	}
	keep := make([]string, 0, len(f.Columns))
	for _, c := range f.Columns {
		if !skip[c] {
			keep = append(keep, c)
		}
	}
	return f.Select(keep...)
}

// Rename возвращает копию с переименованными колонками (old -> new)
func (f *Frame) Rename(names map[string]string) *Frame {
	out := f.Clone()
	for i, c := range out.Columns {
		if n, ok := names[c]; ok {
			out.Columns[i] = n
		}
	}
	return out
}

// Concat объединяет строки нескольких Frame. Набор колонок - объединение
// колонок в порядке первого появления.
func Concat(frames ...*Frame) *Frame {
	var cols []string
	seen := map[string]bool{}
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, c := range f.Columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	out := New(cols...)
	for _, f := range frames {
		if f.Len() == 0 {
			continue
		}
		out.Rows = append(out.Rows, f.Select(cols...).Rows...)
	}
	return out
}

// MinMaxTime возвращает минимальное и максимальное время в колонке.
// ok == false если непустых значений нет.
func (f *Frame) MinMaxTime(col string) (lo, hi time.Time, ok bool) {
	for _, v := range f.Column(col) {
		t, isTime := v.(time.Time)
		if !isTime {
			continue
		}
		if !ok || t.Before(lo) {
			lo = t
		}
		if !ok || t.After(hi) {
			hi = t
		}
		ok = true
	}
	return lo, hi, ok
}

// IsNull сообщает, является ли значение NULL
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

func cloneRow(row []any) []any {
	out := make([]any, len(row))
	copy(out, row)
	return out
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

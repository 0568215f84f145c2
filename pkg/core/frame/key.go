package frame

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// keySep разделяет значения составного ключа
const keySep = "\x1f"

// nullKey - представление NULL в ключе. NULL совпадает только с NULL.
const nullKey = "\x00"

// Canonical возвращает типо-стабильное строковое представление значения:
// int64(2), int(2) и float64(2) дают одинаковый результат, время сравнивается в UTC.
func Canonical(v any) string {
	if IsNull(v) {
		return nullKey
	}
	switch x := v.(type) {
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10)
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "n:" + strconv.FormatInt(x, 10)
	case uint32:
		return "n:" + strconv.FormatUint(uint64(x), 10)
	case uint64:
		return "n:" + strconv.FormatUint(x, 10)
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	case bool:
		if x {
			return "b:1"
		}
		return "b:0"
	case string:
		return "s:" + x
	case []byte:
		return "x:" + hex.EncodeToString(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	default:
		return "v:" + fmt.Sprint(x)
	}
}

func canonicalFloat(x float64) string {
	if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
		return "n:" + strconv.FormatInt(int64(x), 10)
	}
	return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
}

// Equal сравнивает два значения по каноническому представлению
func Equal(a, b any) bool {
	return Canonical(a) == Canonical(b)
}

// Key возвращает составной ключ строки i по колонкам cols
func (f *Frame) Key(i int, cols []string) string {
	parts := make([]string, len(cols))
	for j, c := range cols {
		parts[j] = Canonical(f.Value(i, c))
	}
	return strings.Join(parts, keySep)
}

// Groups группирует позиции строк по ключу. Порядок позиций внутри группы
// совпадает с порядком строк; keys - ключи в порядке первого появления.
func (f *Frame) Groups(cols []string) (groups map[string][]int, keys []string) {
	groups = make(map[string][]int)
	for i := range f.Rows {
		k := f.Key(i, cols)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}
	return groups, keys
}

// Order возвращает стабильную перестановку строк по возрастанию колонок cols.
// NULL сортируются в конец.
func (f *Frame) Order(cols ...string) []int {
	idx := seq(f.Len())
	pos := make([]int, len(cols))
	for j, c := range cols {
		pos[j] = f.Index(c)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := f.Rows[idx[a]], f.Rows[idx[b]]
		for _, p := range pos {
			if p < 0 {
				continue
			}
			if c := Compare(ra[p], rb[p]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return idx
}

// SortBy возвращает копию, отсортированную по колонкам cols
func (f *Frame) SortBy(cols ...string) *Frame {
	return f.Take(f.Order(cols...))
}

// Compare упорядочивает значения одного типа. NULL больше любого значения.
func Compare(a, b any) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Compare(ba, bb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Package merge реализует позиционное сопоставление строк двух наборов
// данных по ключевым колонкам. Внутри группы одинаковых ключей строки
// сопоставляются один-к-одному по порядку, декартово произведение не строится.
package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// ErrMissingKey - ключевая колонка отсутствует в одном из наборов
var ErrMissingKey = errors.New("merge: key column missing")

// ErrMissingColumn - переносимая колонка отсутствует в правом наборе
var ErrMissingColumn = errors.New("merge: column missing")

// Pair - индексы сопоставленных строк левого и правого наборов
type Pair struct {
	Left  int
	Right int
}

// CombineResult результат поглощающего сопоставления
type CombineResult struct {
	Merged       *frame.Frame // Объединенные пары, по одной строке на пару
	LeftMatched  []bool       // Поглощенные строки левого набора
	RightMatched []bool       // Поглощенные строки правого набора
	Pairs        []Pair       // Пары в порядке строк левого набора
}

// Stats статистика сопоставления
type Stats struct {
	Left      int
	Right     int
	Paired    int
	LeftOnly  int
	RightOnly int
}

// Stats возвращает статистику по маскам
func (r *CombineResult) Stats() Stats {
	s := Stats{Left: len(r.LeftMatched), Right: len(r.RightMatched), Paired: len(r.Pairs)}
	s.LeftOnly = s.Left - s.Paired
	s.RightOnly = s.Right - s.Paired
	return s
}

// LeftRemainder возвращает непоглощенные строки левого набора
func (r *CombineResult) LeftRemainder(left *frame.Frame) *frame.Frame {
	return left.Filter(invert(r.LeftMatched))
}

// RightRemainder возвращает непоглощенные строки правого набора
func (r *CombineResult) RightRemainder(right *frame.Frame) *frame.Frame {
	return right.Filter(invert(r.RightMatched))
}

// MergeRowsOneByOne переносит колонки columns из правого набора в левый.
// Внутри каждой группы ключа, присутствующей справа, k-я левая строка получает
// значения k-й правой строки. Лишние левые строки сохраняют свои значения и
// отмечаются в маске как несопоставленные. Колонки, которых нет слева,
// добавляются в конец. Входные наборы не изменяются.
func MergeRowsOneByOne(left, right *frame.Frame, on, columns []string) (*frame.Frame, []bool, error) {
	if left == nil {
		left = frame.New()
	}
	if !left.Empty() && !right.Empty() {
		if err := checkKeys(left, right, on); err != nil {
			return nil, nil, err
		}
		for _, c := range columns {
			if right.Index(c) < 0 {
				return nil, nil, fmt.Errorf("%w: %q", ErrMissingColumn, c)
			}
		}
	}

	cols := append([]string(nil), left.Columns...)
	for _, c := range columns {
		if left.Index(c) < 0 {
			cols = append(cols, c)
		}
	}
	out := left.Select(cols...)
	matched := make([]bool, left.Len())

	if left.Empty() || right.Empty() {
		return out, matched, nil
	}

	rightGroups, _ := right.Groups(on)
	leftGroups, leftKeys := left.Groups(on)
	for _, key := range leftKeys {
		rIdx, ok := rightGroups[key]
		if !ok {
			continue
		}
		lIdx := leftGroups[key]
		n := min(len(lIdx), len(rIdx))
		for k := 0; k < n; k++ {
			li, ri := lIdx[k], rIdx[k]
			for _, c := range columns {
				out.Set(li, c, right.Value(ri, c))
			}
			matched[li] = true
		}
	}
	return out, matched, nil
}

// CombineRowsOneByOne поглощающе сопоставляет строки по ключу on.
// Для каждой группы ключа из левого набора строки пар объединяются
// позиционно, не более min(левых, правых) пар на группу. В объединенной
// строке побеждает непустое правое значение, иначе берется левое.
// NULL-ключ совпадает только с NULL-ключом. Пустой набор с любой стороны
// дает пустой результат без проверки ключей.
func CombineRowsOneByOne(left, right *frame.Frame, on []string) (*CombineResult, error) {
	if left == nil {
		left = frame.New()
	}
	if right == nil {
		right = frame.New()
	}
	if !left.Empty() && !right.Empty() {
		if err := checkKeys(left, right, on); err != nil {
			return nil, err
		}
	}

	cols := append([]string(nil), left.Columns...)
	for _, c := range right.Columns {
		if left.Index(c) < 0 {
			cols = append(cols, c)
		}
	}

	result := &CombineResult{
		Merged:       frame.New(cols...),
		LeftMatched:  make([]bool, left.Len()),
		RightMatched: make([]bool, right.Len()),
	}
	if left.Empty() || right.Empty() {
		return result, nil
	}

	rightGroups, _ := right.Groups(on)
	leftGroups, leftKeys := left.Groups(on)
	for _, key := range leftKeys {
		rIdx, ok := rightGroups[key]
		if !ok {
			continue
		}
		lIdx := leftGroups[key]
		n := min(len(lIdx), len(rIdx))
		for k := 0; k < n; k++ {
			result.Pairs = append(result.Pairs, Pair{Left: lIdx[k], Right: rIdx[k]})
			result.LeftMatched[lIdx[k]] = true
			result.RightMatched[rIdx[k]] = true
		}
	}

	sortPairs(result.Pairs)
	for _, p := range result.Pairs {
		row := make([]any, len(cols))
		for j, c := range cols {
			v := right.Value(p.Right, c)
			if frame.IsNull(v) {
				v = left.Value(p.Left, c)
			}
			row[j] = v
		}
		result.Merged.Append(row...)
	}
	return result, nil
}

func checkKeys(left, right *frame.Frame, on []string) error {
	if len(on) == 0 {
		return fmt.Errorf("%w: no key columns", ErrMissingKey)
	}
	for _, c := range on {
		if left.Index(c) < 0 {
			return fmt.Errorf("%w: %q on left", ErrMissingKey, c)
		}
		if right.Index(c) < 0 {
			return fmt.Errorf("%w: %q on right", ErrMissingKey, c)
		}
	}
	return nil
}

// sortPairs упорядочивает пары по индексу левой строки
func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Left < pairs[j].Left })
}

func invert(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, m := range mask {
		out[i] = !m
	}
	return out
}

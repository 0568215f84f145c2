// Package diff сравнивает наборы транзакционных строк: покомпонентный diff
// двух Frame и поиск строк, покрываемых (subsumed) уже сохраненными строками.
package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// ErrNoKeyFields - не заданы ключевые поля
var ErrNoKeyFields = errors.New("diff: no key fields specified")

// DiffResult представляет результат сравнения двух наборов
type DiffResult struct {
	Added    *frame.Frame  // Строки B без пары в A
	Removed  *frame.Frame  // Строки A без пары в B
	Modified []ModifiedRow // Пары с различиями в сравниваемых полях
	Stats    DiffStats     // Статистика
}

// ModifiedRow представляет измененную строку
type ModifiedRow struct {
	Key     string        // Ключ строки в читаемом виде
	IndexA  int           // Позиция строки в A
	IndexB  int           // Позиция строки в B
	Changes []FieldChange // Изменения по полям
}

// FieldChange представляет изменение одного поля
type FieldChange struct {
	FieldName string
	OldValue  any
	NewValue  any
}

// DiffStats содержит статистику сравнения
type DiffStats struct {
	TotalInA       int
	TotalInB       int
	AddedCount     int
	RemovedCount   int
	ModifiedCount  int
	UnchangedCount int
}

// DiffOptions опции для сравнения
type DiffOptions struct {
	// KeyFields - поля для идентификации строк
	KeyFields []string

	// CompareFields - сравниваемые поля (по умолчанию все общие поля кроме ключевых)
	CompareFields []string

	// IgnoreFields - игнорировать эти поля при сравнении
	IgnoreFields []string
}

// Differ выполняет сравнение наборов
type Differ struct {
	options DiffOptions
}

// NewDiffer создает новый Differ
func NewDiffer(options DiffOptions) *Differ {
	return &Differ{options: options}
}

// Compare сравнивает наборы A и B. Внутри группы одинаковых ключей строки
// сопоставляются по порядку, лишние строки попадают в Added/Removed.
func (d *Differ) Compare(a, b *frame.Frame) (*DiffResult, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("frames cannot be nil")
	}
	keys := d.options.KeyFields
	if len(keys) == 0 {
		return nil, ErrNoKeyFields
	}
	for _, k := range keys {
		if (!a.Empty() && a.Index(k) < 0) || (!b.Empty() && b.Index(k) < 0) {
			return nil, fmt.Errorf("diff: key field %q missing", k)
		}
	}
	compare := d.compareFields(a, b)

	result := &DiffResult{
		Stats: DiffStats{TotalInA: a.Len(), TotalInB: b.Len()},
	}
	pairedA := make([]bool, a.Len())
	pairedB := make([]bool, b.Len())

	groupsB, _ := b.Groups(keys)
	groupsA, keysA := a.Groups(keys)
	for _, key := range keysA {
		idxB, ok := groupsB[key]
		if !ok {
			continue
		}
		idxA := groupsA[key]
		for k := 0; k < min(len(idxA), len(idxB)); k++ {
			ia, ib := idxA[k], idxB[k]
			pairedA[ia], pairedB[ib] = true, true
			if changes := changedFields(a, ia, b, ib, compare); len(changes) > 0 {
				result.Modified = append(result.Modified, ModifiedRow{
					Key:     readableKey(a, ia, keys),
					IndexA:  ia,
					IndexB:  ib,
					Changes: changes,
				})
				continue
			}
			result.Stats.UnchangedCount++
		}
	}

	result.Removed = a.Filter(not(pairedA))
	result.Added = b.Filter(not(pairedB))
	result.Stats.AddedCount = result.Added.Len()
	result.Stats.RemovedCount = result.Removed.Len()
	result.Stats.ModifiedCount = len(result.Modified)
	return result, nil
}

// compareFields возвращает поля для сравнения значений
func (d *Differ) compareFields(a, b *frame.Frame) []string {
	skip := make(map[string]bool)
	for _, f := range d.options.IgnoreFields {
		skip[f] = true
	}
	for _, f := range d.options.KeyFields {
		skip[f] = true
	}

	var fields []string
	if len(d.options.CompareFields) > 0 {
		for _, f := range d.options.CompareFields {
			if !skip[f] {
				fields = append(fields, f)
			}
		}
		return fields
	}
	for _, f := range a.Columns {
		if !skip[f] && b.Index(f) >= 0 {
			fields = append(fields, f)
		}
	}
	return fields
}

func changedFields(a *frame.Frame, ia int, b *frame.Frame, ib int, fields []string) []FieldChange {
	var changes []FieldChange
	for _, f := range fields {
		va, vb := a.Value(ia, f), b.Value(ib, f)
		if !frame.Equal(va, vb) {
			changes = append(changes, FieldChange{FieldName: f, OldValue: va, NewValue: vb})
		}
	}
	return changes
}

// Covers сообщает, что все непустые значения строки i набора f по полям
// fields совпадают со значениями строки j набора ref
func Covers(f *frame.Frame, i int, ref *frame.Frame, j int, fields []string) bool {
	for _, c := range fields {
		v := f.Value(i, c)
		if frame.IsNull(v) {
			continue
		}
		if !frame.Equal(v, ref.Value(j, c)) {
			return false
		}
	}
	return true
}

// Subsumed для каждой строки candidates возвращает позицию первой строки
// reference с тем же ключом keys, покрывающей ее по fields, либо -1.
// Строки reference не поглощаются: одна строка может покрыть несколько кандидатов.
func Subsumed(candidates, reference *frame.Frame, keys, fields []string) []int {
	out := make([]int, candidates.Len())
	for i := range out {
		out[i] = -1
	}
	if candidates.Empty() || reference.Empty() {
		return out
	}

	groups, _ := reference.Groups(keys)
	for i := range candidates.Rows {
		for _, j := range groups[candidates.Key(i, keys)] {
			if Covers(candidates, i, reference, j, fields) {
				out[i] = j
				break
			}
		}
	}
	return out
}

// FormatText форматирует результат в текстовый вид
func (r *DiffResult) FormatText() string {
	var sb strings.Builder

	sb.WriteString("=== Diff Statistics ===\n")
	sb.WriteString(fmt.Sprintf("Total in A: %d\n", r.Stats.TotalInA))
	sb.WriteString(fmt.Sprintf("Total in B: %d\n", r.Stats.TotalInB))
	sb.WriteString(fmt.Sprintf("Added:      %d\n", r.Stats.AddedCount))
	sb.WriteString(fmt.Sprintf("Removed:    %d\n", r.Stats.RemovedCount))
	sb.WriteString(fmt.Sprintf("Modified:   %d\n", r.Stats.ModifiedCount))
	sb.WriteString(fmt.Sprintf("Unchanged:  %d\n\n", r.Stats.UnchangedCount))

	if r.Added.Len() > 0 {
		sb.WriteString(fmt.Sprintf("=== Added (%d) ===\n", r.Added.Len()))
		for _, row := range r.Added.Rows {
			sb.WriteString("+ " + formatRow(row) + "\n")
		}
		sb.WriteString("\n")
	}

	if r.Removed.Len() > 0 {
		sb.WriteString(fmt.Sprintf("=== Removed (%d) ===\n", r.Removed.Len()))
		for _, row := range r.Removed.Rows {
			sb.WriteString("- " + formatRow(row) + "\n")
		}
		sb.WriteString("\n")
	}

	if len(r.Modified) > 0 {
		sb.WriteString(fmt.Sprintf("=== Modified (%d) ===\n", len(r.Modified)))
		for _, mod := range r.Modified {
			sb.WriteString(fmt.Sprintf("~ Key: %s\n", mod.Key))
			for _, change := range mod.Changes {
				sb.WriteString(fmt.Sprintf("  %s: '%v' → '%v'\n", change.FieldName, change.OldValue, change.NewValue))
			}
		}
	}

	return sb.String()
}

// IsEqual проверяет идентичность данных
func (r *DiffResult) IsEqual() bool {
	return r.Stats.AddedCount == 0 &&
		r.Stats.RemovedCount == 0 &&
		r.Stats.ModifiedCount == 0
}

func readableKey(f *frame.Frame, i int, keys []string) string {
	parts := make([]string, len(keys))
	for j, k := range keys {
		parts[j] = fmt.Sprint(f.Value(i, k))
	}
	return strings.Join(parts, "|")
}

func formatRow(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		if frame.IsNull(v) {
			parts[i] = "NULL"
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " | ")
}

func not(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, m := range mask {
		out[i] = !m
	}
	return out
}

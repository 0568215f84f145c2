// Package ledger ведет почасовой учет числа строк процесса в хранилище и в
// файлах резервных копий. Каждая операция (импорт, backup, restore) пишет
// дельты; сумма дельт по цели равна числу строк в этой цели.
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// Target - место хранения строк
type Target string

const (
	TargetDB   Target = "db"
	TargetFile Target = "file"
)

// Delta - изменение числа строк процесса за один час
type Delta struct {
	ProcessID int64
	Target    Target
	At        time.Time // Усекается до часа UTC
	Count     int64     // Может быть отрицательным
}

// Hour возвращает час дельты (UTC, усеченный)
func (d Delta) Hour() time.Time {
	return d.At.UTC().Truncate(time.Hour)
}

// Ledger принимает дельты числа строк
type Ledger interface {
	Add(ctx context.Context, d Delta) error
}

// Nop - ledger, игнорирующий дельты
type Nop struct{}

func (Nop) Add(context.Context, Delta) error { return nil }

// Multi рассылает дельты во все ledger. Ошибки объединяются.
type Multi []Ledger

func (m Multi) Add(ctx context.Context, d Delta) error {
	var errs []error
	for _, l := range m {
		if err := l.Add(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddAll записывает набор дельт, пропуская нулевые
func AddAll(ctx context.Context, l Ledger, deltas []Delta) error {
	if l == nil {
		return nil
	}
	for _, d := range deltas {
		if d.Count == 0 {
			continue
		}
		if err := l.Add(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Hourly строит дельты по часам времени в колонке timeCol.
// sign = +1 для добавленных строк, -1 для удаленных.
func Hourly(processID int64, target Target, f *frame.Frame, timeCol string, sign int64) []Delta {
	counts := make(map[time.Time]int64)
	for _, v := range f.Column(timeCol) {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}
		counts[t.UTC().Truncate(time.Hour)] += sign
	}

	hours := make([]time.Time, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make([]Delta, 0, len(hours))
	for _, h := range hours {
		out = append(out, Delta{ProcessID: processID, Target: target, At: h, Count: counts[h]})
	}
	return out
}

// Merge складывает дельты с одинаковыми процессом, целью и часом
func Merge(deltas ...[]Delta) []Delta {
	type key struct {
		pid    int64
		target Target
		hour   time.Time
	}
	sum := make(map[key]int64)
	var order []key
	for _, ds := range deltas {
		for _, d := range ds {
			k := key{d.ProcessID, d.Target, d.Hour()}
			if _, ok := sum[k]; !ok {
				order = append(order, k)
			}
			sum[k] += d.Count
		}
	}
	out := make([]Delta, 0, len(order))
	for _, k := range order {
		out = append(out, Delta{ProcessID: k.pid, Target: k.target, At: k.hour, Count: sum[k]})
	}
	return out
}

// Memory - ledger в памяти процесса
type Memory struct {
	mu     sync.Mutex
	counts map[memoryKey]map[time.Time]int64
}

type memoryKey struct {
	pid    int64
	target Target
}

// NewMemory создает пустой ledger в памяти
func NewMemory() *Memory {
	return &Memory{counts: make(map[memoryKey]map[time.Time]int64)}
}

func (m *Memory) Add(_ context.Context, d Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey{d.ProcessID, d.Target}
	if m.counts[k] == nil {
		m.counts[k] = make(map[time.Time]int64)
	}
	m.counts[k][d.Hour()] += d.Count
	return nil
}

// Total возвращает сумму дельт процесса по цели
func (m *Memory) Total(_ context.Context, processID int64, target Target) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, n := range m.counts[memoryKey{processID, target}] {
		total += n
	}
	return total, nil
}

// Hours возвращает копию почасовых сумм
func (m *Memory) Hours(processID int64, target Target) map[time.Time]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[time.Time]int64)
	for h, n := range m.counts[memoryKey{processID, target}] {
		out[h] = n
	}
	return out
}

// Totaler - ledger, умеющий вернуть итог по процессу
type Totaler interface {
	Total(ctx context.Context, processID int64, target Target) (int64, error)
}

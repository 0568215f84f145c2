package retry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DLQEntry - сутки резервного копирования или восстановления, которые не
// удалось перенести. Unit имеет вид "<op>/<process>/<yyyymmdd>", Data - ключ
// суток, по которому оператор повторяет перенос.
type DLQEntry struct {
	ID          string    `json:"id"`
	Unit        string    `json:"unit"`
	Timestamp   time.Time `json:"timestamp"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	FailureType string    `json:"failure_type"`
	Data        any       `json:"data,omitempty"`
}

// DLQ хранит непереносимые сутки в JSON-файле. Записи старше
// RetentionPeriod отбрасываются при открытии; успешный повтор суток
// снимает их записи (Resolve).
type DLQ struct {
	mu      sync.RWMutex
	config  DLQConfig
	entries []DLQEntry
}

// NewDLQ открывает очередь; отсутствующий файл - пустая очередь
func NewDLQ(config DLQConfig) (*DLQ, error) {
	d := &DLQ{config: config}
	if config.FilePath == "" {
		return d, nil
	}
	data, err := os.ReadFile(config.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retry: read DLQ %s: %w", config.FilePath, err)
	}
	if err := json.Unmarshal(data, &d.entries); err != nil {
		return nil, fmt.Errorf("retry: parse DLQ %s: %w", config.FilePath, err)
	}
	if d.expire(time.Now()) > 0 {
		if err := d.save(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add добавляет запись; при переполнении вытесняются самые старые
func (d *DLQ) Add(entry DLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry.ID = uuid.NewString()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	d.entries = append(d.entries, entry)
	if n := d.config.MaxSize; n > 0 && len(d.entries) > n {
		d.entries = slices.Delete(d.entries, 0, len(d.entries)-n)
	}
	return d.save()
}

// Resolve снимает все записи единицы и возвращает их число
func (d *DLQ) Resolve(unit string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := len(d.entries)
	d.entries = slices.DeleteFunc(d.entries, func(e DLQEntry) bool { return e.Unit == unit })
	removed := before - len(d.entries)
	if removed == 0 {
		return 0, nil
	}
	return removed, d.save()
}

// Get возвращает копию всех записей
func (d *DLQ) Get() []DLQEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.entries)
}

// ByUnit возвращает записи единицы
func (d *DLQ) ByUnit(unit string) []DLQEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []DLQEntry
	for _, e := range d.entries {
		if e.Unit == unit {
			out = append(out, e)
		}
	}
	return out
}

// Size возвращает число записей
func (d *DLQ) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Save сохраняет очередь в файл
func (d *DLQ) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save()
}

func (d *DLQ) expire(now time.Time) int {
	if d.config.RetentionPeriod <= 0 {
		return 0
	}
	cutoff := now.Add(-d.config.RetentionPeriod)
	before := len(d.entries)
	d.entries = slices.DeleteFunc(d.entries, func(e DLQEntry) bool { return e.Timestamp.Before(cutoff) })
	return before - len(d.entries)
}

func (d *DLQ) save() error {
	if d.config.FilePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(d.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("retry: encode DLQ: %w", err)
	}
	if err := os.WriteFile(d.config.FilePath, data, 0o644); err != nil {
		return fmt.Errorf("retry: write DLQ %s: %w", d.config.FilePath, err)
	}
	return nil
}

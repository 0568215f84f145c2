package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/dedup"
	"github.com/ruslano69/bridgestation/pkg/process"
)

// OverlapRecord - строка CSV с парой точных дубликатов
type OverlapRecord struct {
	At           time.Time `csv:"at"`
	ProcessID    int64     `csv:"process_id"`
	ExistingID   string    `csv:"existing_id"`
	DataSourceID string    `csv:"data_source_id,omitempty"`
	Row          string    `csv:"row"` // JSON входящей строки
}

// OverlapCSV дописывает пары точных дубликатов в CSV-файл
type OverlapCSV struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	enc  *csvutil.Encoder
	now  func() time.Time
}

var _ dedup.OverlapSink = (*OverlapCSV)(nil)

// NewOverlapCSV открывает файл на дозапись; заголовок пишется только в пустой файл
func NewOverlapCSV(path string) (*OverlapCSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: stat %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = info.Size() == 0
	return &OverlapCSV{file: f, w: w, enc: enc, now: time.Now}, nil
}

// Overlap пишет по строке на пару. Колонки pairs, кроме id-колонок,
// сериализуются в поле row.
func (o *OverlapCSV) Overlap(_ context.Context, processID int64, pairs *frame.Frame) error {
	if pairs.Empty() {
		return nil
	}
	at := o.now().UTC()

	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < pairs.Len(); i++ {
		row := make(map[string]any, len(pairs.Columns))
		for _, col := range pairs.Columns {
			if col == dedup.ColExistingID || col == process.ColID {
				continue
			}
			row[col] = pairs.Value(i, col)
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("audit: marshal overlap row: %w", err)
		}
		rec := OverlapRecord{
			At:         at,
			ProcessID:  processID,
			ExistingID: cell(pairs.Value(i, dedup.ColExistingID)),
			Row:        string(data),
		}
		if pairs.Has(process.ColDataSourceID) {
			rec.DataSourceID = cell(pairs.Value(i, process.ColDataSourceID))
		}
		if err := o.enc.Encode(rec); err != nil {
			return fmt.Errorf("audit: encode overlap: %w", err)
		}
	}
	o.w.Flush()
	if err := o.w.Error(); err != nil {
		return fmt.Errorf("audit: write overlap: %w", err)
	}
	return nil
}

func (o *OverlapCSV) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.w.Flush()
	if err := o.w.Error(); err != nil {
		o.file.Close()
		return err
	}
	return o.file.Close()
}

func cell(v any) string {
	if frame.IsNull(v) {
		return ""
	}
	return fmt.Sprint(v)
}

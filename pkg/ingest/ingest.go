// Package ingest читает партии транзакций из файлов CSV и XLSX в Frame.
//
// Заголовок колонки - имя или "имя (ТИП)", как в выгрузках XLSX. Значения
// типизированных колонок разбираются при чтении, остальные остаются строками
// и приводятся к типам процесса при импорте. Пустая ячейка - NULL.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

var (
	// ErrEmpty - в файле нет заголовка
	ErrEmpty = errors.New("ingest: no header")
	// ErrUnsupportedFormat - расширение файла не распознано
	ErrUnsupportedFormat = errors.New("ingest: unsupported file format")
)

// Options - параметры чтения
type Options struct {
	Comma rune   // Разделитель CSV; 0 - запятая (для .tsv - табуляция)
	Sheet string // Лист XLSX; пусто - первый лист
}

// ReadFile читает файл, выбирая формат по расширению
func ReadFile(path string, opts Options) (*frame.Frame, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".txt", ".tsv":
	case ".xlsx", ".xlsm":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %q: %w", path, err)
	}
	defer file.Close()

	if ext == ".xlsx" || ext == ".xlsm" {
		return ReadXLSX(file, opts)
	}
	if ext == ".tsv" && opts.Comma == 0 {
		opts.Comma = '\t'
	}
	return ReadCSV(file, opts)
}

type column struct {
	name  string
	typ   schema.DataType
	typed bool
}

// parseHeader разбирает "name", "name (TYPE)" или "name (TYPE) *".
// Неизвестный тип в скобках считается частью имени.
func parseHeader(header string) column {
	header = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(header), " *"))
	open, end := strings.LastIndex(header, "("), strings.LastIndex(header, ")")
	if open > 0 && end == len(header)-1 && end > open {
		t := schema.DataType(strings.ToUpper(strings.TrimSpace(header[open+1 : end])))
		if schema.IsValidType(t) {
			return column{name: strings.TrimSpace(header[:open]), typ: t, typed: true}
		}
	}
	return column{name: header}
}

// table накапливает строки файла
type table struct {
	cols []column
	conv *schema.Converter
	out  *frame.Frame
}

func newTable(header []string) (*table, error) {
	if len(header) == 0 {
		return nil, ErrEmpty
	}
	cols := make([]column, len(header))
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for j, h := range header {
		c := parseHeader(h)
		if c.name == "" {
			return nil, fmt.Errorf("ingest: column %d has no name", j+1)
		}
		if seen[c.name] {
			return nil, fmt.Errorf("ingest: duplicate column %q", c.name)
		}
		seen[c.name] = true
		cols[j], names[j] = c, c.name
	}
	return &table{cols: cols, conv: schema.NewConverter(), out: frame.New(names...)}, nil
}

// add добавляет строку файла с номером row. Строка без значений пропускается.
func (t *table) add(row int, record []string) error {
	values := make([]any, len(t.cols))
	empty := true
	for j, c := range t.cols {
		if j >= len(record) || record[j] == "" {
			continue
		}
		empty = false
		if !c.typed {
			values[j] = record[j]
			continue
		}
		tv, err := t.conv.ParseValue(record[j], schema.FieldDef{Name: c.name, Type: c.typ, Nullable: true})
		if err != nil {
			return fmt.Errorf("ingest: row %d column %s: %w", row, c.name, err)
		}
		values[j] = tv.Value()
	}
	if !empty {
		t.out.Append(values...)
	}
	return nil
}

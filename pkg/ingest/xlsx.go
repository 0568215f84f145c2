package ingest

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/packet"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// ReadXLSX читает лист книги XLSX. Первая строка - заголовок.
// Ячейки с форматом даты возвращаются как время UTC.
func ReadXLSX(r io.Reader, opts Options) (*frame.Frame, error) {
	x, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: open XLSX: %w", err)
	}
	defer x.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = x.GetSheetName(0)
	}
	rows, err := x.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("ingest: read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	t, err := newTable(rows[0])
	if err != nil {
		return nil, err
	}
	for i, record := range rows[1:] {
		row := i + 2
		for j, raw := range record {
			if raw == "" || j >= len(t.cols) {
				continue
			}
			record[j], err = dateCell(x, sheet, j+1, row, raw, t.cols[j])
			if err != nil {
				return nil, fmt.Errorf("ingest: row %d column %s: %w", row, t.cols[j].name, err)
			}
		}
		if err := t.add(row, record); err != nil {
			return nil, err
		}
	}
	return t.out, nil
}

// dateCell переводит серийный номер даты Excel в RFC 3339.
// Остальные значения возвращаются без изменений.
func dateCell(x *excelize.File, sheet string, col, row int, raw string, c column) (string, error) {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}
	if c.typed && !schema.IsDateTimeType(c.typ) {
		return raw, nil
	}
	if !c.typed {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return "", err
		}
		date, err := hasDateFormat(x, sheet, cell)
		if err != nil || !date {
			return raw, err
		}
	}

	ts, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", err
	}
	return ts.Round(time.Millisecond).UTC().Format(time.RFC3339Nano), nil
}

func hasDateFormat(x *excelize.File, sheet, cell string) (bool, error) {
	id, err := x.GetCellStyle(sheet, cell)
	if err != nil || id == 0 {
		return false, err
	}
	style, err := x.GetStyle(id)
	if err != nil {
		return false, err
	}
	if style.CustomNumFmt != nil {
		f := strings.ToLower(*style.CustomNumFmt)
		return strings.Contains(f, "yy") || strings.Contains(f, "dd") || strings.Contains(f, "hh"), nil
	}
	// Встроенные форматы даты и времени
	n := style.NumFmt
	return (n >= 14 && n <= 22) || (n >= 45 && n <= 47), nil
}

// WriteXLSX пишет Frame на лист sheet. Заголовки - "имя (ТИП)",
// типы выводятся по значениям колонок.
func WriteXLSX(w io.Writer, f *frame.Frame, sheet string) error {
	x := excelize.NewFile()
	defer x.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if sheet != "Sheet1" {
		if err := x.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("ingest: create sheet: %w", err)
		}
	}

	headerStyle, err := x.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("ingest: header style: %w", err)
	}

	fields := packet.FieldsOf(f)
	for j, field := range fields {
		cell, err := excelize.CoordinatesToCellName(j+1, 1)
		if err != nil {
			return err
		}
		if err := x.SetCellValue(sheet, cell, fmt.Sprintf("%s (%s)", field.Name, field.Type)); err != nil {
			return fmt.Errorf("ingest: write header: %w", err)
		}
		x.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, row := range f.Rows {
		for j, v := range row {
			if frame.IsNull(v) {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if b, ok := v.([]byte); ok {
				v = base64.StdEncoding.EncodeToString(b)
			}
			if err := x.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("ingest: write %s: %w", cell, err)
			}
		}
	}

	last, _ := excelize.ColumnNumberToName(max(len(fields), 1))
	x.SetColWidth(sheet, "A", last, 15)

	if _, err := x.WriteTo(w); err != nil {
		return fmt.Errorf("ingest: write XLSX: %w", err)
	}
	return nil
}

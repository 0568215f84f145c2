package packet

import (
	"fmt"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// FromFrame упаковывает Frame в пакет. Значения форматируются по типам fields;
// колонки Frame, отсутствующие в fields, не попадают в пакет.
func FromFrame(msgType MessageType, tableName string, fields []Field, f *frame.Frame) (*DataPacket, error) {
	converter := schema.NewConverter()
	pkt := NewDataPacket(msgType, tableName)
	pkt.Schema = Schema{Fields: fields}

	rows := make([][]string, f.Len())
	for i := range f.Rows {
		row := make([]string, len(fields))
		for j, field := range fields {
			tv, err := converter.FromValue(f.Value(i, field.Name), schema.DataType(field.Type))
			if err != nil {
				return nil, fmt.Errorf("row %d field %s: %w", i, field.Name, err)
			}
			row[j] = converter.FormatValue(tv)
		}
		rows[i] = row
	}

	pkt.SetRows(rows)
	return pkt, nil
}

// ToFrame распаковывает строки пакета в типизированный Frame
func (p *DataPacket) ToFrame() (*frame.Frame, error) {
	rows, err := p.GetRows()
	if err != nil {
		return nil, err
	}

	converter := schema.NewConverter()
	cols := make([]string, len(p.Schema.Fields))
	defs := make([]schema.FieldDef, len(p.Schema.Fields))
	for i, field := range p.Schema.Fields {
		cols[i] = field.Name
		defs[i] = schema.FieldDef{
			Name:      field.Name,
			Type:      schema.DataType(field.Type),
			Precision: field.Precision,
			Nullable:  !field.Key,
		}
	}

	out := frame.New(cols...)
	for i, raw := range rows {
		if len(raw) != len(defs) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d fields", i, len(raw), len(defs))
		}
		values := make([]any, len(defs))
		for j, def := range defs {
			tv, err := converter.ParseValue(raw[j], def)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			values[j] = tv.Value()
		}
		out.Append(values...)
	}
	return out, nil
}

// FieldsOf строит поля по колонкам Frame; тип выводится по первому непустому
// значению колонки, колонка без значений становится TEXT.
func FieldsOf(f *frame.Frame) []Field {
	fields := make([]Field, len(f.Columns))
	for j, col := range f.Columns {
		t := schema.TypeText
		for _, row := range f.Rows {
			if frame.IsNull(row[j]) {
				continue
			}
			t = schema.TypeOf(row[j])
			break
		}
		fields[j] = Field{Name: col, Type: string(t)}
	}
	return fields
}

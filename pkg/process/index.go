package process

import (
	"fmt"
	"strings"

	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// IndexColumn - одна колонка индекса, возможно с подстрокой
type IndexColumn struct {
	Column string
	Substr *Substring
	// AsText - нетекстовая колонка под подстрокой неявно приводится к тексту
	AsText bool
}

// Signature возвращает каноническое представление колонки индекса
func (c IndexColumn) Signature() string {
	if c.Substr == nil {
		return c.Column
	}
	return fmt.Sprintf("substr(%s,%d,%d)", c.Column, c.Substr.From, c.Substr.Length)
}

// IndexDescriptor - один физический индекс по одной или нескольким колонкам
type IndexDescriptor struct {
	Columns []IndexColumn
}

// Signature возвращает подпись индекса, по которой строится его имя
func (d IndexDescriptor) Signature() string {
	parts := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		parts[i] = c.Signature()
	}
	return strings.Join(parts, ",")
}

// Single сообщает, что индекс по одной колонке без преобразований
func (d IndexDescriptor) Single() bool {
	return len(d.Columns) == 1 && d.Columns[0].Substr == nil
}

// IndexDescriptors возвращает индексы, которые должны существовать на таблице:
// индексы по factory_machine_id, product_part_id и get-date, затем индексы
// trace-связей. Для исходящих связей берутся собственные колонки (с подстрокой),
// для входящих - целевые колонки этого процесса. Дубликаты по подписи отбрасываются.
func (s *Schema) IndexDescriptors() []IndexDescriptor {
	var out []IndexDescriptor
	seen := make(map[string]bool)
	add := func(d IndexDescriptor) {
		if len(d.Columns) == 0 {
			return
		}
		sig := d.Signature()
		if seen[sig] {
			return
		}
		seen[sig] = true
		out = append(out, d)
	}

	add(single(ColFactoryMachineID))
	add(single(ColProductPartID))
	if c, err := s.GetDate(); err == nil {
		add(single(c.Name))
	}

	for _, tr := range s.Traces {
		var d IndexDescriptor
		for _, k := range tr.Keys {
			c, ok := s.Column(k.Self)
			if !ok || !c.Physical() {
				continue
			}
			ic := IndexColumn{Column: c.Name, Substr: k.Substr}
			ic.AsText = k.Substr != nil && !schema.IsTextType(c.Type)
			d.Columns = append(d.Columns, ic)
		}
		add(d)
	}

	for _, tr := range s.Inbound {
		var d IndexDescriptor
		for _, k := range tr.Keys {
			c, ok := s.Column(k.Target)
			if !ok || !c.Physical() {
				continue
			}
			d.Columns = append(d.Columns, IndexColumn{Column: c.Name})
		}
		add(d)
	}
	return out
}

func single(col string) IndexDescriptor {
	return IndexDescriptor{Columns: []IndexColumn{{Column: col}}}
}

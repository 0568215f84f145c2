// Package process описывает динамическую схему процесса: набор типизированных
// колонок с семантическими ролями и объявленные trace-связи с другими процессами.
// Схема разрешается один раз на операцию и передается явно.
package process

import (
	"fmt"
	"strconv"

	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// Системные колонки транзакционной таблицы
const (
	ColID               = "id"
	ColFactoryMachineID = "factory_machine_id"
	ColProductPartID    = "product_part_id"
	ColMergeFlag        = "merge_flag"
	ColDataSourceID     = "data_source_id"
)

// SystemColumns - системные колонки в порядке создания
var SystemColumns = []schema.FieldDef{
	{Name: ColID, Type: schema.TypeBigint},
	{Name: ColFactoryMachineID, Type: schema.TypeBigint, Nullable: true},
	{Name: ColProductPartID, Type: schema.TypeBigint, Nullable: true},
	{Name: ColMergeFlag, Type: schema.TypeInteger, Nullable: true},
	{Name: ColDataSourceID, Type: schema.TypeBigint, Nullable: true},
}

// IsSystemColumn проверяет, является ли колонка системной
func IsSystemColumn(name string) bool {
	for _, c := range SystemColumns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Column - дескриптор сконфигурированной колонки процесса
type Column struct {
	ID   string          `yaml:"id"`   // Идентификатор колонки в конфигурации (имя во входном пакете)
	Name string          `yaml:"name"` // Физическое имя колонки
	Type schema.DataType `yaml:"type"` // Объявленный логический тип

	Serial          bool `yaml:"serial"`
	GetDate         bool `yaml:"get_date"`
	MasterLinkage   bool `yaml:"master_linkage"`
	AutoIncrement   bool `yaml:"auto_increment"`
	FunctionDerived bool `yaml:"function_derived"`
	DataSourceName  bool `yaml:"data_source_name"`
	BooleanLike     bool `yaml:"boolean_like"`

	// Comparable переопределяет участие колонки в проверке точных дубликатов
	Comparable *bool `yaml:"comparable,omitempty"`
}

// Physical сообщает, хранится ли колонка в транзакционной таблице.
// Производные колонки и сырые колонки мастер-связи разрешаются выше по потоку.
func (c Column) Physical() bool {
	return !c.FunctionDerived && !c.MasterLinkage
}

// Def возвращает описание поля для конвертера
func (c Column) Def() schema.FieldDef {
	return schema.FieldDef{Name: c.Name, Type: c.Type, Nullable: !c.GetDate}
}

// Substring - границы подстроки (from с единицы, как в SQL)
type Substring struct {
	From   int `yaml:"from"`
	Length int `yaml:"length"`
}

// TraceKey - пара колонок trace-связи
type TraceKey struct {
	Self   string     `yaml:"self"`             // Колонка процесса, объявившего связь
	Target string     `yaml:"target"`           // Колонка целевого процесса
	Substr *Substring `yaml:"substr,omitempty"` // Подстрока колонки Self
}

// Trace - объявленная связь процесса Source с процессом Target
type Trace struct {
	Source int64      `yaml:"-"`
	Target int64      `yaml:"target"`
	Keys   []TraceKey `yaml:"keys"`
}

// Schema - схема одного процесса
type Schema struct {
	ID      int64    `yaml:"id"`
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
	Traces  []Trace  `yaml:"traces"`

	// Inbound - связи других процессов, нацеленные на этот процесс (заполняет Registry)
	Inbound []Trace `yaml:"-"`
}

// Table возвращает имя транзакционной таблицы процесса
func (s *Schema) Table() string {
	return "t_process_" + strconv.FormatInt(s.ID, 10)
}

// Sequence возвращает имя последовательности id
func (s *Schema) Sequence() string {
	return s.Table() + "_id_seq"
}

// Validate проверяет инварианты схемы
func (s *Schema) Validate() error {
	if s.ID <= 0 {
		return fmt.Errorf("%w: process id must be positive, got %d", ErrInvalidSchema, s.ID)
	}

	names := make(map[string]bool)
	ids := make(map[string]bool)
	getDates, serials := 0, 0
	for i, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: column %d has no name", ErrInvalidSchema, i)
		}
		if !schema.IsValidType(c.Type) {
			return fmt.Errorf("%w: column %s has unknown type %q", ErrInvalidSchema, c.Name, c.Type)
		}
		if IsSystemColumn(c.Name) {
			return fmt.Errorf("%w: column %s collides with a system column", ErrInvalidSchema, c.Name)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidSchema, c.Name)
		}
		names[c.Name] = true
		if c.ID != "" {
			if ids[c.ID] {
				return fmt.Errorf("%w: duplicate column id %s", ErrInvalidSchema, c.ID)
			}
			ids[c.ID] = true
		}

		if c.GetDate {
			getDates++
			if !schema.IsDateTimeType(c.Type) {
				return fmt.Errorf("%w: get-date column %s must be a date/time type, got %s", ErrInvalidSchema, c.Name, c.Type)
			}
			if !c.Physical() {
				return fmt.Errorf("%w: get-date column %s must be physical", ErrInvalidSchema, c.Name)
			}
		}
		if c.Serial {
			serials++
		}
	}

	if getDates == 0 {
		return fmt.Errorf("process %d: %w", s.ID, ErrNoGetDate)
	}
	if getDates > 1 {
		return fmt.Errorf("%w: process %d has %d get-date columns", ErrInvalidSchema, s.ID, getDates)
	}
	if serials > 1 {
		return fmt.Errorf("%w: process %d has %d serial columns", ErrInvalidSchema, s.ID, serials)
	}

	for _, tr := range s.Traces {
		for _, k := range tr.Keys {
			c, ok := s.Column(k.Self)
			if !ok || !c.Physical() {
				return fmt.Errorf("%w: trace to process %d references unknown column %q", ErrInvalidSchema, tr.Target, k.Self)
			}
			if k.Substr != nil && (k.Substr.From < 1 || k.Substr.Length < 1) {
				return fmt.Errorf("%w: trace column %s has invalid substring bounds", ErrInvalidSchema, k.Self)
			}
		}
	}
	return nil
}

// Column возвращает колонку по физическому имени
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// GetDate возвращает колонку get-date
func (s *Schema) GetDate() (Column, error) {
	for _, c := range s.Columns {
		if c.GetDate {
			return c, nil
		}
	}
	return Column{}, fmt.Errorf("process %d: %w", s.ID, ErrNoGetDate)
}

// Serial возвращает колонку серийного номера, если она есть
func (s *Schema) Serial() (Column, bool) {
	for _, c := range s.Columns {
		if c.Serial && c.Physical() {
			return c, true
		}
	}
	return Column{}, false
}

// PhysicalColumns возвращает бизнес-колонки, хранимые в таблице
func (s *Schema) PhysicalColumns() []Column {
	var out []Column
	for _, c := range s.Columns {
		if c.Physical() {
			out = append(out, c)
		}
	}
	return out
}

// StoredColumns возвращает имена всех колонок таблицы: системные, затем бизнес-колонки
func (s *Schema) StoredColumns() []string {
	out := make([]string, 0, len(SystemColumns)+len(s.Columns))
	for _, c := range SystemColumns {
		out = append(out, c.Name)
	}
	for _, c := range s.PhysicalColumns() {
		out = append(out, c.Name)
	}
	return out
}

// FieldDefs возвращает описания всех колонок таблицы
func (s *Schema) FieldDefs() []schema.FieldDef {
	out := append([]schema.FieldDef(nil), SystemColumns...)
	for _, c := range s.PhysicalColumns() {
		out = append(out, c.Def())
	}
	return out
}

// MasterKeys возвращает колонки мастер-ключа:
// factory_machine_id, product_part_id, серийный номер и get-date
func (s *Schema) MasterKeys() []string {
	keys := []string{ColFactoryMachineID, ColProductPartID}
	if c, ok := s.Serial(); ok {
		keys = append(keys, c.Name)
	}
	if c, err := s.GetDate(); err == nil {
		keys = append(keys, c.Name)
	}
	return keys
}

// ComparablePredicate решает, участвует ли колонка в проверке точных дубликатов
type ComparablePredicate func(Column) bool

// DefaultComparable - колонка сравнивается, если она не производная,
// не имя источника данных и не автоинкремент. Явный Comparable имеет приоритет.
func DefaultComparable(c Column) bool {
	if c.Comparable != nil {
		return *c.Comparable
	}
	return !c.FunctionDerived && !c.DataSourceName && !c.AutoIncrement
}

// ComparableColumns возвращает мастер-ключи и сравниваемые бизнес-колонки.
// Системные id, merge_flag и data_source_id не сравниваются никогда.
func (s *Schema) ComparableColumns(pred ComparablePredicate) []string {
	if pred == nil {
		pred = DefaultComparable
	}
	out := s.MasterKeys()
	seen := make(map[string]bool, len(out))
	for _, k := range out {
		seen[k] = true
	}
	for _, c := range s.PhysicalColumns() {
		if seen[c.Name] || !pred(c) {
			continue
		}
		seen[c.Name] = true
		out = append(out, c.Name)
	}
	return out
}

// RenameMap возвращает соответствие идентификатор конфигурации -> физическое имя.
// Физические имена отображаются сами на себя.
func (s *Schema) RenameMap() map[string]string {
	m := make(map[string]string, len(s.Columns)*2)
	for _, c := range s.PhysicalColumns() {
		m[c.Name] = c.Name
		if c.ID != "" {
			m[c.ID] = c.Name
		}
	}
	for _, c := range SystemColumns {
		m[c.Name] = c.Name
	}
	return m
}

package schema

import (
	"fmt"
	"time"
)

// DataType представляет логический тип колонки процесса
type DataType string

// Поддерживаемые логические типы
const (
	TypeInteger   DataType = "INTEGER"
	TypeInt       DataType = "INT"
	TypeBigint    DataType = "BIGINT"
	TypeReal      DataType = "REAL"
	TypeFloat     DataType = "FLOAT"
	TypeDouble    DataType = "DOUBLE"
	TypeDecimal   DataType = "DECIMAL"
	TypeText      DataType = "TEXT"
	TypeVarchar   DataType = "VARCHAR"
	TypeString    DataType = "STRING"
	TypeBoolean   DataType = "BOOLEAN"
	TypeBool      DataType = "BOOL"
	TypeDate      DataType = "DATE"
	TypeDatetime  DataType = "DATETIME"
	TypeTimestamp DataType = "TIMESTAMP"
	TypeBlob      DataType = "BLOB"

	// TypeCategory - текстовое значение, хранимое как ссылка на общий справочник m_category
	TypeCategory DataType = "CATEGORY"
)

// TypedValue представляет типизированное значение
type TypedValue struct {
	Type        DataType
	RawValue    string
	IsNull      bool
	IntValue    *int64
	FloatValue  *float64
	StringValue *string
	BoolValue   *bool
	TimeValue   *time.Time
	BlobValue   []byte
}

// Value возвращает значение в виде, принятом во frame.Frame
// (int64, float64, string, bool, time.Time, []byte или nil)
func (tv *TypedValue) Value() any {
	switch {
	case tv == nil || tv.IsNull:
		return nil
	case tv.IntValue != nil:
		return *tv.IntValue
	case tv.FloatValue != nil:
		return *tv.FloatValue
	case tv.BoolValue != nil:
		return *tv.BoolValue
	case tv.TimeValue != nil:
		return *tv.TimeValue
	case tv.StringValue != nil:
		return *tv.StringValue
	case tv.BlobValue != nil:
		return tv.BlobValue
	}
	return nil
}

// FieldDef описание колонки для конвертации значений
type FieldDef struct {
	Name      string
	Type      DataType
	Length    int
	Precision int
	Scale     int
	Nullable  bool
}

// ValidationError ошибка валидации значения
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: '%s')",
		e.Field, e.Message, e.Value)
}

// IsTextType проверяет является ли тип текстовым
func IsTextType(t DataType) bool {
	switch NormalizeType(t) {
	case TypeText, TypeCategory:
		return true
	default:
		return false
	}
}

// IsDateTimeType проверяет является ли тип временным
func IsDateTimeType(t DataType) bool {
	switch NormalizeType(t) {
	case TypeDate, TypeDatetime, TypeTimestamp:
		return true
	default:
		return false
	}
}

// NormalizeType нормализует синонимы типов
func NormalizeType(t DataType) DataType {
	switch t {
	case TypeInt:
		return TypeInteger
	case TypeFloat, TypeDouble:
		return TypeReal
	case TypeVarchar, TypeString:
		return TypeText
	case TypeBool:
		return TypeBoolean
	default:
		return t
	}
}

// IsValidType проверяет валидность типа данных
func IsValidType(t DataType) bool {
	switch NormalizeType(t) {
	case TypeInteger, TypeBigint, TypeReal, TypeDecimal, TypeText, TypeCategory,
		TypeBoolean, TypeDate, TypeDatetime, TypeTimestamp, TypeBlob:
		return true
	default:
		return false
	}
}

// TypeOf выводит логический тип по Go-значению; неизвестное - TEXT
func TypeOf(v any) DataType {
	switch v.(type) {
	case int, int32, int64:
		return TypeBigint
	case float32, float64:
		return TypeReal
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeTimestamp
	case []byte:
		return TypeBlob
	}
	return TypeText
}

// GetDefaultPrecision возвращает точность по умолчанию для DECIMAL
func GetDefaultPrecision() int {
	return 18
}

// GetDefaultScale возвращает масштаб по умолчанию для DECIMAL
func GetDefaultScale() int {
	return 6
}

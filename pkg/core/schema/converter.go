package schema

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// timeLayouts - форматы, в которых время приходит из CSV, XLSX, фидов и драйверов БД.
// Строки без зоны трактуются как UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05.999999999",
	"2006-01-02",
	"2006/01/02",
}

// Converter отвечает за конвертацию значений
type Converter struct{}

// NewConverter создает новый конвертер
func NewConverter() *Converter {
	return &Converter{}
}

// ParseValue парсит строковое значение из TDTP пакета согласно типу поля.
// В файлах резервных копий пустая строка означает NULL для всех типов,
// потому что при импорте пустой текст тоже приводится к NULL.
func (c *Converter) ParseValue(rawValue string, field FieldDef) (*TypedValue, error) {
	tv := &TypedValue{
		Type:     field.Type,
		RawValue: rawValue,
	}

	if rawValue == "" {
		tv.IsNull = true
		if !field.Nullable {
			return nil, &ValidationError{
				Field:   field.Name,
				Message: "field is not nullable",
				Value:   rawValue,
			}
		}
		return tv, nil
	}

	switch NormalizeType(field.Type) {
	case TypeInteger, TypeBigint:
		return c.parseInteger(tv, field)
	case TypeReal:
		return c.parseReal(tv, field)
	case TypeDecimal:
		return c.parseDecimal(tv, field)
	case TypeText, TypeCategory:
		return c.parseText(tv, field)
	case TypeBoolean:
		return c.parseBoolean(tv, field)
	case TypeDate:
		return c.parseDate(tv, field)
	case TypeDatetime, TypeTimestamp:
		return c.parseTimestamp(tv, field)
	case TypeBlob:
		return c.parseBlob(tv, field)
	default:
		return nil, &ValidationError{
			Field:   field.Name,
			Message: fmt.Sprintf("unsupported type: %s", field.Type),
			Value:   rawValue,
		}
	}
}

// parseInteger парсит INTEGER/BIGINT
func (c *Converter) parseInteger(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val, err := strconv.ParseInt(strings.TrimSpace(tv.RawValue), 10, 64)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid integer value",
			Value:   tv.RawValue,
		}
	}
	tv.IntValue = &val
	return tv, nil
}

// parseReal парсит REAL/FLOAT/DOUBLE
func (c *Converter) parseReal(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val, err := strconv.ParseFloat(strings.TrimSpace(tv.RawValue), 64)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid float value",
			Value:   tv.RawValue,
		}
	}
	tv.FloatValue = &val
	return tv, nil
}

// parseDecimal парсит DECIMAL (как float с проверкой precision)
func (c *Converter) parseDecimal(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	raw := strings.TrimSpace(tv.RawValue)
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid decimal value",
			Value:   tv.RawValue,
		}
	}

	precision := field.Precision
	if precision == 0 {
		precision = GetDefaultPrecision()
	}
	digits := len(strings.NewReplacer("-", "", "+", "", ".", "").Replace(raw))
	if digits > precision {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: fmt.Sprintf("decimal precision exceeds %d", precision),
			Value:   tv.RawValue,
		}
	}

	tv.FloatValue = &val
	return tv, nil
}

// parseText парсит TEXT/CATEGORY
func (c *Converter) parseText(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val := tv.RawValue
	// Длина считается в символах, а не в байтах
	if field.Length > 0 && utf8.RuneCountInString(val) > field.Length {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: fmt.Sprintf("text length exceeds %d", field.Length),
			Value:   tv.RawValue,
		}
	}
	tv.StringValue = &val
	return tv, nil
}

// parseBoolean парсит BOOLEAN (0/1 и булевы слова)
func (c *Converter) parseBoolean(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val, err := ParseBool(tv.RawValue)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid boolean value",
			Value:   tv.RawValue,
		}
	}
	tv.BoolValue = &val
	return tv, nil
}

// parseDate парсит DATE, отбрасывая временную часть
func (c *Converter) parseDate(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val, err := ParseTime(tv.RawValue)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid date format, expected YYYY-MM-DD",
			Value:   tv.RawValue,
		}
	}
	val = time.Date(val.Year(), val.Month(), val.Day(), 0, 0, 0, 0, time.UTC)
	tv.TimeValue = &val
	return tv, nil
}

// parseTimestamp парсит DATETIME/TIMESTAMP (всегда UTC)
func (c *Converter) parseTimestamp(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val, err := ParseTime(tv.RawValue)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid timestamp format, expected RFC3339",
			Value:   tv.RawValue,
		}
	}
	val = val.UTC()
	tv.TimeValue = &val
	return tv, nil
}

// parseBlob парсит BLOB (Base64)
func (c *Converter) parseBlob(tv *TypedValue, field FieldDef) (*TypedValue, error) {
	val, err := base64.StdEncoding.DecodeString(tv.RawValue)
	if err != nil {
		return nil, &ValidationError{
			Field:   field.Name,
			Message: "invalid base64 encoding",
			Value:   tv.RawValue,
		}
	}
	tv.BlobValue = val
	return tv, nil
}

// FormatValue форматирует типизированное значение обратно в строку
func (c *Converter) FormatValue(tv *TypedValue) string {
	if tv == nil || tv.IsNull {
		return ""
	}

	switch NormalizeType(tv.Type) {
	case TypeInteger, TypeBigint:
		if tv.IntValue != nil {
			return strconv.FormatInt(*tv.IntValue, 10)
		}
	case TypeReal, TypeDecimal:
		if tv.FloatValue != nil {
			return strconv.FormatFloat(*tv.FloatValue, 'f', -1, 64)
		}
	case TypeText, TypeCategory:
		if tv.StringValue != nil {
			return *tv.StringValue
		}
	case TypeBoolean:
		if tv.BoolValue != nil {
			if *tv.BoolValue {
				return "1"
			}
			return "0"
		}
	case TypeDate:
		if tv.TimeValue != nil {
			return tv.TimeValue.Format("2006-01-02")
		}
	case TypeDatetime, TypeTimestamp:
		if tv.TimeValue != nil {
			return tv.TimeValue.UTC().Format(time.RFC3339Nano)
		}
	case TypeBlob:
		if tv.BlobValue != nil {
			return base64.StdEncoding.EncodeToString(tv.BlobValue)
		}
	}

	return tv.RawValue
}

// FromValue строит TypedValue из значения произвольного Go-типа,
// приводя его к логическому типу t
func (c *Converter) FromValue(v any, t DataType) (*TypedValue, error) {
	coerced, err := Coerce(v, t)
	if err != nil {
		return nil, err
	}
	tv := &TypedValue{Type: t}
	switch x := coerced.(type) {
	case nil:
		tv.IsNull = true
	case int64:
		tv.IntValue = &x
	case float64:
		tv.FloatValue = &x
	case string:
		tv.StringValue = &x
	case bool:
		tv.BoolValue = &x
	case time.Time:
		tv.TimeValue = &x
	case []byte:
		tv.BlobValue = x
	}
	return tv, nil
}

// Coerce приводит значение к Go-представлению логического типа t.
// Пустая строка и NaN становятся NULL.
func Coerce(v any, t DataType) (any, error) {
	if isNull(v) {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch NormalizeType(t) {
	case TypeInteger, TypeBigint:
		return coerceInt(v)
	case TypeReal, TypeDecimal:
		return coerceFloat(v)
	case TypeText, TypeCategory:
		return coerceText(v), nil
	case TypeBoolean:
		return ParseBool(v)
	case TypeDate:
		ts, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	case TypeDatetime, TypeTimestamp:
		return coerceTime(v)
	case TypeBlob:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func coerceInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("value %v is not an integer", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("invalid integer value %q", x)
		}
		return int64(f), nil
	case []byte:
		return coerceInt(string(x))
	}
	return nil, fmt.Errorf("cannot convert %T to integer", v)
}

func coerceFloat(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", x)
		}
		return f, nil
	case []byte:
		return coerceFloat(string(x))
	}
	return nil, fmt.Errorf("cannot convert %T to float", v)
}

func coerceText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func coerceTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		return ParseTime(x)
	case []byte:
		return ParseTime(string(x))
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
}

// ParseTime разбирает время в любом из поддерживаемых форматов и возвращает UTC
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time value %q", s)
}

// ParseBool приводит булево-подобное значение (1/0, true/false, yes/no, OK/NG) к bool
func ParseBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return boolFromInt(x)
	case int:
		return boolFromInt(int64(x))
	case float64:
		if x == math.Trunc(x) {
			return boolFromInt(int64(x))
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "t", "yes", "y", "on", "ok":
			return true, nil
		case "0", "false", "f", "no", "n", "off", "ng":
			return false, nil
		}
	}
	return false, fmt.Errorf("invalid boolean value %v", v)
}

func boolFromInt(n int64) (bool, error) {
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean value %d", n)
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	}
	return false
}

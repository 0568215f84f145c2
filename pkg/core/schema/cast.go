package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Регулярные выражения, которым должно соответствовать текстовое представление
// значения, чтобы ALTER COLUMN ... USING CAST прошел без ошибки.
var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	realPattern    = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	boolPattern    = regexp.MustCompile(`(?i)^(0|1|true|false|t|f)$`)
)

// Диапазоны целочисленных типов в БД
const (
	maxInteger = math.MaxInt32
	minInteger = math.MinInt32
)

// InvalidForCast возвращает значения, которые не переживут приведение к типу target.
// Порядок значений сохраняется; дубликаты не удаляются (на вход обычно подаются
// DISTINCT-значения колонки).
func InvalidForCast(values []any, target DataType) []any {
	var bad []any
	for _, v := range values {
		if isNull(v) {
			continue
		}
		if !castable(v, target) {
			bad = append(bad, v)
		}
	}
	return bad
}

func castable(v any, target DataType) bool {
	s := strings.TrimSpace(coerceText(v))
	switch NormalizeType(target) {
	case TypeInteger:
		if !integerPattern.MatchString(s) {
			return false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return err == nil && n >= minInteger && n <= maxInteger
	case TypeBigint:
		if !integerPattern.MatchString(s) {
			return false
		}
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	case TypeReal:
		return realPattern.MatchString(s)
	case TypeDecimal:
		if !realPattern.MatchString(s) {
			return false
		}
		_, err := NewConverter().parseDecimal(&TypedValue{RawValue: s}, FieldDef{Type: TypeDecimal})
		return err == nil
	case TypeBoolean:
		if _, ok := v.(bool); ok {
			return true
		}
		return boolPattern.MatchString(s)
	case TypeDate, TypeDatetime, TypeTimestamp:
		if _, err := coerceTime(v); err == nil {
			return true
		}
		return false
	case TypeText, TypeCategory, TypeBlob:
		return true
	}
	return false
}

// CheckTransition проверяет, допустим ли переход типа колонки from -> to
func CheckTransition(from, to DataType) error {
	if !IsValidType(to) {
		return fmt.Errorf("unsupported target type %s", to)
	}
	if IsBlobType(from) != IsBlobType(to) {
		return fmt.Errorf("cannot convert %s to %s", from, to)
	}
	return nil
}

// IsBlobType проверяет является ли тип бинарным
func IsBlobType(t DataType) bool {
	return t == TypeBlob
}

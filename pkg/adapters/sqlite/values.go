package sqlite

import (
	"time"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// TimeLayout - текстовое представление времени в SQLite.
// Фиксированная ширина сохраняет лексикографический порядок.
const TimeLayout = "2006-01-02 15:04:05.000000000"

// normalizeArgs приводит параметры запроса к типам, которые SQLite хранит
// единообразно: время - UTC текст, bool - 0/1, NaN - NULL
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, v := range args {
		out[i] = normalizeArg(v)
	}
	return out
}

func normalizeArg(v any) any {
	if frame.IsNull(v) {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(TimeLayout)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// normalizeValue приводит значение из драйвера к типам Frame
func normalizeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, v := range args {
		switch x := v.(type) {
		case time.Time:
			out[i] = x.UTC()
		default:
			if frame.IsNull(v) {
				out[i] = nil
			} else {
				out[i] = v
			}
		}
	}
	return out
}

// normalizeValue приводит значение из pgx к типам Frame
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return v
}

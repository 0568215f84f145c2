package ledger

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus экспортирует дельты как счетчики строк.
// Счетчик не убывает, поэтому знак дельты уходит в метку direction (in/out).
type Prometheus struct {
	rows *prometheus.CounterVec
}

// NewPrometheus создает ledger и регистрирует счетчик в reg
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgestation_rows_total",
			Help: "Rows moved into (in) and out of (out) the store or backup files",
		},
		[]string{"process", "target", "direction"},
	)
	if err := reg.Register(rows); err != nil {
		return nil, err
	}
	return &Prometheus{rows: rows}, nil
}

func (p *Prometheus) Add(_ context.Context, d Delta) error {
	direction, n := "in", d.Count
	if n < 0 {
		direction, n = "out", -n
	}
	p.rows.WithLabelValues(strconv.FormatInt(d.ProcessID, 10), string(d.Target), direction).Add(float64(n))
	return nil
}

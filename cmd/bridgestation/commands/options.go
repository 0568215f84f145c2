package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ruslano69/bridgestation/pkg/config"
	"github.com/ruslano69/bridgestation/pkg/core/schema"
)

// Options - глобальные флаги bridgestation
type Options struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string

	cfg *config.Config
}

// Load читает конфигурацию и настраивает логирование
func (o *Options) Load() error {
	cfg, err := config.Load(o.ConfigPath, o.EnvFile)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := SetupLogging(cfg.Log); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// Config возвращает загруженную конфигурацию
func (o *Options) Config() *config.Config {
	return o.cfg
}

// withStation открывает станцию на время fn
func (o *Options) withStation(ctx context.Context, fn func(st *Station) error) error {
	if o.cfg == nil {
		if err := o.Load(); err != nil {
			return err
		}
	}
	st, err := Open(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("station close")
		}
	}()
	return fn(st)
}

// processIDs разбирает идентификаторы процессов; без аргументов - все процессы каталога
func processIDs(st *Station, args []string) ([]int64, error) {
	if len(args) == 0 {
		return st.Registry.IDs(), nil
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseProcessID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseProcessID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid process id %q", s)
	}
	return id, nil
}

// parseWindow разбирает границы окна --from/--to
func parseWindow(from, to string) (time.Time, time.Time, error) {
	start, err := schema.ParseTime(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	end, err := schema.ParseTime(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s must be after --from %s", to, from)
	}
	return start, end, nil
}

// Package commands реализует команды bridgestation поверх библиотек pkg/.
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	_ "github.com/ruslano69/bridgestation/pkg/adapters/postgres"
	_ "github.com/ruslano69/bridgestation/pkg/adapters/sqlite"
	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/backup"
	"github.com/ruslano69/bridgestation/pkg/config"
	"github.com/ruslano69/bridgestation/pkg/dedup"
	"github.com/ruslano69/bridgestation/pkg/ledger"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/ruslano69/bridgestation/pkg/retry"
	"github.com/ruslano69/bridgestation/pkg/store"
)

// Totals - ledger, умеющий отдать накопленный итог
type Totals interface {
	Total(ctx context.Context, processID int64, target ledger.Target) (int64, error)
}

// Station - собранная по конфигурации станция
type Station struct {
	Config   *config.Config
	Backend  adapters.Backend
	Registry *process.Registry
	Resolver *process.StaticResolver
	Ledger   ledger.Ledger
	Totals   Totals
	Audit    audit.Logger
	Metrics  *prometheus.Registry

	overlap *audit.OverlapCSV
	closers []func() error
	stores  map[int64]*store.Store
}

// Open подключается к БД и собирает учет строк, журнал и метрики
func Open(ctx context.Context, cfg *config.Config) (*Station, error) {
	st := &Station{Config: cfg, Audit: audit.Nop{}, stores: make(map[int64]*store.Store)}
	if err := st.open(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func (st *Station) open(ctx context.Context) error {
	cfg := st.Config
	var err error

	st.Registry, st.Resolver, err = cfg.Catalog.Build()
	if err != nil {
		return fmt.Errorf("process catalog: %w", err)
	}

	st.Metrics = prometheus.NewRegistry()
	st.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := ledger.NewPrometheus(st.Metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	switch cfg.Ledger.Kind {
	case "redis":
		opts := []ledger.RedisOption{ledger.WithPrefix(cfg.Ledger.Prefix)}
		if cfg.Ledger.Publish {
			opts = append(opts, ledger.WithPublish())
		}
		r, err := ledger.DialRedis(ctx, cfg.Ledger.Addr, cfg.Ledger.Password, cfg.Ledger.DB, opts...)
		if err != nil {
			return err
		}
		st.closers = append(st.closers, r.Close)
		st.Ledger, st.Totals = ledger.Multi{r, prom}, r
	default:
		m := ledger.NewMemory()
		st.Ledger, st.Totals = ledger.Multi{m, prom}, m
	}

	if cfg.Audit.Enabled {
		if err := st.openAudit(); err != nil {
			return err
		}
	}

	st.Backend, err = adapters.New(ctx, cfg.Database.Adapter())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	st.closers = append(st.closers, func() error { return st.Backend.Close(context.Background()) })
	return nil
}

func (st *Station) openAudit() error {
	cfg := st.Config.Audit
	level, err := audit.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	var appenders audit.MultiAppender
	if cfg.File != "" {
		fa, err := audit.NewFileAppender(cfg.File, level, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return err
		}
		appenders = append(appenders, fa)
	}
	if cfg.Console {
		appenders = append(appenders, audit.NewLogAppender(log.Logger, level))
	}
	if len(appenders) > 0 {
		a := audit.NewLogger(appenders, cfg.Config)
		st.Audit = a
		st.closers = append(st.closers, a.Close)
	}
	if cfg.OverlapCSV != "" {
		st.overlap, err = audit.NewOverlapCSV(cfg.OverlapCSV)
		if err != nil {
			return err
		}
		st.closers = append(st.closers, st.overlap.Close)
	}
	return nil
}

// Engine собирает движок сверки станции
func (st *Station) Engine() *dedup.Engine {
	opts := []dedup.Option{dedup.WithLogger(log.Logger)}
	if st.overlap != nil {
		opts = append(opts, dedup.WithOverlapSink(st.overlap))
	}
	return dedup.NewEngine(st.Resolver, opts...)
}

// Store возвращает хранилище процесса; таблица создается или эволюционирует
// при первом обращении
func (st *Station) Store(ctx context.Context, processID int64) (*store.Store, error) {
	if s, ok := st.stores[processID]; ok {
		return s, nil
	}
	s, _, err := st.Evolve(ctx, processID)
	return s, err
}

// Evolve приводит таблицу процесса к его текущей схеме
func (st *Station) Evolve(ctx context.Context, processID int64) (*store.Store, *store.EvolveReport, error) {
	s, ok := st.stores[processID]
	if !ok {
		schema, err := st.Registry.Schema(ctx, processID)
		if err != nil {
			return nil, nil, err
		}
		s, err = store.New(st.Backend, schema,
			store.WithEngine(st.Engine()),
			store.WithLedger(st.Ledger),
			store.WithLogger(log.Logger))
		if err != nil {
			return nil, nil, err
		}
	}
	report, err := s.CreateOrEvolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	st.stores[processID] = s
	return s, report, nil
}

// Files открывает хранилище файлов резервных копий
func (st *Station) Files(ctx context.Context) (backup.FileStore, error) {
	b := st.Config.Backup
	codec := backup.NewCodec(b.CompressionLevel)
	if b.Kind == "s3" {
		opts := []backup.S3Option{backup.WithS3Codec(codec), backup.WithRegion(b.Region), backup.WithEndpoint(b.Endpoint)}
		if b.AccessKey != "" {
			opts = append(opts, backup.WithStaticCredentials(b.AccessKey, b.SecretKey))
		}
		if b.PartSizeMB > 0 {
			opts = append(opts, backup.WithPartSize(int64(b.PartSizeMB)<<20))
		}
		return backup.NewS3Store(ctx, b.Bucket, b.Prefix, opts...)
	}
	return backup.NewDirStore(b.Root, backup.WithDirCodec(codec))
}

// Retryer создает Retryer для суток резервного копирования
func (st *Station) Retryer() (*retry.Retryer, error) {
	r, err := retry.NewRetryer(st.Config.Retry,
		retry.WithLogger(log.Logger),
		retry.WithNonRetryable(process.IsConfigError))
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, r.Close)
	return r, nil
}

// ServeMetrics публикует /metrics, пока ctx не отменен
func (st *Station) ServeMetrics(ctx context.Context) {
	addr := st.Config.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(st.Metrics, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// Close освобождает ресурсы в обратном порядке
func (st *Station) Close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	st.closers = nil
	return errors.Join(errs...)
}

// SetupLogging настраивает глобальный zerolog по конфигурации
func SetupLogging(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

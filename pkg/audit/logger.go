package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger - журнал операций
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	// Record пишет запись об операции, начатой в start, с итогом err
	Record(ctx context.Context, op Operation, processID int64, resource string, records int64, start time.Time, err error)
	Close() error
}

// Config - настройки AuditLogger
type Config struct {
	// Async - запись через буферизованный канал в фоновой горутине
	Async      bool `yaml:"async"`
	BufferSize int  `yaml:"buffer_size"`
	// User - оператор станции, подставляется в каждую запись
	User string `yaml:"user"`
}

// DefaultConfig возвращает асинхронную конфигурацию с буфером на 1000 записей
func DefaultConfig() Config {
	return Config{Async: true, BufferSize: 1000}
}

// AuditLogger рассылает записи в Appender
type AuditLogger struct {
	appender Appender
	config   Config
	logger   zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan *Entry
	wg      sync.WaitGroup
}

// Option настраивает AuditLogger
type Option func(*AuditLogger)

// WithLogger задает логгер ошибок записи
func WithLogger(l zerolog.Logger) Option {
	return func(a *AuditLogger) { a.logger = l }
}

// NewLogger создает журнал; в асинхронном режиме запускает фоновую запись
func NewLogger(appender Appender, config Config, opts ...Option) *AuditLogger {
	a := &AuditLogger{appender: appender, config: config, logger: log.Logger}
	for _, opt := range opts {
		opt(a)
	}
	if config.Async {
		size := config.BufferSize
		if size <= 0 {
			size = 1000
		}
		a.entries = make(chan *Entry, size)
		a.wg.Add(1)
		go a.run()
	}
	return a
}

func (a *AuditLogger) run() {
	defer a.wg.Done()
	for entry := range a.entries {
		a.write(context.Background(), entry)
	}
}

func (a *AuditLogger) write(ctx context.Context, entry *Entry) error {
	if err := a.appender.Append(ctx, entry); err != nil {
		a.logger.Error().Err(err).Str("operation", string(entry.Operation)).Msg("audit: append failed")
		return err
	}
	return nil
}

// Log пишет запись. В асинхронном режиме ждет места в буфере или отмены ctx.
func (a *AuditLogger) Log(ctx context.Context, entry *Entry) error {
	if entry.User == "" {
		entry.User = a.config.User
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("audit: logger closed")
	}
	if a.entries == nil {
		return a.write(ctx, entry)
	}
	select {
	case a.entries <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AuditLogger) Record(ctx context.Context, op Operation, processID int64, resource string, records int64, start time.Time, err error) {
	entry := NewEntry(op, StatusSuccess).
		WithProcess(processID).
		WithResource(resource).
		WithRecordsAffected(records).
		WithDuration(start).
		WithError(err)
	if lerr := a.Log(context.WithoutCancel(ctx), entry); lerr != nil {
		a.logger.Warn().Err(lerr).Str("operation", string(op)).Msg("audit: entry dropped")
	}
}

// Close дописывает буфер и закрывает appender
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.entries != nil {
		close(a.entries)
	}
	a.mu.Unlock()

	a.wg.Wait()
	return a.appender.Close()
}

// Nop - журнал, который ничего не пишет
type Nop struct{}

func (Nop) Log(context.Context, *Entry) error { return nil }

func (Nop) Record(context.Context, Operation, int64, string, int64, time.Time, error) {}

func (Nop) Close() error { return nil }

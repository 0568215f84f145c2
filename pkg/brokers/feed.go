package brokers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/packet"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/ruslano69/bridgestation/pkg/resilience"
	"github.com/ruslano69/bridgestation/pkg/store"
)

// ErrInvalidMessage - сообщение не является пакетом фида и не будет принято никогда
var ErrInvalidMessage = errors.New("brokers: invalid feed message")

// Importer импортирует партию транзакций процесса
type Importer interface {
	ImportData(ctx context.Context, batch *frame.Frame, dataSourceID int64) (store.ImportResult, error)
}

// StoreFunc возвращает Importer процесса из заголовка пакета
type StoreFunc func(ctx context.Context, processID int64) (Importer, error)

// IsPermanent сообщает, что повтор обработки сообщения не поможет
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, store.ErrInvalidValue) ||
		errors.Is(err, store.ErrNoEngine) ||
		process.IsConfigError(err)
}

// Feed читает пакеты фида из брокера и импортирует их. Сообщение
// подтверждается только после успешного импорта; постоянные ошибки
// отклоняют его, временные повторяют то же сообщение.
type Feed struct {
	broker     MessageBroker
	stores     StoreFunc
	breaker    *resilience.CircuitBreaker
	audit      audit.Logger
	logger     zerolog.Logger
	retryDelay time.Duration
}

// FeedOption настраивает Feed
type FeedOption func(*Feed)

// BreakerConfig настраивает breaker так, чтобы постоянные ошибки сообщений
// не размыкали цепь
func BreakerConfig(c resilience.Config) resilience.Config {
	c.IsFailure = func(err error) bool { return !IsPermanent(err) }
	return c
}

// WithBreaker задает Circuit Breaker вокруг импорта (см. BreakerConfig)
func WithBreaker(cb *resilience.CircuitBreaker) FeedOption {
	return func(f *Feed) { f.breaker = cb }
}

// WithAudit задает журнал операций
func WithAudit(a audit.Logger) FeedOption {
	return func(f *Feed) { f.audit = a }
}

func WithFeedLogger(l zerolog.Logger) FeedOption {
	return func(f *Feed) { f.logger = l }
}

// WithRetryDelay задает паузу перед повтором после временной ошибки
func WithRetryDelay(d time.Duration) FeedOption {
	return func(f *Feed) { f.retryDelay = d }
}

func NewFeed(broker MessageBroker, stores StoreFunc, opts ...FeedOption) *Feed {
	f := &Feed{
		broker:     broker,
		stores:     stores,
		audit:      audit.Nop{},
		logger:     log.Logger,
		retryDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle разбирает пакет фида и импортирует его строки
func (f *Feed) Handle(ctx context.Context, message []byte) (store.ImportResult, error) {
	var result store.ImportResult
	pkt, err := packet.NewParser().ParseBytes(message)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	h := pkt.Header
	if h.Type != packet.TypeFeed {
		return result, fmt.Errorf("%w: message type %q", ErrInvalidMessage, h.Type)
	}
	if h.ProcessID <= 0 || h.DataSourceID <= 0 {
		return result, fmt.Errorf("%w: process %d data source %d", ErrInvalidMessage, h.ProcessID, h.DataSourceID)
	}
	batch, err := pkt.ToFrame()
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	start := time.Now()
	imp, err := f.stores(ctx, h.ProcessID)
	if err == nil {
		result, err = imp.ImportData(ctx, batch, h.DataSourceID)
	}
	if err != nil && !IsPermanent(err) {
		// Временные ошибки не журналируются: сообщение будет обработано повторно
		return result, err
	}
	entry := audit.NewEntry(audit.OpFeed, audit.StatusSuccess).
		WithProcess(h.ProcessID).
		WithDataSource(h.DataSourceID).
		WithResource(h.MessageID).
		WithRecordsAffected(result.Counted).
		WithDuration(start).
		WithMetadata("rows", batch.Len()).
		WithError(err)
	if lerr := f.audit.Log(context.WithoutCancel(ctx), entry); lerr != nil {
		f.logger.Warn().Err(lerr).Msg("feed audit entry dropped")
	}
	return result, err
}

// Run обрабатывает сообщения до отмены ctx
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info().Str("broker", f.broker.Type()).Msg("feed started")
	defer f.logger.Info().Msg("feed stopped")

	for ctx.Err() == nil {
		msg, err := f.broker.Receive(ctx)
		switch {
		case errors.Is(err, ErrNoMessage):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Error().Err(err).Msg("feed receive failed")
			if !f.sleep(ctx, f.retryDelay) {
				return nil
			}
			continue
		}
		if err := f.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// process повторяет импорт сообщения до успеха, постоянной ошибки или отмены ctx
func (f *Feed) process(ctx context.Context, msg []byte) error {
	for {
		var result store.ImportResult
		err := f.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			result, err = f.Handle(ctx, msg)
			return err
		})

		switch {
		case err == nil:
			f.logger.Debug().Int64("inserted", result.Inserted).Int64("deleted", result.Deleted).Msg("feed message imported")
			if err := f.broker.Ack(ctx); err != nil {
				return fmt.Errorf("brokers: ack: %w", err)
			}
			return nil
		case IsPermanent(err):
			f.logger.Error().Err(err).Msg("feed message rejected")
			if err := f.broker.Reject(ctx); err != nil {
				return fmt.Errorf("brokers: reject: %w", err)
			}
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}

		if errors.Is(err, resilience.ErrCircuitOpen) {
			if err := f.breaker.WaitUntilReady(ctx); err != nil {
				return err
			}
			continue
		}
		f.logger.Warn().Err(err).Dur("retry_in", f.retryDelay).Msg("feed import failed")
		if !f.sleep(ctx, f.retryDelay) {
			return ctx.Err()
		}
	}
}

func (f *Feed) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Publish упаковывает партию в пакет фида и отправляет ее
func Publish(ctx context.Context, b MessageBroker, processID, dataSourceID int64, table string, batch *frame.Frame) error {
	pkt, err := packet.FromFrame(packet.TypeFeed, table, packet.FieldsOf(batch), batch)
	if err != nil {
		return fmt.Errorf("brokers: pack feed: %w", err)
	}
	pkt.Header.ProcessID = processID
	pkt.Header.DataSourceID = dataSourceID
	pkt.Header.Sender = "bridgestation"

	gen := packet.NewGenerator()
	if err := gen.Compress(pkt); err != nil {
		return fmt.Errorf("brokers: compress feed: %w", err)
	}
	data, err := gen.ToXML(pkt, false)
	if err != nil {
		return fmt.Errorf("brokers: marshal feed: %w", err)
	}
	return b.Send(ctx, data)
}

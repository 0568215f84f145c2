package brokers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka реализует MessageBroker поверх consumer group с ручным коммитом offset
type Kafka struct {
	config Config
	writer *kafka.Writer
	reader *kafka.Reader

	mu   sync.Mutex
	last *kafka.Message // Получено, но не закоммичено
}

// NewKafka проверяет конфигурацию; соединение открывает Connect
func NewKafka(cfg Config) (*Kafka, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("brokers: kafka topic is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers: at least one kafka broker address is required")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "bridgestation-feed"
	}
	return &Kafka{config: cfg}, nil
}

func (k *Kafka) Connect(ctx context.Context) error {
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(k.config.Brokers...),
		Topic:        k.config.Topic,
		Balancer:     &kafka.Hash{}, // Пакеты одного процесса - в одну партицию
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	k.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.config.Brokers,
		GroupID:        k.config.ConsumerGroup,
		Topic:          k.config.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // Ручной коммит
		StartOffset:    kafka.FirstOffset,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})

	return k.Ping(ctx)
}

func (k *Kafka) Close() error {
	var errs []error
	if k.writer != nil {
		if err := k.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("brokers: close kafka writer: %w", err))
		}
	}
	if k.reader != nil {
		if err := k.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("brokers: close kafka reader: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Send пишет пакет; ключ сообщения - key из SendKeyed или время отправки
func (k *Kafka) Send(ctx context.Context, message []byte) error {
	return k.SendKeyed(ctx, fmt.Appendf(nil, "bridgestation-%d", time.Now().UnixNano()), message)
}

// SendKeyed пишет пакет с ключом партиционирования
func (k *Kafka) SendKeyed(ctx context.Context, key, message []byte) error {
	if k.writer == nil {
		return fmt.Errorf("brokers: kafka not connected")
	}
	msg := kafka.Message{
		Key:   key,
		Value: message,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/xml")},
			{Key: "protocol", Value: []byte("tdtp")},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("brokers: kafka write: %w", err)
	}
	return nil
}

// Receive ждет следующее сообщение группы. Offset не коммитится до Ack/Reject.
func (k *Kafka) Receive(ctx context.Context) ([]byte, error) {
	if k.reader == nil {
		return nil, fmt.Errorf("brokers: kafka not connected")
	}
	msg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("brokers: kafka fetch: %w", err)
	}
	k.mu.Lock()
	k.last = &msg
	k.mu.Unlock()
	return msg.Value, nil
}

func (k *Kafka) Ack(ctx context.Context) error {
	return k.commit(ctx)
}

// Reject коммитит offset: в Kafka нет отрицательного подтверждения,
// и отклоненный пакет иначе блокировал бы партицию
func (k *Kafka) Reject(ctx context.Context) error {
	return k.commit(ctx)
}

func (k *Kafka) commit(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.last == nil {
		return fmt.Errorf("brokers: no kafka message to commit")
	}
	if err := k.reader.CommitMessages(ctx, *k.last); err != nil {
		return fmt.Errorf("brokers: kafka commit: %w", err)
	}
	k.last = nil
	return nil
}

// Ping проверяет, что первый брокер отвечает и знает topic
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("brokers: dial kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(k.config.Topic); err != nil {
		return fmt.Errorf("brokers: read kafka partitions: %w", err)
	}
	return nil
}

func (k *Kafka) Type() string { return "kafka" }

// Stats возвращает статистику reader и writer
func (k *Kafka) Stats() (readerStats kafka.ReaderStats, writerStats kafka.WriterStats) {
	if k.reader != nil {
		readerStats = k.reader.Stats()
	}
	if k.writer != nil {
		writerStats = k.writer.Stats()
	}
	return
}

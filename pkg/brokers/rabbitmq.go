package brokers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ реализует MessageBroker поверх basic.get с ручным подтверждением
type RabbitMQ struct {
	config  Config
	conn    *amqp.Connection
	channel *amqp.Channel

	// pollInterval - пауза перед ErrNoMessage при пустой очереди
	pollInterval time.Duration

	mu   sync.Mutex
	last *amqp.Delivery
}

// NewRabbitMQ проверяет конфигурацию и заполняет умолчания
func NewRabbitMQ(cfg Config) (*RabbitMQ, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("brokers: rabbitmq queue is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5672
		if cfg.UseTLS {
			cfg.Port = 5671
		}
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	return &RabbitMQ{config: cfg, pollInterval: time.Second}, nil
}

// URL возвращает строку подключения amqp:// или amqps://
func (r *RabbitMQ) URL() string {
	scheme := "amqp"
	if r.config.UseTLS {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s", scheme,
		url.UserPassword(r.config.User, r.config.Password).String(),
		r.config.Host, r.config.Port, url.PathEscape(r.config.VHost))
}

func (r *RabbitMQ) Connect(ctx context.Context) error {
	var err error
	if r.config.UseTLS {
		r.conn, err = amqp.DialTLS(r.URL(), &tls.Config{
			ServerName: r.config.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		r.conn, err = amqp.Dial(r.URL())
	}
	if err != nil {
		return fmt.Errorf("brokers: connect rabbitmq: %w", err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		r.conn.Close()
		return fmt.Errorf("brokers: open rabbitmq channel: %w", err)
	}

	// Объявление идемпотентно, если параметры совпадают с существующей очередью
	_, err = r.channel.QueueDeclare(r.config.Queue, r.config.Durable, r.config.AutoDelete, r.config.Exclusive, false, nil)
	if err != nil {
		r.channel.Close()
		r.conn.Close()
		return fmt.Errorf("brokers: declare queue %s: %w", r.config.Queue, err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("brokers: close rabbitmq channel: %w", err))
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("brokers: close rabbitmq connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *RabbitMQ) Send(ctx context.Context, message []byte) error {
	if r.channel == nil {
		return fmt.Errorf("brokers: rabbitmq not connected")
	}
	err := r.channel.PublishWithContext(ctx, "", r.config.Queue, false, false, amqp.Publishing{
		ContentType:  "application/xml",
		Body:         message,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("brokers: rabbitmq publish: %w", err)
	}
	return nil
}

// Receive забирает одно сообщение без auto-ack. Пустая очередь - пауза
// pollInterval и ErrNoMessage.
func (r *RabbitMQ) Receive(ctx context.Context) ([]byte, error) {
	if r.channel == nil {
		return nil, fmt.Errorf("brokers: rabbitmq not connected")
	}
	delivery, ok, err := r.channel.Get(r.config.Queue, false)
	if err != nil {
		return nil, fmt.Errorf("brokers: rabbitmq get: %w", err)
	}
	if !ok {
		timer := time.NewTimer(r.pollInterval)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil, ErrNoMessage
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	r.last = &delivery
	r.mu.Unlock()
	return delivery.Body, nil
}

func (r *RabbitMQ) Ack(context.Context) error {
	d, err := r.take()
	if err != nil {
		return err
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("brokers: rabbitmq ack: %w", err)
	}
	return nil
}

// Reject отклоняет сообщение без возврата в очередь; при настроенном
// dead-letter exchange оно уходит туда
func (r *RabbitMQ) Reject(context.Context) error {
	d, err := r.take()
	if err != nil {
		return err
	}
	if err := d.Nack(false, false); err != nil {
		return fmt.Errorf("brokers: rabbitmq nack: %w", err)
	}
	return nil
}

func (r *RabbitMQ) take() (*amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil, fmt.Errorf("brokers: no rabbitmq delivery to settle")
	}
	d := r.last
	r.last = nil
	return d, nil
}

func (r *RabbitMQ) Ping(context.Context) error {
	if r.conn == nil || r.conn.IsClosed() {
		return fmt.Errorf("brokers: rabbitmq not connected")
	}
	if r.channel == nil || r.channel.IsClosed() {
		return fmt.Errorf("brokers: rabbitmq channel not open")
	}
	return nil
}

func (r *RabbitMQ) Type() string { return "rabbitmq" }

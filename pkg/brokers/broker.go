// Package brokers доставляет TDTP-пакеты фида (V2, EFA, общий фид) из очередей
// Kafka и RabbitMQ и отправляет их туда.
package brokers

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoMessage - очередь пуста, Receive стоит повторить
var ErrNoMessage = errors.New("brokers: no messages available")

// MessageBroker - очередь с ручным подтверждением.
// Полученное сообщение остается в очереди до Ack или Reject.
type MessageBroker interface {
	Connect(ctx context.Context) error
	Close() error

	// Send отправляет тело сообщения (XML TDTP-пакета)
	Send(ctx context.Context, message []byte) error

	// Receive ждет следующее сообщение; пустая очередь - ErrNoMessage
	Receive(ctx context.Context) ([]byte, error)

	// Ack подтверждает последнее полученное сообщение
	Ack(ctx context.Context) error

	// Reject снимает последнее полученное сообщение с обработки без повтора
	Reject(ctx context.Context) error

	Ping(ctx context.Context) error

	// Type возвращает тип брокера (kafka, rabbitmq)
	Type() string
}

// Config - параметры подключения к брокеру
type Config struct {
	Type string `yaml:"type"` // kafka, rabbitmq

	// RabbitMQ
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
	VHost    string `yaml:"vhost"` // по умолчанию "/"
	UseTLS   bool   `yaml:"tls"`   // amqps://

	// Параметры очереди должны совпадать с уже объявленной очередью
	Durable    bool `yaml:"durable"`
	AutoDelete bool `yaml:"auto_delete"`
	Exclusive  bool `yaml:"exclusive"`

	// Kafka
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"` // по умолчанию "bridgestation-feed"
}

// Enabled сообщает, настроен ли брокер
func (c Config) Enabled() bool { return c.Type != "" }

// New создает MessageBroker по конфигурации
func New(cfg Config) (MessageBroker, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMQ(cfg)
	case "kafka":
		return NewKafka(cfg)
	default:
		return nil, fmt.Errorf("brokers: unsupported broker type %q (supported: kafka, rabbitmq)", cfg.Type)
	}
}

package retry

import (
	"fmt"
	"time"
)

// BackoffStrategy определяет стратегию задержки между повторами
type BackoffStrategy string

const (
	// BackoffConstant - постоянная задержка
	BackoffConstant BackoffStrategy = "constant"
	// BackoffLinear - линейное увеличение задержки
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential - экспоненциальное увеличение задержки
	BackoffExponential BackoffStrategy = "exponential"
)

// Config - настройки повтора единицы работы (день backup/restore, партия фида)
type Config struct {
	Enabled bool `yaml:"enabled"`

	// MaxAttempts - число попыток, включая первую. 0 - без ограничения.
	MaxAttempts int `yaml:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	BackoffStrategy   BackoffStrategy `yaml:"backoff"`
	BackoffMultiplier float64         `yaml:"multiplier"`

	// Jitter - доля случайного отклонения задержки (0.0 - 1.0)
	Jitter float64 `yaml:"jitter"`

	// RetryableErrors - подстроки текста ошибок, которые повторяются.
	// Пустой список - повторяются все ошибки, кроме неповторяемых.
	RetryableErrors []string `yaml:"retryable_errors"`

	// OnRetry вызывается перед каждой повторной попыткой
	OnRetry func(unit string, attempt int, err error, delay time.Duration) `yaml:"-"`

	DLQ DLQConfig `yaml:"dlq"`
}

// DLQConfig - настройки очереди единиц, исчерпавших попытки
type DLQConfig struct {
	Enabled bool `yaml:"enabled"`

	// FilePath - JSON-файл очереди. Пустой путь - очередь только в памяти.
	FilePath string `yaml:"file"`

	// MaxSize - максимальное число записей; старые записи вытесняются
	MaxSize int `yaml:"max_size"`

	RetentionPeriod time.Duration `yaml:"retention"`
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be >= 0, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay (%v) must be >= initial_delay (%v)", c.MaxDelay, c.InitialDelay)
	}

	switch c.BackoffStrategy {
	case BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("invalid backoff strategy: %s", c.BackoffStrategy)
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1.0 {
		return fmt.Errorf("jitter must be between 0.0 and 1.0, got %f", c.Jitter)
	}
	return nil
}

// DefaultConfig возвращает конфигурацию по умолчанию (повтор выключен)
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		DLQ: DLQConfig{
			FilePath:        "./dlq.json",
			MaxSize:         10000,
			RetentionPeriod: 7 * 24 * time.Hour,
		},
	}
}

// EnableRetry создает конфигурацию с включенным повтором
func EnableRetry(maxAttempts int, initialDelay time.Duration) Config {
	config := DefaultConfig()
	config.Enabled = true
	config.MaxAttempts = maxAttempts
	config.InitialDelay = initialDelay
	if config.MaxDelay < initialDelay {
		config.MaxDelay = initialDelay
	}
	return config
}

// EnableRetryWithDLQ создает конфигурацию с повтором и очередью в файле dlqPath
func EnableRetryWithDLQ(maxAttempts int, initialDelay time.Duration, dlqPath string) Config {
	config := EnableRetry(maxAttempts, initialDelay)
	config.DLQ.Enabled = true
	config.DLQ.FilePath = dlqPath
	return config
}

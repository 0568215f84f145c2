package resilience

import (
	"fmt"
	"time"
)

// Config - конфигурация Circuit Breaker
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Name - имя для логов
	Name string `yaml:"name"`

	// MaxFailures - число неудач подряд, после которого цепь размыкается
	MaxFailures uint32 `yaml:"max_failures"`

	// Timeout - время в Open перед пробным вызовом (Half-Open)
	Timeout time.Duration `yaml:"timeout"`

	// SuccessThreshold - успешных вызовов в Half-Open для замыкания
	SuccessThreshold uint32 `yaml:"success_threshold"`

	// IsFailure решает, считать ли ошибку отказом зависимости.
	// nil - любая ошибка, кроме отмены контекста.
	IsFailure func(err error) bool `yaml:"-"`
}

// Counts - счетчики вызовов текущего поколения
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Validate проверяет конфигурацию и заполняет умолчания
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxFailures == 0 {
		return fmt.Errorf("resilience: max_failures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("resilience: timeout must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.Name == "" {
		c.Name = "circuit-breaker"
	}
	return nil
}

// DefaultConfig возвращает включенную конфигурацию с умеренными порогами
func DefaultConfig(name string) Config {
	return Config{
		Enabled:          true,
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Package config загружает конфигурацию станции (bridgestation.yaml):
// подключение к БД, каталог процессов, хранилище резервных копий, учет строк,
// повтор, журнал операций, брокер фида и логирование.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/bridgestation/pkg/adapters"
	"github.com/ruslano69/bridgestation/pkg/audit"
	"github.com/ruslano69/bridgestation/pkg/brokers"
	"github.com/ruslano69/bridgestation/pkg/process"
	"github.com/ruslano69/bridgestation/pkg/resilience"
	"github.com/ruslano69/bridgestation/pkg/retry"
)

// EnvPrefix - префикс переменных окружения, переопределяющих файл
const EnvPrefix = "BRIDGESTATION_"

// Config - конфигурация станции
type Config struct {
	Database DatabaseConfig `yaml:"database"`

	// Каталог процессов и источников данных; в файле лежит на верхнем уровне
	process.Catalog `yaml:",inline"`

	Backup  BackupConfig      `yaml:"backup"`
	Ledger  LedgerConfig      `yaml:"ledger"`
	Retry   retry.Config      `yaml:"retry"`
	Audit   AuditConfig       `yaml:"audit"`
	Broker  brokers.Config    `yaml:"broker"`
	Breaker resilience.Config `yaml:"breaker"`
	Log     LogConfig         `yaml:"log"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

// DatabaseConfig - подключение к хранилищу транзакций
type DatabaseConfig struct {
	Type     string        `yaml:"type"` // sqlite, postgres
	DSN      string        `yaml:"dsn"`
	Schema   string        `yaml:"schema"` // только postgres
	Timeout  time.Duration `yaml:"timeout"`
	MaxConns int           `yaml:"max_conns"`
	MinConns int           `yaml:"min_conns"`
}

// Adapter возвращает конфигурацию backend'а
func (d DatabaseConfig) Adapter() adapters.Config {
	return adapters.Config{
		Type:     d.Type,
		DSN:      d.DSN,
		Schema:   d.Schema,
		Timeout:  d.Timeout,
		MaxConns: d.MaxConns,
		MinConns: d.MinConns,
	}
}

// BackupConfig - хранилище файлов резервных копий
type BackupConfig struct {
	Kind string `yaml:"kind"` // dir, s3

	Root string `yaml:"root"` // dir

	Bucket     string `yaml:"bucket"` // s3
	Prefix     string `yaml:"prefix"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"` // S3-совместимое хранилище (MinIO)
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	PartSizeMB int    `yaml:"part_size_mb"` // часть multipart-загрузки; 0 - по умолчанию

	CompressionLevel int `yaml:"compression_level"` // zstd 1-19; 0 - по умолчанию
}

// LedgerConfig - учет строк по часам
type LedgerConfig struct {
	Kind string `yaml:"kind"` // memory, redis

	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Publish  bool   `yaml:"publish"` // PUBLISH каждой дельты
}

// AuditConfig - журнал операций и файл точных дубликатов
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Level      string `yaml:"level"` // minimal, standard
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Console    bool   `yaml:"console"`
	OverlapCSV string `yaml:"overlap_csv"`

	audit.Config `yaml:",inline"`
}

// LogConfig - вывод zerolog
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// MetricsConfig - HTTP-эндпоинт Prometheus
type MetricsConfig struct {
	Addr string `yaml:"addr"` // пусто - метрики не публикуются
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Type = "sqlite"
	cfg.Database.DSN = "file:bridgestation.db"
	cfg.Database.Timeout = 30 * time.Second
	cfg.Database.MaxConns = 10
	cfg.Backup.Kind = "dir"
	cfg.Backup.Root = "./backup"
	cfg.Ledger.Kind = "memory"
	cfg.Ledger.Prefix = "bridgestation:ledger"
	cfg.Retry = retry.DefaultConfig()
	cfg.Audit.Level = "standard"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 5
	cfg.Audit.Config = audit.DefaultConfig()
	cfg.Breaker = resilience.DefaultConfig("feed")
	cfg.Breaker.Enabled = false
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// Load читает path поверх умолчаний. Перед этим загружается envFile
// (отсутствующий ".env" пропускается), затем переменные BRIDGESTATION_*
// переопределяют значения файла.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !(envFile == ".env" && errors.Is(err, fs.ErrNotExist)) {
				return nil, fmt.Errorf("config: load env %q: %w", envFile, err)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Parse разбирает YAML поверх умолчаний и применяет переменные окружения
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DB_TYPE":         &c.Database.Type,
		"DB_DSN":          &c.Database.DSN,
		"REDIS_ADDR":      &c.Ledger.Addr,
		"REDIS_PASSWORD":  &c.Ledger.Password,
		"S3_BUCKET":       &c.Backup.Bucket,
		"S3_ACCESS_KEY":   &c.Backup.AccessKey,
		"S3_SECRET_KEY":   &c.Backup.SecretKey,
		"BROKER_PASSWORD": &c.Broker.Password,
		"LOG_LEVEL":       &c.Log.Level,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.Ledger.DB = db
	}
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok {
		c.Broker.Brokers = strings.Split(v, ",")
	}
	return nil
}

// Validate проверяет перечислимые поля и вложенные конфигурации
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Backup.Kind {
	case "dir":
		if c.Backup.Root == "" {
			return fmt.Errorf("backup.root is required for kind dir")
		}
	case "s3":
		if c.Backup.Bucket == "" {
			return fmt.Errorf("backup.bucket is required for kind s3")
		}
	default:
		return fmt.Errorf("backup.kind %q is not supported (dir, s3)", c.Backup.Kind)
	}
	if l := c.Backup.CompressionLevel; l < 0 || l > 19 {
		return fmt.Errorf("backup.compression_level %d is out of range (1-19, 0 for default)", l)
	}
	switch c.Ledger.Kind {
	case "memory":
	case "redis":
		if c.Ledger.Addr == "" {
			return fmt.Errorf("ledger.addr is required for kind redis")
		}
	default:
		return fmt.Errorf("ledger.kind %q is not supported (memory, redis)", c.Ledger.Kind)
	}
	if _, err := audit.ParseLevel(c.Audit.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q is not supported (console, json)", c.Log.Format)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return c.Breaker.Validate()
}

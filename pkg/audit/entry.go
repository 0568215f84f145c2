// Package audit записывает журнал операций станции (импорт, резервное
// копирование, восстановление, эволюция таблиц) через набор appender'ов
// и пары точных дубликатов в CSV.
package audit

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// Level - уровень детализации записи
type Level int

const (
	// LevelMinimal - без метаданных
	LevelMinimal Level = iota
	// LevelStandard - с метаданными
	LevelStandard
)

func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelStandard:
		return "standard"
	}
	return fmt.Sprintf("unknown(%d)", l)
}

// ParseLevel разбирает уровень из конфигурации; пусто - standard
func ParseLevel(s string) (Level, error) {
	switch s {
	case "minimal":
		return LevelMinimal, nil
	case "", "standard":
		return LevelStandard, nil
	}
	return 0, fmt.Errorf("audit: unknown level %q", s)
}

// Operation - тип операции
type Operation string

const (
	OpImport    Operation = "import"
	OpFeed      Operation = "feed"
	OpBackup    Operation = "backup"
	OpRestore   Operation = "restore"
	OpEvolve    Operation = "evolve"
	OpReindex   Operation = "reindex"
	OpCast      Operation = "cast"
	OpPartition Operation = "partition"
)

// Status - итог операции
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Entry - запись журнала
type Entry struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Operation       Operation      `json:"operation"`
	Status          Status         `json:"status"`
	User            string         `json:"user,omitempty"`
	ProcessID       int64          `json:"process_id,omitempty"`
	DataSourceID    int64          `json:"data_source_id,omitempty"`
	Resource        string         `json:"resource,omitempty"` // Файл, ключ суток, таблица
	RecordsAffected int64          `json:"records_affected,omitempty"`
	Duration        time.Duration  `json:"duration,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewEntry создает запись с текущим временем
func NewEntry(operation Operation, status Status) *Entry {
	return &Entry{
		ID:        generateID(),
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Status:    status,
	}
}

func (e *Entry) WithProcess(processID int64) *Entry {
	e.ProcessID = processID
	return e
}

func (e *Entry) WithDataSource(dataSourceID int64) *Entry {
	e.DataSourceID = dataSourceID
	return e
}

func (e *Entry) WithResource(resource string) *Entry {
	e.Resource = resource
	return e
}

func (e *Entry) WithRecordsAffected(count int64) *Entry {
	e.RecordsAffected = count
	return e
}

// WithDuration задает длительность от start до текущего момента
func (e *Entry) WithDuration(start time.Time) *Entry {
	e.Duration = time.Since(start)
	return e
}

// WithError переводит запись в failure, если err не nil
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.ErrorMessage = err.Error()
		e.Status = StatusFailure
	}
	return e
}

func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Entry) String() string {
	s := fmt.Sprintf("[%s] %s %s process=%d resource=%s records=%d duration=%v",
		e.Timestamp.Format(time.RFC3339), e.Operation, e.Status,
		e.ProcessID, e.Resource, e.RecordsAffected, e.Duration)
	if e.ErrorMessage != "" {
		s += " error=" + e.ErrorMessage
	}
	return s
}

// FilterByLevel возвращает копию записи с полями уровня level
func (e *Entry) FilterByLevel(level Level) *Entry {
	out := *e
	out.Metadata = maps.Clone(e.Metadata)
	if level == LevelMinimal {
		out.Metadata = nil
	}
	return &out
}

var idSeq atomic.Uint64

func generateID() string {
	return fmt.Sprintf("audit-%d-%d", time.Now().UnixNano(), idSeq.Add(1))
}

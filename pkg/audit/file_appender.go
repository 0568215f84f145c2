package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileAppender пишет записи в файл по одной JSON-строке и ротирует его по размеру
type FileAppender struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	size       int64
	maxSize    int64 // байт; 0 - без ротации
	maxBackups int
	level      Level
	closed     bool
}

// NewFileAppender открывает (или создает) файл журнала.
// maxSizeMB = 0 отключает ротацию.
func NewFileAppender(path string, level Level, maxSizeMB, maxBackups int) (*FileAppender, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create dir: %w", err)
		}
	}
	fa := &FileAppender{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		level:      level,
	}
	if err := fa.open(); err != nil {
		return nil, err
	}
	return fa, nil
}

func (fa *FileAppender) open() error {
	f, err := os.OpenFile(fa.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", fa.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("audit: stat %s: %w", fa.path, err)
	}
	fa.file = f
	fa.size = info.Size()
	return nil
}

func (fa *FileAppender) Append(_ context.Context, entry *Entry) error {
	data, err := entry.FilterByLevel(fa.level).ToJSON()
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	data = append(data, '\n')

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.closed {
		return fmt.Errorf("audit: file appender closed")
	}
	if fa.maxSize > 0 && fa.size+int64(len(data)) > fa.maxSize && fa.size > 0 {
		if err := fa.rotate(); err != nil {
			return err
		}
	}
	n, err := fa.file.Write(data)
	fa.size += int64(n)
	if err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

// rotate сдвигает path.N -> path.N+1 и открывает новый файл; вызывается под mu
func (fa *FileAppender) rotate() error {
	if err := fa.file.Close(); err != nil {
		return fmt.Errorf("audit: close for rotation: %w", err)
	}
	if fa.maxBackups > 0 {
		os.Remove(fmt.Sprintf("%s.%d", fa.path, fa.maxBackups))
		for i := fa.maxBackups - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", fa.path, i), fmt.Sprintf("%s.%d", fa.path, i+1))
		}
		if err := os.Rename(fa.path, fa.path+".1"); err != nil {
			return fmt.Errorf("audit: rotate: %w", err)
		}
	} else if err := os.Truncate(fa.path, 0); err != nil {
		return fmt.Errorf("audit: truncate: %w", err)
	}
	return fa.open()
}

func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.closed {
		return nil
	}
	fa.closed = true
	return fa.file.Close()
}

// LogAppender пишет записи в zerolog-логгер
type LogAppender struct {
	logger zerolog.Logger
	level  Level
}

func NewLogAppender(logger zerolog.Logger, level Level) *LogAppender {
	return &LogAppender{logger: logger, level: level}
}

func (la *LogAppender) Append(_ context.Context, entry *Entry) error {
	e := entry.FilterByLevel(la.level)
	ev := la.logger.Info()
	if e.Status == StatusFailure {
		ev = la.logger.Error().Str("error", e.ErrorMessage)
	}
	ev = ev.Str("audit_id", e.ID).
		Str("operation", string(e.Operation)).
		Str("status", string(e.Status)).
		Time("at", e.Timestamp)
	if e.ProcessID != 0 {
		ev = ev.Int64("process_id", e.ProcessID)
	}
	if e.DataSourceID != 0 {
		ev = ev.Int64("data_source_id", e.DataSourceID)
	}
	if e.Resource != "" {
		ev = ev.Str("resource", e.Resource)
	}
	if e.Duration > 0 {
		ev = ev.Dur("duration", e.Duration.Round(time.Millisecond))
	}
	if len(e.Metadata) > 0 {
		ev = ev.Fields(e.Metadata)
	}
	ev.Int64("records", e.RecordsAffected).Msg("audit")
	return nil
}

func (la *LogAppender) Close() error { return nil }

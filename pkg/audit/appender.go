package audit

import (
	"context"
	"errors"
)

// Appender - получатель записей журнала
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
	Close() error
}

// MultiAppender пишет запись во все appender'ы.
// Ошибка одного не останавливает запись в остальные.
type MultiAppender []Appender

func (m MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, a := range m {
		if err := a.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiAppender) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

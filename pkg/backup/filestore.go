package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// FileStore - хранилище файлов резервных копий
type FileStore interface {
	// Read возвращает строки файла; (nil, nil), если файла нет
	Read(ctx context.Context, key Key) (*frame.Frame, error)
	// Write заменяет содержимое файла
	Write(ctx context.Context, key Key, f *frame.Frame) error
	// Delete удаляет файл; отсутствие файла не ошибка
	Delete(ctx context.Context, key Key) error
}

// DirStore хранит файлы в локальном каталоге
type DirStore struct {
	root  string
	codec *Codec
}

// DirOption настраивает DirStore
type DirOption func(*DirStore)

// WithDirCodec задает кодек файлов
func WithDirCodec(c *Codec) DirOption {
	return func(d *DirStore) { d.codec = c }
}

// NewDirStore создает хранилище в каталоге root
func NewDirStore(root string, opts ...DirOption) (*DirStore, error) {
	if root == "" {
		return nil, fmt.Errorf("backup: directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create %s: %w", root, err)
	}
	d := &DirStore{root: root, codec: NewCodec(0)}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *DirStore) path(key Key) string {
	return filepath.Join(d.root, filepath.FromSlash(key.Path()))
}

func (d *DirStore) Read(_ context.Context, key Key) (*frame.Frame, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", key, err)
	}
	return d.codec.Decode(key, data)
}

// Write пишет во временный файл и переименовывает его поверх старого
func (d *DirStore) Write(_ context.Context, key Key, f *frame.Frame) error {
	data, err := d.codec.Encode(key, f)
	if err != nil {
		return err
	}
	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("backup: write %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("backup: write %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("backup: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backup: write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("backup: write %s: %w", key, err)
	}
	return nil
}

func (d *DirStore) Delete(_ context.Context, key Key) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("backup: delete %s: %w", key, err)
	}
	return nil
}

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/bridgestation/pkg/mergeflag"
)

// Ошибки конфигурации. Они фатальны для операции и не повторяются.
var (
	ErrUnknownProcess    = errors.New("process: unknown process")
	ErrNoGetDate         = errors.New("process: no get-date column")
	ErrInvalidSchema     = errors.New("process: invalid schema")
	ErrUnknownDataSource = errors.New("process: data source has no resolvable category")
)

// IsConfigError сообщает, что err - ошибка конфигурации
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownProcess) ||
		errors.Is(err, ErrNoGetDate) ||
		errors.Is(err, ErrInvalidSchema) ||
		errors.Is(err, ErrUnknownDataSource) ||
		errors.Is(err, mergeflag.ErrUnknownMasterType)
}

// Provider возвращает схему процесса по id
type Provider interface {
	Schema(ctx context.Context, id int64) (*Schema, error)
}

// CategoryResolver возвращает категорию источника мастер-данных
type CategoryResolver interface {
	Category(ctx context.Context, dataSourceID int64) (mergeflag.MasterType, error)
}

// Registry - Provider поверх набора схем в памяти
type Registry struct {
	mu      sync.RWMutex
	schemas map[int64]*Schema
}

// NewRegistry создает реестр и проверяет все схемы и связи между ними
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[int64]*Schema, len(schemas))}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.schemas[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate process id %d", ErrInvalidSchema, s.ID)
		}
		r.schemas[s.ID] = s
	}

	for _, s := range r.schemas {
		for _, tr := range s.Traces {
			target, ok := r.schemas[tr.Target]
			if !ok {
				return nil, fmt.Errorf("process %d: trace target %d: %w", s.ID, tr.Target, ErrUnknownProcess)
			}
			for _, k := range tr.Keys {
				if _, ok := target.Column(k.Target); !ok {
					return nil, fmt.Errorf("%w: process %d trace references unknown column %q of process %d",
						ErrInvalidSchema, s.ID, k.Target, tr.Target)
				}
			}
		}
	}
	return r, nil
}

// Schema возвращает копию схемы с заполненными входящими связями
func (r *Registry) Schema(_ context.Context, id int64) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("process %d: %w", id, ErrUnknownProcess)
	}

	out := *s
	out.Columns = append([]Column(nil), s.Columns...)
	out.Traces = make([]Trace, len(s.Traces))
	for i, tr := range s.Traces {
		tr.Source = s.ID
		out.Traces[i] = tr
	}
	out.Inbound = nil
	for _, srcID := range r.idsLocked() {
		for _, tr := range r.schemas[srcID].Traces {
			if tr.Target == id {
				tr.Source = srcID
				out.Inbound = append(out.Inbound, tr)
			}
		}
	}
	return &out, nil
}

// IDs возвращает идентификаторы процессов по возрастанию
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []int64 {
	ids := make([]int64, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Put заменяет или добавляет схему процесса
func (r *Registry) Put(s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID] = s
	return nil
}

// DataSource - источник мастер-данных и его категория
type DataSource struct {
	ID       int64                `yaml:"id"`
	Name     string               `yaml:"name"`
	Category mergeflag.MasterType `yaml:"category"`
}

// StaticResolver - CategoryResolver из фиксированной таблицы
type StaticResolver struct {
	categories map[int64]mergeflag.MasterType
}

// NewStaticResolver создает resolver и проверяет категории
func NewStaticResolver(sources ...DataSource) (*StaticResolver, error) {
	r := &StaticResolver{categories: make(map[int64]mergeflag.MasterType, len(sources))}
	for _, ds := range sources {
		if _, err := mergeflag.RoleOf(ds.Category); err != nil {
			return nil, fmt.Errorf("data source %d: %w", ds.ID, err)
		}
		r.categories[ds.ID] = ds.Category
	}
	return r, nil
}

// Category возвращает категорию источника
func (r *StaticResolver) Category(_ context.Context, dataSourceID int64) (mergeflag.MasterType, error) {
	mt, ok := r.categories[dataSourceID]
	if !ok {
		return "", fmt.Errorf("data source %d: %w", dataSourceID, ErrUnknownDataSource)
	}
	return mt, nil
}

// Catalog - YAML-описание процессов и источников данных
type Catalog struct {
	Processes   []*Schema    `yaml:"processes"`
	DataSources []DataSource `yaml:"data_sources"`
}

// LoadCatalog читает каталог из YAML-файла
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("process: read %q: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog разбирает каталог из YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("process: parse catalog: %w", err)
	}
	return &c, nil
}

// Build создает Registry и StaticResolver каталога
func (c *Catalog) Build() (*Registry, *StaticResolver, error) {
	reg, err := NewRegistry(c.Processes...)
	if err != nil {
		return nil, nil, err
	}
	res, err := NewStaticResolver(c.DataSources...)
	if err != nil {
		return nil, nil, err
	}
	return reg, res, nil
}

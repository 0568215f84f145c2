package adapters

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// BackendConstructor возвращает новый, еще не подключенный backend
type BackendConstructor func() Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]BackendConstructor{}
)

// Register регистрирует backend для типа СУБД.
// Вызывается из init() пакетов адаптеров:
//
//	func init() {
//	    adapters.Register("sqlite", func() adapters.Backend { return &Adapter{} })
//	}
func Register(dbType string, constructor BackendConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[dbType] = constructor
}

// Registered возвращает отсортированный список зарегистрированных типов
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// New создает backend по cfg.Type и подключает его
//
//	backend, err := adapters.New(ctx, adapters.Config{Type: "sqlite", DSN: "file:station.db"})
//	if err != nil {
//	    return err
//	}
//	defer backend.Close(ctx)
func New(ctx context.Context, cfg Config) (Backend, error) {
	registryMu.RLock()
	constructor, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database type: %s (available types: %v)", cfg.Type, Registered())
	}

	backend := constructor()
	if err := backend.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Type, err)
	}
	return backend, nil
}

package storage

import (
	"fmt"
	"sort"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
)

// FactoryFunc builds a backend from the application config.
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the backend named by storage.default_backend.
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %q (registered: %v)", cfg.Storage.DefaultBackend, Backends())
	}
	return factory(cfg)
}

package output

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Factory creates an output from driver-specific configuration
type Factory interface {
	Create(config map[string]interface{}) (Output, error)
	ValidateConfig(config map[string]interface{}) error
}

// Registry manages output driver factories
type Registry struct {
	drivers map[string]Factory
	mu      sync.RWMutex
}

// NewRegistry creates a new driver registry
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]Factory),
	}
}

// Register adds a driver factory to the registry
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDriverRegistered, name)
	}

	r.drivers[name] = factory
	return nil
}

func (r *Registry) factory(driverName string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.drivers[driverName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driverName)
	}
	return factory, nil
}

// Create creates an output using the specified driver
func (r *Registry) Create(driverName string, config map[string]interface{}) (Output, error) {
	factory, err := r.factory(driverName)
	if err != nil {
		return nil, err
	}
	return factory.Create(config)
}

// ValidateConfig validates configuration for the specified driver
func (r *Registry) ValidateConfig(driverName string, config map[string]interface{}) error {
	factory, err := r.factory(driverName)
	if err != nil {
		return err
	}
	return factory.ValidateConfig(config)
}

// ListDrivers returns the sorted names of all registered drivers
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default registry instance
var defaultRegistry = NewRegistry()

// Register adds a driver factory to the default registry
func Register(name string, factory Factory) error {
	return defaultRegistry.Register(name, factory)
}

// Create creates an output using the default registry
func Create(driverName string, config map[string]interface{}) (Output, error) {
	return defaultRegistry.Create(driverName, config)
}

// ValidateConfig validates configuration using the default registry
func ValidateConfig(driverName string, config map[string]interface{}) error {
	return defaultRegistry.ValidateConfig(driverName, config)
}

// ListDrivers returns the names of all registered drivers in the default registry
func ListDrivers() []string {
	return defaultRegistry.ListDrivers()
}

// DecodeConfig decodes a driver configuration map into out, rejecting unknown keys
func DecodeConfig(config map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDriverConf, err)
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDriverConf, err)
	}
	return nil
}

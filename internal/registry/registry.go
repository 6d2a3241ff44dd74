// Package registry loads and serves the process-wide, read-only
// TaskDescriptor registry: the mapping from a registered task name to the
// command template and defaults a submission renders into an sbatch
// invocation.
package registry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Descriptor is one task's registry entry.
type Descriptor struct {
	Cmd               string   `yaml:"cmd"`
	DefaultParams     []string `yaml:"default_params"`
	Description       string   `yaml:"description"`
	NotificationQueue string   `yaml:"notification_queue"`
}

// Registry is an immutable, process-wide map from task name to Descriptor.
// Safe for concurrent lock-free reads once constructed.
type Registry struct {
	tasks map[string]Descriptor
}

//go:embed default_registry.yaml
var defaultRegistryYAML []byte

// Default returns the built-in registry, carrying the single
// "echo_hello_world" smoke-test task.
func Default() (*Registry, error) {
	return parse(defaultRegistryYAML)
}

// Load reads a YAML registry file from path. An empty path loads the
// built-in default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task registry %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var tasks map[string]Descriptor
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse task registry: %w", err)
	}
	return &Registry{tasks: tasks}, nil
}

// Get returns the descriptor for name and whether it is registered.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.tasks[name]
	return d, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tasks[name]
	return ok
}

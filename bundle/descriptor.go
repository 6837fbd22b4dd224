package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DescriptorPath is the fixed location of the app descriptor inside an
// extracted bundle.
const DescriptorPath = "config/app.yaml"

// ErrConfig indicates a missing or malformed app descriptor.
var ErrConfig = errors.New("bundle: invalid app descriptor")

// Descriptor is the application descriptor embedded in a bundle. Immutable
// once parsed; one instance per running version.
type Descriptor struct {
	// Exec is the path of the app executable, relative to the extraction root.
	Exec string `yaml:"exec"`
	// Args are passed to the executable.
	Args []string `yaml:"args"`
	// Host is the primary hostname routed to this app.
	Host string `yaml:"host"`
	// Postgres requests database credentials in the app environment.
	Postgres bool `yaml:"postgres"`
	// SSL selects the https scheme for APPROOT.
	SSL bool `yaml:"ssl"`
	// ExtraHosts are additional hostnames routed to this app.
	ExtraHosts []string `yaml:"extra-hosts"`
}

// ParseDescriptor reads and validates the descriptor from an extracted bundle
// directory.
func ParseDescriptor(dir string) (*Descriptor, error) {
	raw, err := os.ReadFile(filepath.Join(dir, DescriptorPath))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, DescriptorPath, err)
	}

	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, DescriptorPath, err)
	}

	if desc.Exec == "" {
		return nil, fmt.Errorf("%w: missing required field 'exec'", ErrConfig)
	}
	if desc.Host == "" {
		return nil, fmt.Errorf("%w: missing required field 'host'", ErrConfig)
	}
	return &desc, nil
}

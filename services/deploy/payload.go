package deploy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest declares the payload pushed to every host. Files are uploaded in
// declaration order; Driver names the entry one of them that gets executed.
type Manifest struct {
	Driver string   `yaml:"driver"`
	Files  []string `yaml:"files"`
}

// DefaultManifest returns the stock IPL timing payload.
func DefaultManifest() Manifest {
	return Manifest{
		Driver: "main.sh",
		Files: []string{
			"ipld_calc.awk",
			"ipld_parsing.awk",
			"patterns",
			"main.sh",
			"methods.sh",
		},
	}
}

// LoadManifest reads and validates a payload manifest from path. An absent
// file falls back to DefaultManifest.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultManifest(), nil
		}
		return Manifest{}, fmt.Errorf("read payload manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse payload manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks the manifest is usable: at least one file, and the driver
// must be part of the uploaded set.
func (m Manifest) Validate() error {
	if len(m.Files) == 0 {
		return fmt.Errorf("payload manifest declares no files")
	}
	if m.Driver == "" {
		return fmt.Errorf("payload manifest missing driver")
	}
	for _, f := range m.Files {
		if f == m.Driver {
			return nil
		}
	}
	return fmt.Errorf("payload manifest driver %q not among files", m.Driver)
}

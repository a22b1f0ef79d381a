package schema

import (
	_ "embed"
	"io"

	yaml "gopkg.in/yaml.v2"
)

//go:embed catalogues.yaml
var defaultCatalogues []byte

// CatalogueInfo describes one datacloud catalogue: the name the service
// knows it by and the attribute name it is exposed under on a materialized
// entity (diamalbedo measurements surface as diameters).
type CatalogueInfo struct {
	Name      string `yaml:"name"`
	Attribute string `yaml:"attribute"`
}

type CatalogueConfig struct {
	Catalogues []CatalogueInfo `yaml:"catalogues"`
}

func LoadCatalogueConfig(data io.Reader) (*CatalogueConfig, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &CatalogueConfig{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}

func DefaultCatalogueConfig() *CatalogueConfig {
	cfg := &CatalogueConfig{}

	// The embedded registry is validated by tests, so a decode failure here
	// can not happen at runtime.
	if err := yaml.Unmarshal(defaultCatalogues, &cfg); err != nil {
		panic(err)
	}

	return cfg
}

// Attribute maps a catalogue name to its entity attribute name.
func (c *CatalogueConfig) Attribute(catalogue string) (string, bool) {
	for _, info := range c.Catalogues {
		if info.Name == catalogue {
			return info.Attribute, true
		}
	}

	return "", false
}

// Known reports whether a catalogue name (or its attribute alias) is known.
func (c *CatalogueConfig) Known(name string) bool {
	for _, info := range c.Catalogues {
		if info.Name == name || info.Attribute == name {
			return true
		}
	}

	return false
}

// Resolve maps either a catalogue name or its attribute alias back to the
// registry entry.
func (c *CatalogueConfig) Resolve(name string) (CatalogueInfo, bool) {
	for _, info := range c.Catalogues {
		if info.Name == name || info.Attribute == name {
			return info, true
		}
	}

	return CatalogueInfo{}, false
}

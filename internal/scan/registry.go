package scan

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all scan sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines a single source the scanner watches for opportunities.
type SourceConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // opportunity type tag, e.g. "saas", "content"
	BaseURL     string   `yaml:"base_url"`
	Cycles      []string `yaml:"cycles,omitempty"` // "quick", "full"; default both
	RevenueHint float64  `yaml:"revenue_hint,omitempty"`
	MaxPages    int      `yaml:"max_pages,omitempty"` // full scan only

	Selectors  SelectorConfig   `yaml:"selectors"`
	Pagination PaginationConfig `yaml:"pagination,omitempty"`
	Detail     DetailConfig     `yaml:"detail,omitempty"`
}

type SelectorConfig struct {
	Container string `yaml:"container"`
	Link      string `yaml:"link,omitempty"`
	LinkAttr  string `yaml:"link_attr,omitempty"` // default: href
	Title     string `yaml:"title"`
	Content   string `yaml:"content,omitempty"`
}

type PaginationConfig struct {
	Next string `yaml:"next,omitempty"` // CSS selector for the next page link
}

// DetailConfig enables following item links during full scans.
type DetailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description,omitempty"`
}

// InCycle reports whether the source participates in the given scan cycle.
func (c SourceConfig) InCycle(cycle string) bool {
	if len(c.Cycles) == 0 {
		return true
	}
	for _, want := range c.Cycles {
		if want == cycle {
			return true
		}
	}
	return false
}

// LoadRegistry reads the embedded sources.yaml, with a filesystem fallback
// for local development. Environment variables in the file are expanded.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}

	return &reg, nil
}

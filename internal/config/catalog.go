package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type catalogFile struct {
	Sources []domain.SourceSpec `yaml:"sources"`
}

// LoadCatalog reads the source catalog from a YAML file. An empty path
// selects the built-in catalog.
func LoadCatalog(path string) (*domain.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return domain.NewCatalog(domain.DefaultSources())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*domain.Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	catalog, err := domain.NewCatalog(file.Sources)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return catalog, nil
}
